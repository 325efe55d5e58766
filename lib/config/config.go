package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/depstore/lib/cache"
	"github.com/ValentinKolb/depstore/lib/compaction"
	"github.com/ValentinKolb/depstore/lib/depdb"
	"github.com/ValentinKolb/depstore/lib/libgraph"
	"github.com/ValentinKolb/depstore/lib/logging"
	"github.com/ValentinKolb/depstore/lib/store/bstore"
	"github.com/ValentinKolb/depstore/lib/taskexec"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of all environment variables, e.g. DEPSTORE_DATA_DIR
const EnvPrefix = "depstore"

// DefaultEnvFiles are loaded by Load when no files are given. Missing files
// are ignored; variables already set in the environment win.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Keys
const (
	KeyDataDir            = "data-dir"
	KeyBackend            = "backend"
	KeyLogLevel           = "log-level"
	KeyBoltOpenTimeout    = "bolt-open-timeout"
	KeyCacheBaseline      = "cache-baseline"
	KeyCacheIncrement     = "cache-increment"
	KeyCacheUnitMB        = "cache-unit-mb"
	KeyCacheMaxMultiplier = "cache-max-multiplier"
	KeyLibraryCache       = "library-cache"
	KeyExecutor           = "executor"
	KeyPoolSize           = "pool-size"
	KeyCompactHealthy     = "compaction-healthy"
	KeyCompactModerate    = "compaction-moderate"
	KeyCompactModBudget   = "compaction-moderate-budget"
	KeyCompactFullBudget  = "compaction-full-budget"
)

// --------------------------------------------------------------------------
// Configuration struct
// --------------------------------------------------------------------------

// Config holds all settings of a depstore process
type Config struct {
	// Storage
	DataDir         string
	Backend         depdb.Backend
	BoltOpenTimeout time.Duration

	// Logging
	LogLevel string

	// Caches
	Sizing       cache.Sizing
	LibraryCache int

	// Loader
	Executor taskexec.Strategy
	PoolSize int

	// Compaction
	Compaction compaction.Thresholds
}

func setDefaults(v *viper.Viper) {
	sizing := cache.DefaultSizing()
	thresholds := compaction.DefaultThresholds()

	v.SetDefault(KeyDataDir, ".depstore")
	v.SetDefault(KeyBackend, string(depdb.BackendBolt))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyBoltOpenTimeout, bstore.DefaultOptions().OpenTimeout)
	v.SetDefault(KeyCacheBaseline, sizing.Baseline)
	v.SetDefault(KeyCacheIncrement, sizing.Increment)
	v.SetDefault(KeyCacheUnitMB, sizing.Unit>>20)
	v.SetDefault(KeyCacheMaxMultiplier, sizing.MaxMultiplier)
	v.SetDefault(KeyLibraryCache, libgraph.DefaultOptions().CacheCapacity)
	v.SetDefault(KeyExecutor, taskexec.DefaultStrategy().String())
	v.SetDefault(KeyPoolSize, 0)
	v.SetDefault(KeyCompactHealthy, thresholds.Healthy)
	v.SetDefault(KeyCompactModerate, thresholds.Moderate)
	v.SetDefault(KeyCompactModBudget, thresholds.ModerateBudget)
	v.SetDefault(KeyCompactFullBudget, thresholds.FullBudget)
}

// Load reads the configuration from the environment after loading the
// given env files (DefaultEnvFiles if none are given)
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		DataDir:         v.GetString(KeyDataDir),
		Backend:         depdb.Backend(strings.ToLower(v.GetString(KeyBackend))),
		BoltOpenTimeout: v.GetDuration(KeyBoltOpenTimeout),
		LogLevel:        v.GetString(KeyLogLevel),
		Sizing: cache.Sizing{
			Baseline:      v.GetInt(KeyCacheBaseline),
			Increment:     v.GetInt(KeyCacheIncrement),
			Unit:          v.GetUint64(KeyCacheUnitMB) << 20,
			MaxMultiplier: v.GetInt(KeyCacheMaxMultiplier),
		},
		LibraryCache: v.GetInt(KeyLibraryCache),
		PoolSize:     v.GetInt(KeyPoolSize),
		Compaction: compaction.Thresholds{
			Healthy:        v.GetInt(KeyCompactHealthy),
			Moderate:       v.GetInt(KeyCompactModerate),
			ModerateBudget: v.GetDuration(KeyCompactModBudget),
			FullBudget:     v.GetDuration(KeyCompactFullBudget),
		},
	}

	var err error
	if c.Executor, err = taskexec.ParseStrategy(strings.ToLower(v.GetString(KeyExecutor))); err != nil {
		return nil, err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return nil, err
	}
	switch c.Backend {
	case depdb.BackendBolt, depdb.BackendMemory:
	default:
		return nil, fmt.Errorf("config: invalid backend %q, must be bolt or memory", c.Backend)
	}
	if c.Sizing.Unit == 0 {
		return nil, fmt.Errorf("config: %s must be positive", KeyCacheUnitMB)
	}
	if c.Compaction.Moderate > c.Compaction.Healthy {
		return nil, fmt.Errorf("config: %s (%d) exceeds %s (%d)",
			KeyCompactModerate, c.Compaction.Moderate, KeyCompactHealthy, c.Compaction.Healthy)
	}
	return c, nil
}

// --------------------------------------------------------------------------
// Conversion
// --------------------------------------------------------------------------

// DBOptions returns the options for depdb.Open
func (c *Config) DBOptions() depdb.Options {
	return depdb.Options{
		Backend:    c.Backend,
		Dir:        c.DataDir,
		Bolt:       &bstore.Options{OpenTimeout: c.BoltOpenTimeout},
		Compaction: c.Compaction,
		Sizing:     c.Sizing,
	}
}

// LoaderOptions returns the options for libgraph.NewLoader
func (c *Config) LoaderOptions() libgraph.Options {
	return libgraph.Options{
		Strategy:      c.Executor,
		PoolSize:      c.PoolSize,
		CacheCapacity: c.LibraryCache,
	}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Backend", string(c.Backend))
	if c.Backend == depdb.BackendBolt {
		addField("Data Directory", c.DataDir)
		addField("Open Timeout", c.BoltOpenTimeout.String())
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Caches")
	addField("Baseline", fmt.Sprintf("%d entries", c.Sizing.Baseline))
	addField("Increment", fmt.Sprintf("%d entries per %d MB", c.Sizing.Increment, c.Sizing.Unit>>20))
	addField("Max Multiplier", fmt.Sprintf("%dx", c.Sizing.MaxMultiplier))
	addField("Effective Capacity", fmt.Sprintf("%d entries", c.Sizing.Capacity()))
	addField("Library Graphs", fmt.Sprintf("%d", c.LibraryCache))

	addSection("Loader")
	addField("Executor", c.Executor.String())
	if c.Executor == taskexec.Pool {
		addField("Pool Size", fmt.Sprintf("%d", c.PoolSize))
	}

	addSection("Compaction")
	addField("Healthy Above", fmt.Sprintf("%d%%", c.Compaction.Healthy))
	addField("Moderate Above", fmt.Sprintf("%d%%", c.Compaction.Moderate))
	addField("Moderate Budget", c.Compaction.ModerateBudget.String())
	addField("Full Budget", c.Compaction.FullBudget.String())

	return sb.String()
}
