package compaction

import (
	"time"

	"github.com/ValentinKolb/depstore/lib/store"
)

// Policy maps the fragmentation of a store to the time it may spend
// compacting when it is closed. A zero budget means no compaction.
type Policy interface {
	Budget(f store.Fragmentation) time.Duration
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(f store.Fragmentation) time.Duration

func (p PolicyFunc) Budget(f store.Fragmentation) time.Duration {
	return p(f)
}

// --------------------------------------------------------------------------
// Threshold policy
// --------------------------------------------------------------------------

// Thresholds grants no compaction to a well packed store, a short budget
// to a moderately fragmented one and a longer budget otherwise. A store is
// in a band only if both its fill rate and its chunk fill rate exceed the
// band's threshold.
type Thresholds struct {
	Healthy        int           // Both rates above this: no compaction
	Moderate       int           // Both rates above this: ModerateBudget
	ModerateBudget time.Duration // Budget of the moderate band
	FullBudget     time.Duration // Budget for everything else
}

// DefaultThresholds returns the policy used when none is configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		Healthy:        80,
		Moderate:       60,
		ModerateBudget: 100 * time.Millisecond,
		FullBudget:     300 * time.Millisecond,
	}
}

func (t Thresholds) Budget(f store.Fragmentation) time.Duration {
	fill, chunk := f.FillRate(), f.ChunkFillRate()
	switch {
	case fill > t.Healthy && chunk > t.Healthy:
		return 0
	case fill > t.Moderate && chunk > t.Moderate:
		return t.ModerateBudget
	default:
		return t.FullBudget
	}
}

// --------------------------------------------------------------------------
// Fixed fragmentation
// --------------------------------------------------------------------------

// Fixed is a store.Fragmentation with constant rates
type Fixed struct {
	Fill  int
	Chunk int
}

func (f Fixed) FillRate() int      { return f.Fill }
func (f Fixed) ChunkFillRate() int { return f.Chunk }
