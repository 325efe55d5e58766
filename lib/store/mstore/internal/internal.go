package internal

import (
	"fmt"

	"github.com/ValentinKolb/depstore/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (value with metadata)
// --------------------------------------------------------------------------

// Entry stores a value together with the store version that wrote it
type Entry struct {
	Value   []byte // Stored value
	Version uint64 // Store version when this entry was created/updated
}

// Size returns the number of bytes accounted for the entry under key
func (e Entry) Size(key string) int64 {
	return int64(len(key) + len(e.Value))
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{Len: %d, Version: %d}", len(e.Value), e.Version)
}

// --------------------------------------------------------------------------
// Shard Type (partition of a table)
// --------------------------------------------------------------------------

// Shard represents a partition of a table
// Each shard has its own independent map
type Shard struct {
	Data *xsync.MapOf[string, Entry] // Map of live entries
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}

// --------------------------------------------------------------------------
// Table Type (one named map)
// --------------------------------------------------------------------------

// Table is the in-memory representation of one named map.
// Committed holds the state as of the last commit and is only touched
// while the owning store holds its commit lock exclusively.
type Table struct {
	Name      string
	Seed      uint64
	Shards    []*Shard
	Committed map[string][]byte
}

// NewTable creates an empty table with numShards shards
func NewTable(name string, numShards int, seed uint64) *Table {
	shards := make([]*Shard, numShards)
	for i := range shards {
		shards[i] = NewShard()
	}
	return &Table{
		Name:      name,
		Seed:      seed,
		Shards:    shards,
		Committed: map[string][]byte{},
	}
}

// ShardFor returns the shard responsible for key
func (t *Table) ShardFor(key string) *Shard {
	return GetShard(util.HashString(key, t.Seed), t.Shards)
}

// Range calls fn for every live entry until fn returns false
func (t *Table) Range(fn func(key string, e Entry) bool) {
	for _, shard := range t.Shards {
		cont := true
		shard.Data.Range(func(key string, e Entry) bool {
			cont = fn(key, e)
			return cont
		})
		if !cont {
			return
		}
	}
}

// Len returns the number of live entries
func (t *Table) Len() int {
	n := 0
	for _, shard := range t.Shards {
		n += shard.Data.Size()
	}
	return n
}

// Snapshot copies the live entries into Committed
func (t *Table) Snapshot() {
	committed := make(map[string][]byte, t.Len())
	t.Range(func(key string, e Entry) bool {
		committed[key] = e.Value
		return true
	})
	t.Committed = committed
}
