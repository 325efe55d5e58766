// Package mstore implements store.IStore in memory.
//
// Every named map is a table split into shards; each shard is an
// xsync.MapOf whose Compute method provides the atomic per-key
// read-modify-write that IMap.Operate requires. Keys are distributed across
// shards with a seeded FNV-1a hash, the upper bits of which pick the shard.
//
// Commits copy the live entries of every table into a committed snapshot
// while writers are held off by a read-write lock. Crash drops everything
// written after the last commit and returns a fresh store with the committed
// state, which is how tests simulate a process dying between the phases of
// the commit protocol.
//
// The store counts applied writes (Version, Info().Writes): a put or a
// delete of an existing key is one write, an aborted Operate is none. Tests
// use the counter to verify that redundant merges do not touch the store.
//
// Fill rates are derived from live versus written bytes and entries, or
// taken from Options.Fragmentation when set.
package mstore
