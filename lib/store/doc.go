// Package store defines the contract of the paged key-value store that the
// dependency-graph persistence layer is built on, together with the error
// taxonomy shared by all layers above it.
//
// The package focuses on:
//   - Named byte maps (IMap) inside one store (IStore)
//   - An atomic compare-and-update primitive (IMap.Operate) driven by a DecisionFunc
//   - Explicit commits: auto-commit is disabled and the owner decides the commit boundary
//   - Fragmentation metrics (FillRate, ChunkFillRate) used to pick a compaction budget on Close
//
// Key Components:
//
//   - IStore / IMap: The interfaces every backend implements. Operate is the only
//     way to do read-modify-write; it is atomic per key and a DecisionAbort
//     outcome neither writes nor advances the store version.
//
//   - Feature flags: backends advertise durability, compaction and crash simulation
//     through SupportsFeature.
//
//   - Error: a structured error with a RetCode, the map name and the wrapped cause.
//     Codec and I/O failures above the store boundary are reported as *Error.
//
// Implementations:
//
//   - Bolt Store (bstore): a durable implementation on go.etcd.io/bbolt. Each map is
//     a bucket; Commit syncs the file; Close can compact the file within a budget.
//     Available in the "github.com/ValentinKolb/depstore/lib/store/bstore" package.
//
//   - Memory Store (mstore): an in-memory implementation on xsync maps that keeps a
//     committed snapshot per map, so a crash can be simulated in tests.
//     Available in the "github.com/ValentinKolb/depstore/lib/store/mstore" package.
//
// The testing package ("github.com/ValentinKolb/depstore/lib/store/testing") holds
// the conformance suite every implementation runs.
//
// Note on concurrent access: maps must only be used through the maplet and
// enumerator layers while merges are in flight. Raw access from elsewhere can
// interleave with Operate in ways the layers above do not expect.
package store
