// Package testing provides standardised tests and benchmarks for backing
// stores that satisfy the store.IStore interface.
//
// The package contains:
//   - RunStoreTests: a conformance suite for the IStore and IMap contract
//     (copy semantics, Operate decisions, version counting, commits, close)
//   - RunStoreBenchmarks: throughput of the common map operations
//
// Example usage:
//
//	factory := func() (store.IStore, error) {
//		return NewMyStore(), nil
//	}
//
//	storetesting.RunStoreTests(t, "MyStore", factory)
//	storetesting.RunStoreBenchmarks(b, "MyStore", factory)
package testing
