package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/depstore/lib/store"
)

// RunStoreBenchmarks runs the benchmarks for a store.IStore implementation
func RunStoreBenchmarks(b *testing.B, name string, factory store.Factory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, newStore(b, factory))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, newStore(b, factory))
		})

		b.Run("OperateAbort", func(b *testing.B) {
			benchmarkOperateAbort(b, newStore(b, factory))
		})

		b.Run("Commit", func(b *testing.B) {
			benchmarkCommit(b, newStore(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkPut(b *testing.B, s store.IStore) {
	m := openMap(b, s, "bench")
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Put([]byte(fmt.Sprintf("key-%d", i)), value)
	}
}

func benchmarkGet(b *testing.B, s store.IStore) {
	m := openMap(b, s, "bench")
	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		_ = m.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = m.Get([]byte(fmt.Sprintf("key-%d", i%numKeys)))
	}
}

// Benchmark for the redundant-merge path: the decision aborts, nothing is written
func benchmarkOperateAbort(b *testing.B, s store.IStore) {
	m := openMap(b, s, "bench")
	key := []byte("key")
	_ = m.Put(key, []byte("value"))
	abort := func([]byte, bool) (store.Decision, []byte, error) {
		return store.DecisionAbort, nil, nil
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Operate(key, abort)
	}
}

func benchmarkCommit(b *testing.B, s store.IStore) {
	m := openMap(b, s, "bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Put([]byte(fmt.Sprintf("key-%d", i%100)), []byte("value"))
		_, _ = s.Commit()
	}
}
