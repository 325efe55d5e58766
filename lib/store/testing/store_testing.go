package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreTests runs a comprehensive test suite for a store.IStore implementation.
// The factory must return a new, empty store on every call.
func RunStoreTests(t *testing.T, name string, factory store.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, newStore(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, newStore(t, factory))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, newStore(t, factory))
		})

		t.Run("Operate", func(t *testing.T) {
			testOperate(t, newStore(t, factory))
		})

		t.Run("OperateError", func(t *testing.T) {
			testOperateError(t, newStore(t, factory))
		})

		t.Run("SeparateMaps", func(t *testing.T) {
			testSeparateMaps(t, newStore(t, factory))
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, newStore(t, factory))
		})

		t.Run("Commit", func(t *testing.T) {
			testCommit(t, newStore(t, factory))
		})

		t.Run("ConcurrentOperate", func(t *testing.T) {
			testConcurrentOperate(t, newStore(t, factory))
		})

		t.Run("FillRates", func(t *testing.T) {
			testFillRates(t, newStore(t, factory))
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, newStore(t, factory))
		})

		t.Run("CloseWithCompaction", func(t *testing.T) {
			testCloseWithCompaction(t, newStore(t, factory))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, newStore(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newStore(t testing.TB, factory store.Factory) store.IStore {
	s, err := factory()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(0)
	})
	return s
}

// Checks if the store supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, s store.IStore, feature store.Feature) {
	if !s.SupportsFeature(feature) {
		t.Skip()
	}
}

func openMap(t testing.TB, s store.IStore, name string) store.IMap {
	m, err := s.OpenMap(name)
	require.NoError(t, err)
	require.Equal(t, name, m.Name())
	return m
}

// appendByte is a decision function appending b to the existing value
func appendByte(b byte) store.DecisionFunc {
	return func(existing []byte, _ bool) (store.Decision, []byte, error) {
		return store.DecisionPut, append(existing, b), nil
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, s store.IStore) {
	m := openMap(t, s, "values")

	key := []byte("test-key")
	require.NoError(t, m.Put(key, []byte("test-value1")))

	value, loaded, err := m.Get(key)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("test-value1"), value)

	require.NoError(t, m.Put(key, []byte("test-value2")))
	value, _, err = m.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("test-value2"), value)

	_, loaded, err = m.Get([]byte("nonexistent-key"))
	require.NoError(t, err)
	assert.False(t, loaded, "nonexistent key must not be loaded")

	// Get must return a copy
	value[0] = 'X'
	original, _, err := m.Get(key)
	require.NoError(t, err)
	assert.NotEqual(t, value, original, "Get should return a copy, not a reference to the stored value")

	// the stored value must not alias the caller's buffer
	buf := []byte("buffer")
	require.NoError(t, m.Put([]byte("buf"), buf))
	buf[0] = 'X'
	stored, _, err := m.Get([]byte("buf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("buffer"), stored)
}

func testDelete(t *testing.T, s store.IStore) {
	m := openMap(t, s, "values")

	key := []byte("delete-me")
	require.NoError(t, m.Put(key, []byte("value")))
	before := s.Version()

	require.NoError(t, m.Delete(key))
	assert.Greater(t, s.Version(), before)

	_, loaded, err := m.Get(key)
	require.NoError(t, err)
	assert.False(t, loaded)

	// deleting a missing key is not a write
	before = s.Version()
	require.NoError(t, m.Delete([]byte("never-written")))
	require.NoError(t, m.Delete(key))
	assert.Equal(t, before, s.Version())
}

func testHas(t *testing.T, s store.IStore) {
	m := openMap(t, s, "values")

	has, err := m.Has([]byte("key"))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, m.Put([]byte("key"), []byte("value")))
	has, err = m.Has([]byte("key"))
	require.NoError(t, err)
	assert.True(t, has)

	// an empty value is still a value
	require.NoError(t, m.Put([]byte("empty"), []byte{}))
	has, err = m.Has([]byte("empty"))
	require.NoError(t, err)
	assert.True(t, has)
}

func testOperate(t *testing.T, s store.IStore) {
	m := openMap(t, s, "operate")
	key := []byte("counter")

	// put on absent key
	applied, err := m.Operate(key, func(existing []byte, loaded bool) (store.Decision, []byte, error) {
		assert.False(t, loaded)
		assert.Nil(t, existing)
		return store.DecisionPut, []byte("a"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), applied)

	// put on present key sees the current value
	applied, err = m.Operate(key, appendByte('b'))
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), applied)

	// abort returns the existing value and does not write
	before := s.Version()
	applied, err = m.Operate(key, func(existing []byte, loaded bool) (store.Decision, []byte, error) {
		assert.True(t, loaded)
		return store.DecisionAbort, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), applied)
	assert.Equal(t, before, s.Version(), "abort must not bump the version")

	// abort on absent key does not create it
	_, err = m.Operate([]byte("absent"), func([]byte, bool) (store.Decision, []byte, error) {
		return store.DecisionAbort, nil, nil
	})
	require.NoError(t, err)
	has, err := m.Has([]byte("absent"))
	require.NoError(t, err)
	assert.False(t, has)

	// remove
	applied, err = m.Operate(key, func([]byte, bool) (store.Decision, []byte, error) {
		return store.DecisionRemove, nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, applied)
	has, err = m.Has(key)
	require.NoError(t, err)
	assert.False(t, has)
}

func testOperateError(t *testing.T, s store.IStore) {
	m := openMap(t, s, "operate")
	key := []byte("key")
	require.NoError(t, m.Put(key, []byte("kept")))

	boom := errors.New("boom")
	before := s.Version()
	_, err := m.Operate(key, func([]byte, bool) (store.Decision, []byte, error) {
		return store.DecisionPut, []byte("lost"), boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, s.Version())

	value, _, err := m.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), value)

	_, err = m.Operate([]byte("new"), func([]byte, bool) (store.Decision, []byte, error) {
		return store.DecisionPut, []byte("lost"), boom
	})
	assert.ErrorIs(t, err, boom)
	has, err := m.Has([]byte("new"))
	require.NoError(t, err)
	assert.False(t, has)
}

func testSeparateMaps(t *testing.T, s store.IStore) {
	a := openMap(t, s, "a")
	b := openMap(t, s, "b")

	require.NoError(t, a.Put([]byte("key"), []byte("in-a")))
	require.NoError(t, b.Put([]byte("key"), []byte("in-b")))

	va, _, err := a.Get([]byte("key"))
	require.NoError(t, err)
	vb, _, err := b.Get([]byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("in-a"), va)
	assert.Equal(t, []byte("in-b"), vb)

	// reopening a map returns the same contents
	again := openMap(t, s, "a")
	v, loaded, err := again.Get([]byte("key"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("in-a"), v)

	assert.Subset(t, s.Info().Maps, []string{"a", "b"})
}

func testKeys(t *testing.T, s store.IStore) {
	m := openMap(t, s, "keys")

	const n = 100
	expected := map[string]bool{}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		expected[key] = true
		require.NoError(t, m.Put([]byte(key), []byte{byte(i)}))
	}

	seen := map[string]bool{}
	require.NoError(t, m.Keys(func(key []byte) bool {
		seen[string(key)] = true
		return true
	}))
	assert.Equal(t, expected, seen)

	length, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, n, length)

	// early stop
	count := 0
	require.NoError(t, m.Keys(func([]byte) bool {
		count++
		return count < 10
	}))
	assert.Equal(t, 10, count)
}

func testCommit(t *testing.T, s store.IStore) {
	m := openMap(t, s, "commit")

	require.NoError(t, m.Put([]byte("a"), []byte("1")))
	require.NoError(t, m.Put([]byte("b"), []byte("2")))

	version, err := s.Commit()
	require.NoError(t, err)
	assert.Equal(t, s.Version(), version)
	assert.GreaterOrEqual(t, version, uint64(2))

	ok, version2, err := s.TryCommit()
	require.NoError(t, err)
	if ok {
		assert.Equal(t, version, version2)
	}
	assert.GreaterOrEqual(t, s.Info().Commits, uint64(1))
}

func testConcurrentOperate(t *testing.T, s store.IStore) {
	m := openMap(t, s, "concurrent")
	key := []byte("shared")

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := m.Operate(key, appendByte('x'))
				assert.NoError(t, err)
			}
		}()
	}

	// commits interleave with writers
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, _, _ = s.TryCommit()
		}
	}()

	wg.Wait()
	<-done

	value, _, err := m.Get(key)
	require.NoError(t, err)
	assert.Len(t, value, workers*perWorker, "no read-modify-write may be lost")
	assert.True(t, bytes.Equal(value, bytes.Repeat([]byte("x"), workers*perWorker)))
}

func testFillRates(t *testing.T, s store.IStore) {
	m := openMap(t, s, "fill")

	for i := 0; i < 200; i++ {
		require.NoError(t, m.Put([]byte(fmt.Sprintf("key-%d", i%20)), bytes.Repeat([]byte{byte(i)}, 64)))
	}
	_, err := s.Commit()
	require.NoError(t, err)

	for _, rate := range []int{s.FillRate(), s.ChunkFillRate()} {
		assert.GreaterOrEqual(t, rate, 0)
		assert.LessOrEqual(t, rate, 100)
	}
}

func testClose(t *testing.T, s store.IStore) {
	m := openMap(t, s, "close")
	require.NoError(t, m.Put([]byte("key"), []byte("value")))

	require.NoError(t, s.Close(0))
	// a second close is a no-op
	require.NoError(t, s.Close(0))

	_, _, err := m.Get([]byte("key"))
	require.Error(t, err)
	assert.Equal(t, store.RetCClosed, store.CodeOf(err))

	_, err = s.OpenMap("other")
	require.Error(t, err)

	_, err = s.Commit()
	require.Error(t, err)
}

func testCloseWithCompaction(t *testing.T, s store.IStore) {
	requireFeature(t, s, store.FeatureCompaction)

	m := openMap(t, s, "compact")
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Put([]byte(fmt.Sprintf("key-%d", i%10)), []byte(fmt.Sprintf("value-%d", i))))
	}
	_, err := s.Commit()
	require.NoError(t, err)

	require.NoError(t, s.Close(time.Second))
}

func testEdgeCases(t *testing.T, s store.IStore) {
	m := openMap(t, s, "edge")

	// binary keys and values
	key := []byte{0x00, 0xff, 0x10}
	require.NoError(t, m.Put(key, []byte{0x00}))
	v, loaded, err := m.Get(key)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte{0x00}, v)

	// large value
	large := bytes.Repeat([]byte("L"), 1<<20)
	require.NoError(t, m.Put([]byte("large"), large))
	v, _, err = m.Get([]byte("large"))
	require.NoError(t, err)
	assert.Equal(t, len(large), len(v))

	// a nil value is stored as empty
	require.NoError(t, m.Put([]byte("nil"), nil))
	v, loaded, err = m.Get([]byte("nil"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Empty(t, v)
}
