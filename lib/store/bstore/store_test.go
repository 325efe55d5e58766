package bstore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/depstore/lib/store"
	storetesting "github.com/ValentinKolb/depstore/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	storetesting.RunStoreTests(t, "BoltStore", func() (store.IStore, error) {
		return Open(filepath.Join(t.TempDir(), "store.db"), nil)
	})
}

func Benchmark(b *testing.B) {
	storetesting.RunStoreBenchmarks(b, "BoltStore", func() (store.IStore, error) {
		return Open(filepath.Join(b.TempDir(), "store.db"), nil)
	})
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.db")

	s, err := Open(path, nil)
	require.NoError(t, err)
	m, err := s.OpenMap("values")
	require.NoError(t, err)
	require.NoError(t, m.Put([]byte("key"), []byte("value")))
	_, err = s.Commit()
	require.NoError(t, err)
	require.NoError(t, s.Close(0))

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close(0)

	assert.Contains(t, s.Info().Maps, "values")
	m, err = s.OpenMap("values")
	require.NoError(t, err)
	value, loaded, err := m.Get([]byte("key"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, []byte("value"), value)
}

func TestCompactionRewritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(path, &Options{CompactBatch: 7})
	require.NoError(t, err)
	m, err := s.OpenMap("values")
	require.NoError(t, err)
	_, err = s.OpenMap("empty")
	require.NoError(t, err)

	// grow the file, then delete most of it
	for i := 0; i < 2000; i++ {
		require.NoError(t, m.Put([]byte(fmt.Sprintf("key-%04d", i)), make([]byte, 256)))
	}
	for i := 50; i < 2000; i++ {
		require.NoError(t, m.Delete([]byte(fmt.Sprintf("key-%04d", i))))
	}
	_, err = s.Commit()
	require.NoError(t, err)

	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Close(10*time.Second))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())
	_, err = os.Stat(path + compactSuffix)
	assert.True(t, os.IsNotExist(err))

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close(0)

	assert.Equal(t, []string{"empty", "values"}, s.Info().Maps)
	m, err = s.OpenMap("values")
	require.NoError(t, err)
	n, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestCompactionOutOfBudgetKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(path, &Options{CompactBatch: 1})
	require.NoError(t, err)
	m, err := s.OpenMap("values")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value")))
	}
	_, err = s.Commit()
	require.NoError(t, err)

	// a budget of one nanosecond is always exceeded before the first batch
	require.NoError(t, s.Close(time.Nanosecond))

	_, err = os.Stat(path + compactSuffix)
	assert.True(t, os.IsNotExist(err))

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close(0)
	m, err = s.OpenMap("values")
	require.NoError(t, err)
	n, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestFeatures(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"), nil)
	require.NoError(t, err)
	defer s.Close(0)

	assert.True(t, s.SupportsFeature(store.FeatureDurable))
	assert.True(t, s.SupportsFeature(store.FeatureCompaction|store.FeatureDurable))
	assert.False(t, s.SupportsFeature(store.FeatureCrashSimulation))
	assert.Equal(t, store.ImplBolt, s.Info().StoreType)
}
