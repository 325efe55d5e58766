package enumerator

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/ValentinKolb/depstore/lib/store/mstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTable(t *testing.T, s store.IStore) *Enumerator {
	m, err := s.OpenMap("enumerator")
	require.NoError(t, err)
	e, err := Open(m, nil)
	require.NoError(t, err)
	return e
}

func TestToNumberIsStable(t *testing.T) {
	e := openTable(t, mstore.NewMemoryStore(nil))

	a, err := e.ToNumber("x")
	require.NoError(t, err)
	b, err := e.ToNumber("x")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.ToNumber("y")
	require.NoError(t, err)
	assert.Equal(t, a+1, c, "ids are sequential")
	assert.Equal(t, 2, e.Size())
	assert.Equal(t, 2, e.Pending())
}

func TestSurvivesFlushAndReopen(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	e := openTable(t, s)

	id, err := e.ToNumber("x")
	require.NoError(t, err)

	wrote, err := e.Flush()
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Zero(t, e.Pending())
	_, err = s.Commit()
	require.NoError(t, err)

	reopened := openTable(t, s.Crash())
	str, err := reopened.ToString(id)
	require.NoError(t, err)
	assert.Equal(t, "x", str)

	// allocation continues after the loaded table
	next, err := reopened.ToNumber("z")
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
	again, err := reopened.ToNumber("x")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestFlushWithoutDeltaWritesNothing(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	e := openTable(t, s)

	before := s.Info().Writes
	wrote, err := e.Flush()
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, before, s.Info().Writes)
}

// Committing the data maps without flushing the enumerator leaves committed
// records referencing ids that do not survive a crash.
func TestSkippedFlushIsDetectable(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	e := openTable(t, s)
	data, err := s.OpenMap("data")
	require.NoError(t, err)

	id, err := e.ToNumber("minted-during-encode")
	require.NoError(t, err)
	require.NoError(t, data.Put([]byte("record"), []byte(fmt.Sprint(id))))

	// phase one only, then crash
	_, err = s.Commit()
	require.NoError(t, err)
	crashed := s.Crash()

	reopened := openTable(t, crashed)
	dm, err := crashed.OpenMap("data")
	require.NoError(t, err)
	_, ok, err := dm.Get([]byte("record"))
	require.NoError(t, err)
	assert.True(t, ok, "the data record was committed")

	_, err = reopened.ToString(id)
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, id, lookupErr.ID)
	assert.Equal(t, 0, lookupErr.Size)
}

func TestFullProtocolSurvivesCrash(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	e := openTable(t, s)

	id, err := e.ToNumber("minted-during-encode")
	require.NoError(t, err)

	_, err = s.Commit()
	require.NoError(t, err)
	wrote, err := e.Flush()
	require.NoError(t, err)
	require.True(t, wrote)
	_, err = s.Commit()
	require.NoError(t, err)

	reopened := openTable(t, s.Crash())
	str, err := reopened.ToString(id)
	require.NoError(t, err)
	assert.Equal(t, "minted-during-encode", str)
}

func TestLookupError(t *testing.T) {
	e := openTable(t, mstore.NewMemoryStore(nil))
	_, err := e.ToNumber("only")
	require.NoError(t, err)

	for _, id := range []int32{-1, 1, 100} {
		_, err := e.ToString(id)
		var lookupErr *LookupError
		require.ErrorAs(t, err, &lookupErr)
		assert.Equal(t, id, lookupErr.ID)
		assert.Equal(t, 1, lookupErr.Size)
		assert.Contains(t, err.Error(), "table size 1")
	}
}

func TestConcurrentToNumber(t *testing.T) {
	e := openTable(t, mstore.NewMemoryStore(nil))

	const workers = 8
	const strings = 200
	results := make([][]int32, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]int32, strings)
			for i := 0; i < strings; i++ {
				id, err := e.ToNumber(fmt.Sprintf("s-%d", i))
				assert.NoError(t, err)
				ids[i] = id
				if i%50 == 0 {
					_, err := e.Flush()
					assert.NoError(t, err)
				}
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	assert.Equal(t, strings, e.Size())
	for w := 1; w < workers; w++ {
		assert.Equal(t, results[0], results[w])
	}
	for i, id := range results[0] {
		str, err := e.ToString(id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("s-%d", i), str)
	}
}

// failingMap rejects puts while fail is set
type failingMap struct {
	store.IMap
	fail bool
}

func (f *failingMap) Put(key, value []byte) error {
	if f.fail {
		return store.WrapError(store.RetCIO, f.Name(), "put", errors.New("disk full"))
	}
	return f.IMap.Put(key, value)
}

func TestFailedFlushIsRetried(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	m, err := s.OpenMap("enumerator")
	require.NoError(t, err)
	fm := &failingMap{IMap: m, fail: true}
	e, err := Open(fm, nil)
	require.NoError(t, err)

	id, err := e.ToNumber("x")
	require.NoError(t, err)

	wrote, err := e.Flush()
	require.Error(t, err)
	assert.Equal(t, store.RetCIO, store.CodeOf(err))
	assert.False(t, wrote)
	assert.Equal(t, 1, e.Pending())

	fm.fail = false
	wrote, err = e.Flush()
	require.NoError(t, err)
	assert.True(t, wrote)

	value, ok, err := m.Get(encodeID(id))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), value)
}

func TestOpenRejectsGaps(t *testing.T) {
	s := mstore.NewMemoryStore(nil)
	m, err := s.OpenMap("enumerator")
	require.NoError(t, err)
	require.NoError(t, m.Put(encodeID(0), []byte("a")))
	require.NoError(t, m.Put(encodeID(2), []byte("c")))

	_, err = Open(m, nil)
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, int32(1), lookupErr.ID)
}
