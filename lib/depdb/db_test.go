package depdb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/ValentinKolb/depstore/lib/codec"
	"github.com/ValentinKolb/depstore/lib/compaction"
	"github.com/ValentinKolb/depstore/lib/enumerator"
	"github.com/ValentinKolb/depstore/lib/graph"
	"github.com/ValentinKolb/depstore/lib/graph/classfile/classfiletest"
	"github.com/ValentinKolb/depstore/lib/libgraph"
	"github.com/ValentinKolb/depstore/lib/store"
	"github.com/ValentinKolb/depstore/lib/store/mstore"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// openOn opens a DB on an existing memory store
func openOn(t *testing.T, ms *mstore.Store) *DB {
	t.Helper()
	opts := DefaultOptions()
	opts.Store = func() (store.IStore, error) { return ms, nil }
	db, err := Open(opts)
	require.NoError(t, err)
	return db
}

func node(name string, uses ...string) *graph.Node {
	n := &graph.Node{Name: name, Super: "java/lang/Object", Access: 1}
	for _, u := range uses {
		n.Usages = append(n.Usages, graph.Usage{Kind: graph.UsageClass, Owner: u})
	}
	return n
}

func deltaOf(src graph.NodeSource, nodes ...*graph.Node) *graph.Delta {
	d := graph.NewDelta()
	for _, n := range nodes {
		d.Associate(n, src)
	}
	return d
}

func jarOf(t *testing.T, classes ...classfiletest.Class) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, c := range classes {
		w, err := zw.Create(c.Name + ".class")
		require.NoError(t, err)
		_, err = w.Write(classfiletest.Build(c))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func extract(t *testing.T, lib libgraph.LibDescriptor, classes ...classfiletest.Class) *libgraph.Result {
	t.Helper()
	jar := jarOf(t, classes...)
	res, err := libgraph.Extractor{}.Extract(context.Background(), lib, bytes.NewReader(jar), int64(len(jar)))
	require.NoError(t, err)
	return res
}

// loadChange loads one change through the loader and returns its past and
// present graphs
func loadChange(t *testing.T, l *libgraph.Loader, ch libgraph.Change) (past, present *libgraph.Result) {
	t.Helper()
	batch := l.Load(context.Background(), []libgraph.Change{ch})
	defer batch.Close()
	u, ok := batch.Unit(ch.Library)
	require.True(t, ok)
	past, err := u.Past(context.Background())
	require.NoError(t, err)
	present, err = u.Present(context.Background())
	require.NoError(t, err)
	return past, present
}

// --------------------------------------------------------------------------
// Graph operations
// --------------------------------------------------------------------------

func TestIntegrateAndQuery(t *testing.T) {
	db := openMemory(t)

	a := node("a/A", "b/B", "c/C")
	b := node("b/B", "c/C")
	require.NoError(t, db.Integrate(deltaOf("lib!/x.class", a, b)))

	got, ok, err := db.Node("a/A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a, got)

	_, ok, err = db.Node("z/Z")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := db.NodesOf("lib!/x.class")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/A", "b/B"}, names)

	sources, err := db.SourcesOf("b/B")
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeSource{"lib!/x.class"}, sources)

	deps, err := db.Dependents("c/C")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/A", "b/B"}, deps)

	deps, err = db.Dependents("a/A")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestIntegrateReplacesUsages(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, db.Integrate(deltaOf("s1", node("a/A", "b/B"))))
	require.NoError(t, db.Integrate(deltaOf("s1", node("a/A", "c/C"))))

	deps, err := db.Dependents("b/B")
	require.NoError(t, err)
	assert.Empty(t, deps)
	deps, err = db.Dependents("c/C")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/A"}, deps)
}

func TestRemoveSourcesDropsOrphans(t *testing.T) {
	db := openMemory(t)

	shared := node("s/Shared", "u/Used")
	require.NoError(t, db.Integrate(deltaOf("one!/s/Shared.class", shared)))
	require.NoError(t, db.Integrate(deltaOf("two!/s/Shared.class", shared)))

	require.NoError(t, db.RemoveSources([]graph.NodeSource{"one!/s/Shared.class"}))
	_, ok, err := db.Node("s/Shared")
	require.NoError(t, err)
	assert.True(t, ok, "still declared by the second source")

	delta := graph.NewDelta()
	delta.MarkRemoved("two!/s/Shared.class")
	require.NoError(t, db.Integrate(delta))

	_, ok, err = db.Node("s/Shared")
	require.NoError(t, err)
	assert.False(t, ok)
	deps, err := db.Dependents("u/Used")
	require.NoError(t, err)
	assert.Empty(t, deps)
	names, err := db.NodesOf("two!/s/Shared.class")
	require.NoError(t, err)
	assert.Empty(t, names)

	// removing an unknown source is a no-op
	assert.NoError(t, db.RemoveSources([]graph.NodeSource{"nowhere!/X.class"}))
}

func TestApplyLibrary(t *testing.T) {
	db := openMemory(t)
	lib := libgraph.LibDescriptor{Library: "lib", Digest: "v1", Path: "/libs/lib.jar"}

	v1 := extract(t, lib,
		classfiletest.Class{Name: "a/A", Uses: []graph.Usage{{Kind: graph.UsageClass, Owner: "x/X"}}},
		classfiletest.Class{Name: "a/B"},
	)
	diff, err := db.ApplyLibrary(lib, nil, v1)
	require.NoError(t, err)
	assert.Len(t, diff.Added, 2)

	rec, ok, err := db.Library("lib")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, LibraryRecord{Digest: "v1", Path: "/libs/lib.jar", Snapshot: v1.Snapshot}, rec)

	lib.Digest = "v2"
	v2 := extract(t, lib,
		classfiletest.Class{Name: "a/A", Uses: []graph.Usage{{Kind: graph.UsageClass, Owner: "y/Y"}}},
		classfiletest.Class{Name: "a/C"},
	)
	diff, err = db.ApplyLibrary(lib, nil, v2)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeSource{graph.NewNodeSource(lib.Library, "a/C.class")}, diff.Added)
	assert.Equal(t, []graph.NodeSource{graph.NewNodeSource(lib.Library, "a/B.class")}, diff.Removed)
	assert.Equal(t, []graph.NodeSource{graph.NewNodeSource(lib.Library, "a/A.class")}, diff.Changed)

	_, ok, err = db.Node("a/B")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = db.Node("a/C")
	require.NoError(t, err)
	assert.True(t, ok)

	deps, err := db.Dependents("x/X")
	require.NoError(t, err)
	assert.Empty(t, deps)
	deps, err = db.Dependents("y/Y")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/A"}, deps)

	// an explicit past gives the same diff as the stored record
	diff, err = db.ApplyLibrary(lib, v2, v2)
	require.NoError(t, err)
	assert.True(t, diff.IsEmpty())

	// removing the library drops its nodes and record
	_, err = db.ApplyLibrary(lib, nil, libgraph.EmptyResult())
	require.NoError(t, err)
	_, ok, err = db.Library("lib")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = db.Node("a/A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyLibraryWithPastFromBackupPath(t *testing.T) {
	db := openMemory(t)
	dir := t.TempDir()
	libs, backups := filepath.Join(dir, "libs"), filepath.Join(dir, "backup")
	require.NoError(t, os.MkdirAll(libs, 0o755))
	require.NoError(t, os.MkdirAll(backups, 0o755))
	current, backup := filepath.Join(libs, "x.jar"), filepath.Join(backups, "x.jar")

	a := classfiletest.Class{Name: "p/A", Uses: []graph.Usage{{Kind: graph.UsageClass, Owner: "q/Q"}}}
	b := classfiletest.Class{Name: "p/B", Uses: []graph.Usage{{Kind: graph.UsageClass, Owner: "r/R"}}}
	v1 := jarOf(t, a, b)
	require.NoError(t, os.WriteFile(current, v1, 0o644))

	l, err := libgraph.NewLoader(libgraph.DefaultOptions())
	require.NoError(t, err)

	// first build: the library is new
	past, present := loadChange(t, l, libgraph.Change{Library: "x", PresentPath: current})
	d1, err := libgraph.DescribeFile("x", current)
	require.NoError(t, err)
	_, err = db.ApplyLibrary(d1, past, present)
	require.NoError(t, err)

	// second build: the old archive moved to a backup, p/B left the jar
	require.NoError(t, os.WriteFile(backup, v1, 0o644))
	require.NoError(t, os.WriteFile(current, jarOf(t, a), 0o644))
	past, present = loadChange(t, l, libgraph.Change{Library: "x", PastPath: backup, PresentPath: current})
	d2, err := libgraph.DescribeFile("x", current)
	require.NoError(t, err)
	require.NotEqual(t, d1.Digest, d2.Digest)

	diff, err := db.ApplyLibrary(d2, past, present)
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Changed)
	assert.Equal(t, []graph.NodeSource{graph.NewNodeSource("x", "p/B.class")}, diff.Removed)

	_, ok, err := db.Node("p/B")
	require.NoError(t, err)
	assert.False(t, ok)
	deps, err := db.Dependents("r/R")
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, ok, err = db.Node("p/A")
	require.NoError(t, err)
	assert.True(t, ok)
	sources, err := db.SourcesOf("p/A")
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeSource{graph.NewNodeSource("x", "p/A.class")}, sources)
	deps, err = db.Dependents("q/Q")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/A"}, deps)
}

func TestFlushAsksPolicyForBudget(t *testing.T) {
	var seen []int
	opts := DefaultOptions()
	opts.Memory = &mstore.Options{Fragmentation: compaction.Fixed{Fill: 70, Chunk: 75}}
	opts.Compaction = compaction.PolicyFunc(func(f store.Fragmentation) time.Duration {
		seen = append(seen, f.FillRate(), f.ChunkFillRate())
		return compaction.DefaultThresholds().Budget(f)
	})
	db, err := Open(opts)
	require.NoError(t, err)
	defer db.Close()
	assert.Zero(t, db.Info().CompactionBudget)

	require.NoError(t, db.Integrate(deltaOf("lib!/a/A.class", node("a/A"))))
	require.NoError(t, db.Flush())
	assert.Equal(t, []int{70, 75}, seen)
	assert.Equal(t, 100*time.Millisecond, db.Info().CompactionBudget)

	var buf bytes.Buffer
	db.WriteMetrics(&buf)
	assert.Contains(t, buf.String(), "store_compaction_budget_seconds 0.1")
}

func TestConcurrentIntegrate(t *testing.T) {
	db := openMemory(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				name := fmt.Sprintf("w%d/N%d", w, i)
				src := graph.NodeSource(fmt.Sprintf("lib%d!/%s.class", w, name))
				assert.NoError(t, db.Integrate(deltaOf(src, node(name, "common/Base"))))
			}
		}()
	}
	wg.Wait()

	deps, err := db.Dependents("common/Base")
	require.NoError(t, err)
	assert.Len(t, deps, 200)
}

// --------------------------------------------------------------------------
// Commit protocol and lifecycle
// --------------------------------------------------------------------------

func TestCommitSurvivesCrash(t *testing.T) {
	ms := mstore.NewMemoryStore(nil)
	db := openOn(t, ms)

	committed := node("a/A", "b/B")
	require.NoError(t, db.Integrate(deltaOf("lib!/a/A.class", committed)))
	require.NoError(t, db.Commit())
	assert.Zero(t, db.Info().PendingStrings)

	require.NoError(t, db.Integrate(deltaOf("lib!/n/New.class", node("n/New", "q/Q"))))

	reopened := openOn(t, ms.Crash())
	defer reopened.Close()

	got, ok, err := reopened.Node("a/A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, committed, got)

	_, ok, err = reopened.Node("n/New")
	require.NoError(t, err)
	assert.False(t, ok)

	deps, err := reopened.Dependents("b/B")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/A"}, deps)
}

func TestCommitWithoutEnumeratorFlushCorrupts(t *testing.T) {
	ms := mstore.NewMemoryStore(nil)
	db := openOn(t, ms)

	require.NoError(t, db.Integrate(deltaOf("lib!/a/A.class", node("a/A"))))
	// data committed, enumerator delta never flushed
	_, err := ms.Commit()
	require.NoError(t, err)

	reopened := openOn(t, ms.Crash())
	defer reopened.Close()

	_, _, err = reopened.Node("a/A")
	var lookupErr *enumerator.LookupError
	assert.ErrorAs(t, err, &lookupErr)
}

func TestCloseAsksPolicyForBudget(t *testing.T) {
	var seen []int
	opts := DefaultOptions()
	opts.Memory = &mstore.Options{Fragmentation: compaction.Fixed{Fill: 55, Chunk: 65}}
	opts.Compaction = compaction.PolicyFunc(func(f store.Fragmentation) time.Duration {
		seen = append(seen, f.FillRate(), f.ChunkFillRate())
		return compaction.DefaultThresholds().Budget(f)
	})
	db, err := Open(opts)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Equal(t, []int{55, 65}, seen)
	assert.Equal(t, 300*time.Millisecond, compaction.DefaultThresholds().Budget(compaction.Fixed{Fill: 55, Chunk: 65}))

	// closing twice is fine, using a closed DB is not
	assert.NoError(t, db.Close())
	_, _, err = db.Node("a/A")
	assert.Equal(t, store.RetCClosed, store.CodeOf(err))
	assert.Error(t, db.Commit())
}

func TestBoltBackendReopen(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Backend = BackendBolt
	opts.Dir = dir

	db, err := Open(opts)
	require.NoError(t, err)
	lib := libgraph.LibDescriptor{Library: "lib", Digest: "d1", Path: "/libs/lib.jar"}
	res := extract(t, lib, classfiletest.Class{Name: "a/A", Super: "a/Base"})
	_, err = db.ApplyLibrary(lib, nil, res)
	require.NoError(t, err)
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())

	db, err = Open(opts)
	require.NoError(t, err)
	defer db.Close()

	n, ok, err := db.Node("a/A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a/Base", n.Super)

	var libs []string
	require.NoError(t, db.Libraries(func(name string) bool {
		libs = append(libs, name)
		return true
	}))
	assert.Equal(t, []string{"lib"}, libs)
	assert.Equal(t, store.ImplBolt, db.Info().Store.StoreType)
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open(Options{Backend: "tape"})
	assert.Error(t, err)
	_, err = Open(Options{Backend: BackendBolt})
	assert.Error(t, err)
}

func TestWriteMetrics(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, db.Integrate(deltaOf("lib!/a/A.class", node("a/A", "b/B"))))
	require.NoError(t, db.Commit())

	var buf bytes.Buffer
	db.WriteMetrics(&buf)
	out := buf.String()
	assert.Contains(t, out, "store_commit_total 1")
	assert.Contains(t, out, "store_fill_rate")
	assert.Contains(t, out, "enumerator_flush_total")
	assert.Contains(t, out, `maplet_merge_total{map="usages",outcome="write"}`)
}

// --------------------------------------------------------------------------
// Codecs
// --------------------------------------------------------------------------

func TestNodeCodecInternsUsages(t *testing.T) {
	db := openMemory(t)
	c := newCodecs(db.en, db.interner)

	n := &graph.Node{
		Name:       "a/A",
		Super:      "a/Base",
		Interfaces: []string{"a/I"},
		Access:     0x21,
		Fields:     []graph.Member{{Name: "f", Descriptor: "I", Access: 1}},
		Methods:    []graph.Member{{Name: "m", Descriptor: "()V", Access: 1}},
		Usages:     []graph.Usage{{Kind: graph.UsageMethod, Owner: "b/B", Name: "call"}},
	}
	data, err := codec.Marshal(c.node, n)
	require.NoError(t, err)

	first, err := codec.Unmarshal(c.node, data)
	require.NoError(t, err)
	second, err := codec.Unmarshal(c.node, data)
	require.NoError(t, err)
	assert.Equal(t, n, first)
	assert.Same(t, unsafe.StringData(first.Usages[0].Owner), unsafe.StringData(second.Usages[0].Owner))

	// strings are stored as enumerator ids, not inline
	assert.NotContains(t, string(data), "a/Base")
}
