/*
Package libgraph loads the dependency graphs of library archives.

The Extractor reads a jar with github.com/klauspost/compress/zip. Every entry
the node function accepts becomes a graph node associated with the source
<prefix>!/<entry path>, and the xxhash64 digest of the raw entry bytes goes
into the source snapshot.

Graphs are cached by library and digest. The Cache keeps a bounded set of
graphs strongly and lets evicted graphs live on behind weak pointers until
the garbage collector needs the memory. A graph is only reused for the exact
digest it was extracted from; requesting a new digest of a library drops the
older ones. Concurrent misses for the same digest share one extraction.

The Loader runs one past and one present load per changed library on a
taskexec.Executor that lives for a single batch:

	batch := loader.Load(ctx, []libgraph.Change{
		{Library: "guava", PastPath: backup, PresentPath: current},
	})
	defer batch.Close()

	unit, _ := batch.Unit("guava")
	past, err := unit.Past(ctx)
	present, err := unit.Present(ctx)
	diff := past.Snapshot.Diff(present.Snapshot)

A unit is cancelled as a whole. After cancellation both of its results
report ErrCancelled. A library that fails to load reports a *LoadError on
its own unit and does not affect the rest of the batch.
*/
package libgraph
