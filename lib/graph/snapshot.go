package graph

import (
	"sort"
)

// SourceSnapshot maps every retained NodeSource of a library to the
// lowercase hex digest of the bytes it was built from.
type SourceSnapshot map[NodeSource]string

// Sources returns the sources of the snapshot, sorted
func (s SourceSnapshot) Sources() []NodeSource {
	sources := make([]NodeSource, 0, len(s))
	for src := range s {
		sources = append(sources, src)
	}
	sortSources(sources)
	return sources
}

// SnapshotDiff lists how two snapshots differ. All lists are sorted.
type SnapshotDiff struct {
	Added   []NodeSource // Only in the newer snapshot
	Removed []NodeSource // Only in the older snapshot
	Changed []NodeSource // In both, with different digests
}

// IsEmpty reports whether the snapshots were equal
func (d SnapshotDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares s (older) with newer. A nil snapshot is empty.
func (s SourceSnapshot) Diff(newer SourceSnapshot) SnapshotDiff {
	var d SnapshotDiff
	for src, digest := range s {
		newDigest, ok := newer[src]
		switch {
		case !ok:
			d.Removed = append(d.Removed, src)
		case newDigest != digest:
			d.Changed = append(d.Changed, src)
		}
	}
	for src := range newer {
		if _, ok := s[src]; !ok {
			d.Added = append(d.Added, src)
		}
	}
	sortSources(d.Added)
	sortSources(d.Removed)
	sortSources(d.Changed)
	return d
}

func sortSources(sources []NodeSource) {
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
}
