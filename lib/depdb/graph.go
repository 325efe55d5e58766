package depdb

import (
	"fmt"
	"slices"

	"github.com/ValentinKolb/depstore/lib/graph"
	"github.com/ValentinKolb/depstore/lib/libgraph"
)

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Node returns the stored node of a class
func (db *DB) Node(name string) (*graph.Node, bool, error) {
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	return db.nodes.Get(name)
}

// NodesOf returns the names of the nodes declared by a source
func (db *DB) NodesOf(src graph.NodeSource) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	c, err := db.sourceNodes.Get(src)
	if err != nil {
		return nil, err
	}
	return c.Values(), nil
}

// SourcesOf returns the sources declaring a node
func (db *DB) SourcesOf(name string) ([]graph.NodeSource, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	c, err := db.nodeSources.Get(name)
	if err != nil {
		return nil, err
	}
	return c.Values(), nil
}

// Dependents returns the names of the nodes using a class
func (db *DB) Dependents(class string) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	c, err := db.usages.Get(class)
	if err != nil {
		return nil, err
	}
	return c.Values(), nil
}

// Library returns the record of the last applied version of a library
func (db *DB) Library(name string) (LibraryRecord, bool, error) {
	if err := db.checkOpen(); err != nil {
		return LibraryRecord{}, false, err
	}
	return db.libraries.Get(name)
}

// Libraries calls fn for the name of every stored library until fn returns
// false
func (db *DB) Libraries(fn func(name string) bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.libraries.Keys(fn)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Integrate stores the nodes of a delta with their sources and usages.
// Sources the delta marks as removed are removed first. A node that is
// already stored is replaced; usages it no longer has are dropped from the
// usage index.
func (db *DB) Integrate(delta *graph.Delta) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if removed := delta.Removed(); len(removed) > 0 {
		if err := db.RemoveSources(removed); err != nil {
			return err
		}
	}
	for _, node := range delta.Nodes() {
		if err := db.putNode(node, delta.Sources(node.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) putNode(node *graph.Node, sources []graph.NodeSource) error {
	old, ok, err := db.nodes.Get(node.Name)
	if err != nil {
		return err
	}
	used := node.UsedClasses()
	if ok {
		for _, class := range old.UsedClasses() {
			if !slices.Contains(used, class) {
				if err := db.usages.RemoveValue(class, node.Name); err != nil {
					return err
				}
			}
		}
	}
	if err := db.nodes.Put(node.Name, node); err != nil {
		return err
	}
	if err := db.nodeSources.AppendValues(node.Name, sources); err != nil {
		return err
	}
	for _, src := range sources {
		if err := db.sourceNodes.AppendValue(src, node.Name); err != nil {
			return err
		}
	}
	for _, class := range used {
		if err := db.usages.AppendValue(class, node.Name); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSources detaches the nodes of the given sources. A node left
// without any source is removed together with its usages.
func (db *DB) RemoveSources(sources []graph.NodeSource) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	for _, src := range sources {
		names, err := db.sourceNodes.Get(src)
		if err != nil {
			return err
		}
		if err := db.sourceNodes.Remove(src); err != nil {
			return err
		}
		for name := range names.All() {
			if err := db.nodeSources.RemoveValue(name, src); err != nil {
				return err
			}
			if err := db.dropIfOrphaned(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *DB) dropIfOrphaned(name string) error {
	declared, err := db.nodeSources.ContainsKey(name)
	if err != nil || declared {
		return err
	}
	node, ok, err := db.nodes.Get(name)
	if err != nil || !ok {
		return err
	}
	for _, class := range node.UsedClasses() {
		if err := db.usages.RemoveValue(class, name); err != nil {
			return err
		}
	}
	return db.nodes.Remove(name)
}

// ApplyLibrary moves the stored graph of a library from its past to its
// present version. Sources that vanished or changed are removed, the
// present nodes of added or changed sources are integrated and the library
// record is replaced. A nil past means the snapshot of the stored record.
// An empty present snapshot removes the library record.
func (db *DB) ApplyLibrary(lib libgraph.LibDescriptor, past, present *libgraph.Result) (graph.SnapshotDiff, error) {
	if err := db.checkOpen(); err != nil {
		return graph.SnapshotDiff{}, err
	}
	if present == nil {
		present = libgraph.EmptyResult()
	}

	var pastSnapshot graph.SourceSnapshot
	if past != nil {
		pastSnapshot = past.Snapshot
	} else {
		rec, _, err := db.libraries.Get(lib.Library)
		if err != nil {
			return graph.SnapshotDiff{}, err
		}
		pastSnapshot = rec.Snapshot
	}

	diff := pastSnapshot.Diff(present.Snapshot)
	if err := db.RemoveSources(append(slices.Clone(diff.Removed), diff.Changed...)); err != nil {
		return diff, fmt.Errorf("depdb: removing sources of %s: %w", lib, err)
	}

	wanted := make(map[graph.NodeSource]struct{}, len(diff.Added)+len(diff.Changed))
	for _, src := range append(slices.Clone(diff.Added), diff.Changed...) {
		wanted[src] = struct{}{}
	}
	touched := graph.NewDelta()
	for _, node := range present.Delta.Nodes() {
		for _, src := range present.Delta.Sources(node.Name) {
			if _, ok := wanted[src]; ok {
				touched.Associate(node, src)
			}
		}
	}
	if err := db.Integrate(touched); err != nil {
		return diff, fmt.Errorf("depdb: integrating %s: %w", lib, err)
	}

	if len(present.Snapshot) == 0 {
		return diff, db.libraries.Remove(lib.Library)
	}
	rec := LibraryRecord{Digest: lib.Digest, Path: lib.Path, Snapshot: present.Snapshot}
	return diff, db.libraries.Put(lib.Library, rec)
}
