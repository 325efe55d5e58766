package graph

import (
	"sort"
)

// Delta is a set of graph changes: nodes together with the sources that
// produced them, plus sources whose nodes are gone. A delta built from a
// fresh library load never has removed sources.
type Delta struct {
	nodes   map[string]*Node
	sources map[string][]NodeSource
	removed map[NodeSource]struct{}
}

// NewDelta creates an empty delta
func NewDelta() *Delta {
	return &Delta{
		nodes:   map[string]*Node{},
		sources: map[string][]NodeSource{},
		removed: map[NodeSource]struct{}{},
	}
}

// Associate adds node and records src as one of its sources
func (d *Delta) Associate(node *Node, src NodeSource) {
	d.nodes[node.Name] = node
	for _, s := range d.sources[node.Name] {
		if s == src {
			return
		}
	}
	d.sources[node.Name] = append(d.sources[node.Name], src)
}

// MarkRemoved records that the nodes of src no longer exist
func (d *Delta) MarkRemoved(src NodeSource) {
	d.removed[src] = struct{}{}
}

// Nodes returns the added nodes ordered by name
func (d *Delta) Nodes() []*Node {
	nodes := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// Node returns the added node with the given name
func (d *Delta) Node(name string) (*Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

// Sources returns the sources recorded for the node name
func (d *Delta) Sources(name string) []NodeSource {
	return append([]NodeSource(nil), d.sources[name]...)
}

// Removed returns the removed sources, sorted
func (d *Delta) Removed() []NodeSource {
	removed := make([]NodeSource, 0, len(d.removed))
	for s := range d.removed {
		removed = append(removed, s)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Len returns the number of added nodes
func (d *Delta) Len() int {
	return len(d.nodes)
}

// IsEmpty reports whether the delta neither adds nor removes anything
func (d *Delta) IsEmpty() bool {
	return len(d.nodes) == 0 && len(d.removed) == 0
}
