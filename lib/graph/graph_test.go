package graph

import (
	"testing"

	"github.com/ValentinKolb/depstore/lib/util"
	"github.com/stretchr/testify/assert"
)

func TestNewNodeSource(t *testing.T) {
	src := NewNodeSource("/home/dev/libs/guava.jar", "com/google/Foo.class")
	assert.Equal(t, NodeSource(util.ShortHash("/home/dev/libs")+"/guava.jar!/com/google/Foo.class"), src)

	prefix, entry, ok := src.Split()
	assert.True(t, ok)
	assert.Equal(t, util.ShortHash("/home/dev/libs")+"/guava.jar", prefix)
	assert.Equal(t, "com/google/Foo.class", entry)

	// no parent directory: the path is used verbatim
	assert.Equal(t, NodeSource("guava.jar!/Foo.class"), NewNodeSource("guava.jar", "/Foo.class"))

	// the same library in another directory gets another prefix
	assert.NotEqual(t, NewNodeSource("/a/x.jar", "A.class"), NewNodeSource("/b/x.jar", "A.class"))
	// trailing separators do not change the prefix
	assert.Equal(t, LibraryPrefix("/a/x.jar"), LibraryPrefix("/a//x.jar"))

	_, _, ok = NodeSource("src/Foo.java").Split()
	assert.False(t, ok)
}

func TestDelta(t *testing.T) {
	d := NewDelta()
	assert.True(t, d.IsEmpty())

	b := &Node{Name: "b/B"}
	a := &Node{Name: "a/A"}
	d.Associate(b, "lib!/b/B.class")
	d.Associate(a, "lib!/a/A.class")
	d.Associate(a, "lib!/a/A.class")
	d.Associate(a, "other!/a/A.class")

	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []*Node{a, b}, d.Nodes())
	assert.Equal(t, []NodeSource{"lib!/a/A.class", "other!/a/A.class"}, d.Sources("a/A"))
	assert.Empty(t, d.Removed())

	n, ok := d.Node("b/B")
	assert.True(t, ok)
	assert.Same(t, b, n)

	d.MarkRemoved("lib!/c/C.class")
	assert.Equal(t, []NodeSource{"lib!/c/C.class"}, d.Removed())
}

func TestSnapshotDiff(t *testing.T) {
	past := SourceSnapshot{
		"lib!/A.class": "aa",
		"lib!/B.class": "bb",
		"lib!/C.class": "cc",
	}
	present := SourceSnapshot{
		"lib!/A.class": "aa",
		"lib!/B.class": "b2",
		"lib!/D.class": "dd",
	}

	d := past.Diff(present)
	assert.Equal(t, []NodeSource{"lib!/D.class"}, d.Added)
	assert.Equal(t, []NodeSource{"lib!/C.class"}, d.Removed)
	assert.Equal(t, []NodeSource{"lib!/B.class"}, d.Changed)
	assert.False(t, d.IsEmpty())

	assert.True(t, past.Diff(past).IsEmpty())

	var none SourceSnapshot
	fromNothing := none.Diff(present)
	assert.Equal(t, present.Sources(), fromNothing.Added)
	assert.Empty(t, fromNothing.Removed)
}

func TestUsedClasses(t *testing.T) {
	n := &Node{
		Name: "a/A",
		Usages: []Usage{
			{Kind: UsageClass, Owner: "b/B"},
			{Kind: UsageMethod, Owner: "b/B", Name: "run"},
			{Kind: UsageClass, Owner: "a/A"},
			{Kind: UsageField, Owner: "c/C", Name: "x"},
		},
	}
	assert.Equal(t, []string{"b/B", "c/C"}, n.UsedClasses())
	assert.Equal(t, "b/B.run", n.Usages[1].String())
	assert.Equal(t, "b/B", n.Usages[0].String())
}
