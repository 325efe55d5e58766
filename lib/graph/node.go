package graph

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/depstore/lib/util"
)

// --------------------------------------------------------------------------
// Usages
// --------------------------------------------------------------------------

// UsageKind tells what a Usage refers to
type UsageKind uint8

const (
	UsageClass  UsageKind = iota // A class, by internal name
	UsageField                   // A field of Owner
	UsageMethod                  // A method of Owner
)

func (k UsageKind) String() string {
	switch k {
	case UsageClass:
		return "class"
	case UsageField:
		return "field"
	case UsageMethod:
		return "method"
	default:
		return "unknown"
	}
}

// Usage is a reference from a node to a class or member. Usages are
// comparable so equal usages can be interned.
type Usage struct {
	Kind  UsageKind
	Owner string // Internal name of the class
	Name  string // Member name, empty for class usages
}

func (u Usage) String() string {
	if u.Kind == UsageClass {
		return u.Owner
	}
	return fmt.Sprintf("%s.%s", u.Owner, u.Name)
}

// --------------------------------------------------------------------------
// Nodes
// --------------------------------------------------------------------------

// Member is a field or method of a node
type Member struct {
	Name       string
	Descriptor string
	Access     uint16
}

// Node is the ABI relevant view of one compiled class
type Node struct {
	Name       string // Internal name, e.g. com/example/Foo
	Super      string
	Interfaces []string
	Access     uint16
	Fields     []Member
	Methods    []Member
	Usages     []Usage
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{%s, %d fields, %d methods, %d usages}", n.Name, len(n.Fields), len(n.Methods), len(n.Usages))
}

// UsedClasses returns the owners of all usages without duplicates, in
// first-use order
func (n *Node) UsedClasses() []string {
	seen := make(map[string]struct{}, len(n.Usages))
	var classes []string
	for _, u := range n.Usages {
		if u.Owner == "" || u.Owner == n.Name {
			continue
		}
		if _, ok := seen[u.Owner]; ok {
			continue
		}
		seen[u.Owner] = struct{}{}
		classes = append(classes, u.Owner)
	}
	return classes
}

// --------------------------------------------------------------------------
// Node sources
// --------------------------------------------------------------------------

// NodeSource identifies where a node came from. For library members it is
// "<prefix>!/<entry path>".
type NodeSource string

// NewNodeSource returns the source of entryPath inside the library rooted
// at root. root is a library name or a canonical library path; a path has
// its parent directory replaced by a short hash, a plain name is used as is.
func NewNodeSource(root, entryPath string) NodeSource {
	return NodeSource(LibraryPrefix(root) + "!/" + strings.TrimPrefix(entryPath, "/"))
}

// LibraryPrefix returns the prefix used in the NodeSources of a library
func LibraryPrefix(root string) string {
	dir, base := filepath.Split(root)
	if dir == "" {
		return root
	}
	return util.ShortHash(filepath.Clean(dir)) + "/" + base
}

// Split returns the library prefix and the entry path of a library member
// source; ok is false for other sources.
func (s NodeSource) Split() (prefix, entry string, ok bool) {
	return strings.Cut(string(s), "!/")
}

func (s NodeSource) String() string {
	return string(s)
}
