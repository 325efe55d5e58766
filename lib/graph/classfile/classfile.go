package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ValentinKolb/depstore/lib/graph"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const magic = 0xCAFEBABE

// Access flags
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccSynthetic uint16 = 0x1000
	AccModule    uint16 = 0x8000
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// ErrMalformed is returned by Read for bytes that are not a class file
var ErrMalformed = errors.New("classfile: malformed class file")

// --------------------------------------------------------------------------
// Entry point
// --------------------------------------------------------------------------

// Parse returns the node of a library entry. The boolean is false if the
// entry has no ABI: it is not a .class file, is module-info or
// package-info, cannot be parsed, or is a synthetic class.
func Parse(entryPath string, data []byte) (*graph.Node, bool) {
	if !strings.HasSuffix(entryPath, ".class") {
		return nil, false
	}
	switch path.Base(entryPath) {
	case "module-info.class", "package-info.class":
		return nil, false
	}
	node, err := Read(data)
	if err != nil {
		return nil, false
	}
	if node.Access&(AccSynthetic|AccModule) != 0 {
		return nil, false
	}
	return node, true
}

// Read parses a class file into a node. Private and synthetic members are
// left out; usages come from the class, field and method references of the
// constant pool.
func Read(data []byte) (*graph.Node, error) {
	r := &reader{buf: data}
	if r.u4() != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	r.u2() // minor
	r.u2() // major

	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}

	node := &graph.Node{}
	node.Access = r.u2()
	if node.Name, err = pool.className(r.u2()); err != nil {
		return nil, err
	}
	if superIdx := r.u2(); superIdx != 0 {
		if node.Super, err = pool.className(superIdx); err != nil {
			return nil, err
		}
	}
	for n := r.u2(); n > 0 && r.err == nil; n-- {
		iface, err := pool.className(r.u2())
		if err != nil {
			return nil, err
		}
		node.Interfaces = append(node.Interfaces, iface)
	}
	if node.Fields, err = readMembers(r, pool); err != nil {
		return nil, err
	}
	if node.Methods, err = readMembers(r, pool); err != nil {
		return nil, err
	}
	// class attributes are not needed
	skipAttributes(r)
	if r.err != nil {
		return nil, r.err
	}

	node.Usages = pool.usages(node.Name)
	return node, nil
}

func readMembers(r *reader, pool *constantPool) ([]graph.Member, error) {
	var members []graph.Member
	for n := r.u2(); n > 0 && r.err == nil; n-- {
		access := r.u2()
		name, err := pool.utf8(r.u2())
		if err != nil {
			return nil, err
		}
		desc, err := pool.utf8(r.u2())
		if err != nil {
			return nil, err
		}
		skipAttributes(r)
		if access&(AccPrivate|AccSynthetic) != 0 {
			continue
		}
		members = append(members, graph.Member{Name: name, Descriptor: desc, Access: access})
	}
	return members, r.err
}

func skipAttributes(r *reader) {
	for n := r.u2(); n > 0 && r.err == nil; n-- {
		r.u2() // name
		r.skip(int(r.u4()))
	}
}

// --------------------------------------------------------------------------
// Constant pool
// --------------------------------------------------------------------------

type constant struct {
	tag  uint8
	a, b uint16 // indices, meaning depends on tag
	utf8 string
}

type constantPool struct {
	entries []constant // index 0 is unused
}

func readPool(r *reader) (*constantPool, error) {
	count := int(r.u2())
	pool := &constantPool{entries: make([]constant, count)}
	for i := 1; i < count && r.err == nil; i++ {
		c := constant{tag: r.u1()}
		wide := false
		switch c.tag {
		case TagUtf8:
			c.utf8 = string(r.bytes(int(r.u2())))
		case TagInteger, TagFloat:
			r.skip(4)
		case TagLong, TagDouble:
			r.skip(8)
			wide = true
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.a = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.a, c.b = r.u2(), r.u2()
		case TagMethodHandle:
			r.u1()
			c.a = r.u2()
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %d at index %d", ErrMalformed, c.tag, i)
		}
		pool.entries[i] = c
		if wide {
			// longs and doubles take two slots
			i++
		}
	}
	return pool, r.err
}

func (p *constantPool) get(idx uint16, tag uint8) (constant, error) {
	if int(idx) <= 0 || int(idx) >= len(p.entries) || p.entries[idx].tag != tag {
		return constant{}, fmt.Errorf("%w: bad constant index %d (want tag %d)", ErrMalformed, idx, tag)
	}
	return p.entries[idx], nil
}

func (p *constantPool) utf8(idx uint16) (string, error) {
	c, err := p.get(idx, TagUtf8)
	return c.utf8, err
}

func (p *constantPool) className(idx uint16) (string, error) {
	c, err := p.get(idx, TagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(c.a)
}

// usages collects the references of the pool. Array classes resolve to
// their element class; primitive arrays and self references are dropped.
func (p *constantPool) usages(self string) []graph.Usage {
	seen := map[graph.Usage]struct{}{}
	var usages []graph.Usage
	add := func(u graph.Usage) {
		if u.Owner == "" || u.Owner == self {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		usages = append(usages, u)
	}

	for _, c := range p.entries {
		switch c.tag {
		case TagClass:
			if name, err := p.utf8(c.a); err == nil {
				add(graph.Usage{Kind: graph.UsageClass, Owner: elementClass(name)})
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			owner, err := p.className(c.a)
			if err != nil {
				continue
			}
			nat, err := p.get(c.b, TagNameAndType)
			if err != nil {
				continue
			}
			name, err := p.utf8(nat.a)
			if err != nil {
				continue
			}
			kind := graph.UsageMethod
			if c.tag == TagFieldref {
				kind = graph.UsageField
			}
			add(graph.Usage{Kind: kind, Owner: elementClass(owner), Name: name})
		}
	}
	return usages
}

// elementClass returns the class of an array descriptor like "[[Lfoo/Bar;",
// "" for primitive arrays and name itself otherwise
func elementClass(name string) string {
	if !strings.HasPrefix(name, "[") {
		return name
	}
	elem := strings.TrimLeft(name, "[")
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1]
	}
	return ""
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// reader reads big endian values and remembers the first error; reads after
// an error return zero values
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: unexpected end at offset %d", ErrMalformed, r.pos)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}
