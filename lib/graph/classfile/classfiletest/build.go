// Package classfiletest assembles minimal class files for tests.
package classfiletest

import (
	"encoding/binary"

	"github.com/ValentinKolb/depstore/lib/graph"
)

// Class describes the class file to build
type Class struct {
	Name       string
	Super      string // Empty means java/lang/Object
	Interfaces []string
	Access     uint16 // 0 means public
	Fields     []graph.Member
	Methods    []graph.Member
	Uses       []graph.Usage // Extra references put into the constant pool
}

// Build returns the bytes of a class file for c. Member bodies are empty;
// every member gets one dummy attribute so readers have to skip it.
func Build(c Class) []byte {
	b := &builder{index: map[string]uint16{}}

	super := c.Super
	if super == "" {
		super = "java/lang/Object"
	}
	access := c.Access
	if access == 0 {
		access = 0x0001
	}

	this := b.class(c.Name)
	superIdx := b.class(super)
	var ifaces []uint16
	for _, i := range c.Interfaces {
		ifaces = append(ifaces, b.class(i))
	}
	type member struct{ access, name, desc uint16 }
	members := func(ms []graph.Member) []member {
		var out []member
		for _, m := range ms {
			out = append(out, member{m.Access, b.utf8(m.Name), b.utf8(m.Descriptor)})
		}
		return out
	}
	fields := members(c.Fields)
	methods := members(c.Methods)
	attr := b.utf8("Dummy")
	for _, u := range c.Uses {
		switch u.Kind {
		case graph.UsageClass:
			b.class(u.Owner)
		case graph.UsageField:
			b.ref(9, u.Owner, u.Name, "I")
		default:
			b.ref(10, u.Owner, u.Name, "()V")
		}
	}
	// a long constant takes two pool slots
	b.pool = append(b.pool, 5, 0, 0, 0, 0, 0, 0, 0, 42)
	b.count += 2

	out := binary.BigEndian.AppendUint32(nil, 0xCAFEBABE)
	out = binary.BigEndian.AppendUint16(out, 0)  // minor
	out = binary.BigEndian.AppendUint16(out, 52) // major: Java 8
	out = binary.BigEndian.AppendUint16(out, b.count+1)
	out = append(out, b.pool...)
	out = binary.BigEndian.AppendUint16(out, access)
	out = binary.BigEndian.AppendUint16(out, this)
	out = binary.BigEndian.AppendUint16(out, superIdx)
	out = binary.BigEndian.AppendUint16(out, uint16(len(ifaces)))
	for _, i := range ifaces {
		out = binary.BigEndian.AppendUint16(out, i)
	}
	for _, ms := range [][]member{fields, methods} {
		out = binary.BigEndian.AppendUint16(out, uint16(len(ms)))
		for _, m := range ms {
			out = binary.BigEndian.AppendUint16(out, m.access)
			out = binary.BigEndian.AppendUint16(out, m.name)
			out = binary.BigEndian.AppendUint16(out, m.desc)
			out = binary.BigEndian.AppendUint16(out, 1) // attributes
			out = binary.BigEndian.AppendUint16(out, attr)
			out = binary.BigEndian.AppendUint32(out, 3)
			out = append(out, 1, 2, 3)
		}
	}
	out = binary.BigEndian.AppendUint16(out, 0) // class attributes
	return out
}

// builder collects constant pool entries, deduplicated by content
type builder struct {
	pool  []byte
	count uint16 // slots used; the next index is count+1
	index map[string]uint16
}

func (b *builder) add(key string, entry []byte) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	b.pool = append(b.pool, entry...)
	b.count++
	b.index[key] = b.count
	return b.count
}

func (b *builder) utf8(s string) uint16 {
	entry := []byte{1}
	entry = binary.BigEndian.AppendUint16(entry, uint16(len(s)))
	entry = append(entry, s...)
	return b.add("utf8:"+s, entry)
}

func (b *builder) class(name string) uint16 {
	nameIdx := b.utf8(name)
	return b.add("class:"+name, binary.BigEndian.AppendUint16([]byte{7}, nameIdx))
}

func (b *builder) ref(tag byte, owner, name, desc string) uint16 {
	ownerIdx := b.class(owner)
	nameIdx := b.utf8(name)
	descIdx := b.utf8(desc)
	nat := b.add("nat:"+name+":"+desc, binary.BigEndian.AppendUint16(binary.BigEndian.AppendUint16([]byte{12}, nameIdx), descIdx))
	entry := binary.BigEndian.AppendUint16(binary.BigEndian.AppendUint16([]byte{tag}, ownerIdx), nat)
	return b.add(string(rune(tag))+":"+owner+"."+name+":"+desc, entry)
}
