package depdb

import (
	"fmt"
	"math"

	"github.com/ValentinKolb/depstore/lib/codec"
	"github.com/ValentinKolb/depstore/lib/graph"
)

// LibraryRecord is what the store remembers about the last applied version
// of a library
type LibraryRecord struct {
	Digest   string               `cbor:"1,keyasint"`
	Path     string               `cbor:"2,keyasint"`
	Snapshot graph.SourceSnapshot `cbor:"3,keyasint,omitempty"`
}

// codecs bundles the externalizers of the dependency indexes. Strings that
// repeat across records go through the enumerator; usages are interned.
type codecs struct {
	name   codec.Externalizer[string]
	source codec.Externalizer[graph.NodeSource]
	node   codec.Externalizer[*graph.Node]
	record codec.Externalizer[LibraryRecord]
}

func newCodecs(en codec.Enumerator, in codec.Interner[graph.Usage]) codecs {
	str := codec.EnumeratedString(en)
	member := memberCodec(str)
	usage := codec.Interned(usageCodec(str), in)
	return codecs{
		name:   str,
		source: sourceCodec(str),
		node:   nodeCodec(str, member, usage),
		record: codec.CBOR[LibraryRecord](),
	}
}

// keys are stored verbatim so the indexes stay readable with bbolt tools
var (
	nameKeys   = codec.String()
	sourceKeys = sourceCodec(codec.String())
)

func sourceCodec(str codec.Externalizer[string]) codec.Externalizer[graph.NodeSource] {
	return codec.Func(
		func(e *codec.Encoder, v graph.NodeSource) error {
			return str.Write(e, string(v))
		},
		func(d *codec.Decoder) (graph.NodeSource, error) {
			s, err := str.Read(d)
			return graph.NodeSource(s), err
		},
	)
}

func readUint16(d *codec.Decoder) (uint16, error) {
	v, err := d.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint16 {
		return 0, fmt.Errorf("access flags %d overflow uint16", v)
	}
	return uint16(v), nil
}

func memberCodec(str codec.Externalizer[string]) codec.Externalizer[graph.Member] {
	return codec.Func(
		func(e *codec.Encoder, m graph.Member) error {
			if err := str.Write(e, m.Name); err != nil {
				return err
			}
			if err := str.Write(e, m.Descriptor); err != nil {
				return err
			}
			e.PutUvarint(uint64(m.Access))
			return nil
		},
		func(d *codec.Decoder) (m graph.Member, err error) {
			if m.Name, err = str.Read(d); err != nil {
				return m, err
			}
			if m.Descriptor, err = str.Read(d); err != nil {
				return m, err
			}
			m.Access, err = readUint16(d)
			return m, err
		},
	)
}

func usageCodec(str codec.Externalizer[string]) codec.Externalizer[graph.Usage] {
	return codec.Func(
		func(e *codec.Encoder, u graph.Usage) error {
			e.PutUvarint(uint64(u.Kind))
			if err := str.Write(e, u.Owner); err != nil {
				return err
			}
			return str.Write(e, u.Name)
		},
		func(d *codec.Decoder) (u graph.Usage, err error) {
			kind, err := d.Uvarint()
			if err != nil {
				return u, err
			}
			if kind > uint64(graph.UsageMethod) {
				return u, fmt.Errorf("unknown usage kind %d", kind)
			}
			u.Kind = graph.UsageKind(kind)
			if u.Owner, err = str.Read(d); err != nil {
				return u, err
			}
			u.Name, err = str.Read(d)
			return u, err
		},
	)
}

func nodeCodec(str codec.Externalizer[string], member codec.Externalizer[graph.Member], usage codec.Externalizer[graph.Usage]) codec.Externalizer[*graph.Node] {
	strs := codec.Collection(str)
	members := codec.Collection(member)
	usages := codec.Collection(usage)
	return codec.Func(
		func(e *codec.Encoder, n *graph.Node) error {
			if err := str.Write(e, n.Name); err != nil {
				return err
			}
			if err := str.Write(e, n.Super); err != nil {
				return err
			}
			if err := strs.Write(e, n.Interfaces); err != nil {
				return err
			}
			e.PutUvarint(uint64(n.Access))
			if err := members.Write(e, n.Fields); err != nil {
				return err
			}
			if err := members.Write(e, n.Methods); err != nil {
				return err
			}
			return usages.Write(e, n.Usages)
		},
		func(d *codec.Decoder) (*graph.Node, error) {
			n := &graph.Node{}
			var err error
			if n.Name, err = str.Read(d); err != nil {
				return nil, err
			}
			if n.Super, err = str.Read(d); err != nil {
				return nil, err
			}
			if n.Interfaces, err = strs.Read(d); err != nil {
				return nil, err
			}
			if n.Access, err = readUint16(d); err != nil {
				return nil, err
			}
			if n.Fields, err = members.Read(d); err != nil {
				return nil, err
			}
			if n.Methods, err = members.Read(d); err != nil {
				return nil, err
			}
			if n.Usages, err = usages.Read(d); err != nil {
				return nil, err
			}
			n.Interfaces = nilIfEmpty(n.Interfaces)
			n.Fields = nilIfEmpty(n.Fields)
			n.Methods = nilIfEmpty(n.Methods)
			n.Usages = nilIfEmpty(n.Usages)
			return n, nil
		},
	)
}

func nilIfEmpty[V any](values []V) []V {
	if len(values) == 0 {
		return nil
	}
	return values
}
