// Package codec serializes typed values to and from the byte records kept
// in a backing store.
//
// An Externalizer writes a value into an Encoder and reads it back from a
// Decoder. The encoding is a compact binary format: integers are varints,
// strings and byte slices carry a uvarint length prefix, and collections
// are a uvarint element count followed by each element.
//
// Besides the scalar externalizers the package offers:
//   - EnumeratedString: strings written as ids of an Enumerator
//   - Interned: decoded values canonicalized through an Interner
//   - CBOR: structured records encoded with fxamacker/cbor
//
// Marshal and Unmarshal turn an externalizer into standalone records;
// Unmarshal rejects records with trailing bytes.
package codec
