// Package graph holds the domain types of the dependency graph: nodes
// (the ABI of one compiled class), their usages, the sources nodes come
// from, deltas of added and removed nodes, and per-library source
// snapshots.
//
// A library member's NodeSource is "<prefix>!/<entry path>". The prefix is
// derived from the library's identity (its name or canonical path), never
// from the file the archive was read from: a canonical path has its parent
// directory replaced by a short hash, a plain name is used verbatim.
package graph
