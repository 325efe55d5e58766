/*
Package depdb persists the dependency graph of a build across sessions.

A DB owns one store and builds its indexes from maplets: the nodes by name,
the sources declaring each node and the reverse mapping, the usage index
from a class to the nodes using it, and one record per applied library.
Strings inside records are stored as enumerator ids and decoded usages are
interned, so repeated class and member names cost little in memory and on
disk.

Typical use after loading library graphs:

	db, err := depdb.Open(opts)
	...
	diff, err := db.ApplyLibrary(desc, past, present)
	...
	err = db.Commit()
	...
	err = db.Close()

Commit runs the two-phase protocol: the data maps are committed, then the
enumerator flushes its new strings, and a second commit makes them durable
if there were any. Close commits, asks the compaction policy for a budget
based on the store fragmentation and closes the store with it.

The backing store is not exposed. All access goes through the DB so merges
never interleave with raw store access.
*/
package depdb
