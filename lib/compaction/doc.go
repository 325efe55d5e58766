// Package compaction decides how long a store may spend compacting when it
// is closed.
//
// A Policy reads the two fragmentation metrics of a store, overall file
// utilization (FillRate) and page packing (ChunkFillRate), and returns a
// time budget. The default Thresholds policy returns:
//
//	both rates > 80  -> 0 (skip compaction)
//	both rates > 60  -> 100ms
//	otherwise        -> 300ms
//
// Fixed supplies constant rates, for tests and for stores that cannot
// measure themselves.
package compaction
