// Package bstore implements store.IStore on a bbolt file.
//
// Every named map is a top-level bucket. The database runs with NoSync, so
// each IMap.Operate is a single write transaction that reaches the OS but
// not necessarily the disk; Commit calls Sync and is therefore the
// durability barrier of the store.
//
// Operate relies on bolt's single-writer transactions for atomicity. A
// decision to abort rolls the transaction back, so redundant operations do
// not grow the file.
//
// Fill rates come from bolt's own statistics: FillRate relates the file size
// to the bytes held on the freelist, ChunkFillRate relates in-use to
// allocated page bytes across all buckets.
//
// Close accepts a compaction budget. Within that budget the store copies all
// buckets into a fresh file and renames it over the original; if the copy
// does not finish in time it is discarded and the original file stays.
package bstore
