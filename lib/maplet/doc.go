// Package maplet provides typed persistent maps on top of a store.IMap.
//
// A Maplet maps a key to one value; putting an empty value removes the key.
// A MultiMaplet maps a key to a collection of values of a Kind:
//
//   - KindSet: deduplicated, kept in first-insertion order
//   - KindList: ordered, duplicates allowed
//
// AppendValue(s) and RemoveValue(s) are merges. They run inside the store's
// atomic IMap.Operate and decide, from the stored and the provided values,
// whether to write, delete or abort:
//
//	append:  provided empty              -> abort
//	         stored empty                -> write provided
//	         set and nothing new         -> abort
//	         otherwise                   -> write stored ++ provided
//	remove:  stored or provided empty    -> abort
//	         set and nothing in common   -> abort
//	         result empty                -> delete the key
//	         otherwise                   -> write stored \ provided
//
// An abort writes nothing and leaves the store version unchanged, so
// redundant merges cost a read only. A key is never stored with an empty
// collection.
//
// Encoding failures are returned as *store.Error with code RetCCodec and
// the map name; they are not retried.
//
// NewCachingMaplet and NewCachingMultiMaplet put a bounded LRU in front of
// a maplet. Writes through the wrapper invalidate the key, and a read that
// overlapped a write is not admitted to the cache, so caching never changes
// what a caller observes.
package maplet
