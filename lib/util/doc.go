// Package util provides small helpers shared by the store backends and the
// library graph code.
//
// The package contains:
//   - functions: seeded FNV-1a string hashing (HashString) used for shard selection,
//     and ShortHash (xxhash, base 36) used to shorten library path prefixes
//   - statistics: a SizeHistogram of record sizes and a Stats summary used by
//     store implementations to report size estimates
package util
