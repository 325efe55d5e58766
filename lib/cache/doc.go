// Package cache provides the bounded interning cache and the memory based
// sizing shared by all caches of a store.
//
// Sizing follows the amount of physical memory reported by pbnjay/memory;
// Interner is an LRU of canonical values built on hashicorp/golang-lru.
package cache
