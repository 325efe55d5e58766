package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Interner hands out one canonical instance per distinct value. It is
// bounded; an evicted value simply becomes canonical again on its next use.
type Interner[T comparable] struct {
	lru *lru.Cache[T, T]
}

// NewInterner creates an interner holding at most capacity values
func NewInterner[T comparable](capacity int) (*Interner[T], error) {
	c, err := lru.New[T, T](capacity)
	if err != nil {
		return nil, err
	}
	return &Interner[T]{lru: c}, nil
}

// Intern returns the canonical instance equal to v, registering v if there is none.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (i *Interner[T]) Intern(v T) T {
	if canonical, ok := i.lru.Get(v); ok {
		return canonical
	}
	if previous, ok, _ := i.lru.PeekOrAdd(v, v); ok {
		return previous
	}
	return v
}

// Len returns the number of registered values
func (i *Interner[T]) Len() int {
	return i.lru.Len()
}

// Purge drops every registered value
func (i *Interner[T]) Purge() {
	i.lru.Purge()
}
