// Package hashset is a generic set backed by a map.
package hashset

import (
	"cmp"
	"maps"
	"slices"
)

type Set[T comparable] map[T]struct{}

func New[T comparable]() Set[T] {
	return Set[T]{}
}

// From builds a set of vals, dropping duplicates.
func From[T comparable](vals []T) Set[T] {
	set := make(Set[T], len(vals))
	set.Add(vals...)
	return set
}

func (s Set[T]) Add(vals ...T) {
	for _, v := range vals {
		s[v] = struct{}{}
	}
}

func (s Set[T]) Delete(vals ...T) {
	for _, v := range vals {
		delete(s, v)
	}
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Difference returns the elements of s that are not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	result := New[T]()
	for v := range s {
		if !other.Has(v) {
			result.Add(v)
		}
	}
	return result
}

// Sorted returns the elements in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(maps.Keys(s))
}
