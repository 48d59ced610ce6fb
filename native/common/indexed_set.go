package common

import "fmt"

// IndexedSet is an insertion-ordered set with O(1) insert, lookup and removal.
// Keys live in a dense slice and a side map records each key's 1-based slot so
// that a zero index always means "absent". Removal uses swap-delete: the last
// key moves into the vacated slot and its index entry is corrected.
//
// The zero value is ready to use. IndexedSet is not safe for concurrent use.
type IndexedSet[K comparable] struct {
	keys  []K
	index map[K]int
}

// NewIndexedSet returns an empty set with room for capacity keys.
func NewIndexedSet[K comparable](capacity int) *IndexedSet[K] {
	return &IndexedSet[K]{
		keys:  make([]K, 0, capacity),
		index: make(map[K]int, capacity),
	}
}

// Insert appends key when absent. It reports whether the set changed.
func (s *IndexedSet[K]) Insert(key K) bool {
	if s.index == nil {
		s.index = make(map[K]int)
	}
	if s.index[key] != 0 {
		return false
	}
	s.keys = append(s.keys, key)
	s.index[key] = len(s.keys)
	return true
}

// Remove swap-deletes key. It reports whether the key was present.
func (s *IndexedSet[K]) Remove(key K) bool {
	idx := s.index[key]
	if idx == 0 {
		return false
	}
	if idx > len(s.keys) || s.keys[idx-1] != key {
		panic(fmt.Sprintf("indexed set: index %d out of sync for %v", idx, key))
	}
	last := len(s.keys)
	if idx != last {
		moved := s.keys[last-1]
		s.keys[idx-1] = moved
		s.index[moved] = idx
	}
	var zero K
	s.keys[last-1] = zero
	s.keys = s.keys[:last-1]
	delete(s.index, key)
	return true
}

// Contains reports whether key is present.
func (s *IndexedSet[K]) Contains(key K) bool { return s.index[key] != 0 }

// IndexOf returns the 1-based slot of key, or 0 when absent.
func (s *IndexedSet[K]) IndexOf(key K) int { return s.index[key] }

// Len returns the number of keys.
func (s *IndexedSet[K]) Len() int { return len(s.keys) }

// At returns the key stored at the 0-based position i.
func (s *IndexedSet[K]) At(i int) K { return s.keys[i] }

// Keys returns a copy of the keys in slot order.
func (s *IndexedSet[K]) Keys() []K {
	out := make([]K, len(s.keys))
	copy(out, s.keys)
	return out
}

// Clear drops every key while keeping allocated capacity.
func (s *IndexedSet[K]) Clear() {
	var zero K
	for i := range s.keys {
		s.keys[i] = zero
	}
	s.keys = s.keys[:0]
	for k := range s.index {
		delete(s.index, k)
	}
}

// Clone returns an independent copy of the set.
func (s *IndexedSet[K]) Clone() *IndexedSet[K] {
	if s == nil {
		return nil
	}
	clone := NewIndexedSet[K](len(s.keys))
	for _, k := range s.keys {
		clone.keys = append(clone.keys, k)
		clone.index[k] = len(clone.keys)
	}
	return clone
}

// Validate checks that the slice and the side index agree.
func (s *IndexedSet[K]) Validate() error {
	if len(s.index) != len(s.keys) {
		return fmt.Errorf("indexed set: %d keys but %d index entries", len(s.keys), len(s.index))
	}
	for i, k := range s.keys {
		if got := s.index[k]; got != i+1 {
			return fmt.Errorf("indexed set: key %v at slot %d indexed as %d", k, i+1, got)
		}
	}
	return nil
}
