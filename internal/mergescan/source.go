// Package mergescan unites the ascending key streams of a cell cache,
// an optional immutable cache, and any number of cell-store scanners
// into one ascending stream, applying deletion shadowing, version
// limits, time/revision filtering, row/cell limits, and counter
// aggregation.
//
// Adapted from the teacher's internal/iterator.MergingIterator: the
// min-heap-of-children merge structure is kept (same shape as
// RocksDB's table/merging_iterator), generalized from "merge raw
// internal-key iterators" to "merge Source streams and apply this
// format's read-time semantic overlay" — the heap only produces
// candidates in order; everything past that point (tombstones,
// versions, counters, limits) has no teacher equivalent and is built
// directly from the scan semantics this format requires.
package mergescan

import (
	"github.com/hypertable-go/rangestore/internal/cellcache"
)

// Source is one ascending stream of (serialized key, value) pairs.
// cellstore.Scanner already satisfies this directly; cellcache.Cache
// is wrapped by CacheSource below.
type Source interface {
	// Next advances to the next entry (or, before any call, to the
	// first) and reports whether the source is positioned on a valid
	// entry.
	Next() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Err() error
}

// CacheSource adapts a cellcache.Cache's iterator, which is always
// already positioned at its first entry on creation, to the Source
// contract (first Next() call reports that position rather than
// advancing past it).
type CacheSource struct {
	it      *cellcache.Iterator
	started bool
}

// NewCacheSource creates a Source over c's current contents.
func NewCacheSource(c *cellcache.Cache) *CacheSource {
	return &CacheSource{it: c.NewIterator()}
}

// Next implements Source.
func (s *CacheSource) Next() bool {
	if !s.started {
		s.started = true
	} else {
		s.it.Next()
	}
	return s.it.Valid()
}

// Valid implements Source.
func (s *CacheSource) Valid() bool { return s.it.Valid() }

// Key implements Source.
func (s *CacheSource) Key() []byte { return s.it.Key() }

// Value implements Source.
func (s *CacheSource) Value() []byte { return s.it.Value() }

// Err implements Source. A cache iterator never errors.
func (s *CacheSource) Err() error { return nil }
