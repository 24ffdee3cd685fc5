// Package cellcache's Cache is the ordered in-memory map described by
// the access group's write path: serialized key to value bytes, with
// counter-family summation, freeze/unfreeze for compaction handoff,
// split-row candidate selection, and tombstone counting for the
// garbage tracker.
package cellcache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/hypertable-go/rangestore/internal/encoding"
	"github.com/hypertable-go/rangestore/internal/key"
)

var (
	// ErrFrozen is returned by any write attempted against a frozen cache.
	ErrFrozen = errors.New("cellcache: cache is frozen")
	// ErrUnfreezeTooLate is returned when Unfreeze is called after a scan
	// has already made forward progress against the frozen cache.
	ErrUnfreezeTooLate = errors.New("cellcache: cannot unfreeze after scan progress")
	// ErrBadCounterValue is returned when a counter insert's payload
	// isn't an 8-byte big-endian integer.
	ErrBadCounterValue = errors.New("cellcache: counter value must be 8 bytes")
)

// Cache is an ordered map from serialized key to value bytes, the
// active write buffer for one access group.
type Cache struct {
	mu      sync.Mutex
	list    *skipList
	frozen  bool
	touched bool

	deletes   int64
	dataBytes int64
}

// New creates an empty, writable cache.
func New() *Cache {
	return &Cache{list: newSkipList()}
}

// Insert adds or replaces an ordinary (non-counter) entry. Fails with
// ErrFrozen if the cache has been frozen.
func (c *Cache) Insert(serialized key.Serialized, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	c.recordStats(serialized, value)
	c.list.insert([]byte(serialized), value)
	return nil
}

// InsertCounter adds a counter-family entry: if an entry already
// exists at this exact serialized key, its 8-byte big-endian payload
// is summed with value's rather than replaced. value must itself be
// an 8-byte big-endian integer.
func (c *Cache) InsertCounter(serialized key.Serialized, value []byte) error {
	if len(value) != 8 {
		return fmt.Errorf("%w: got %d bytes", ErrBadCounterValue, len(value))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}

	delta := int64(encoding.DecodeFixed64BE(value))
	if node, ok := c.list.get([]byte(serialized)); ok {
		if len(node.v) != 8 {
			return ErrBadCounterValue
		}
		sum := int64(encoding.DecodeFixed64BE(node.v)) + delta
		node.v = encoding.AppendFixed64BE(nil, uint64(sum))
		return nil
	}
	c.recordStats(serialized, value)
	c.list.insert([]byte(serialized), value)
	return nil
}

func (c *Cache) recordStats(serialized key.Serialized, value []byte) {
	c.dataBytes += int64(len(serialized) + len(value))
	if k, _, err := key.Decode(serialized); err == nil && k.Flag.IsDelete() {
		c.deletes++
	}
}

// Freeze seals the cache: subsequent writes fail with ErrFrozen, and
// concurrent scans are safe without locking against writers.
func (c *Cache) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Frozen reports whether the cache has been sealed.
func (c *Cache) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// Unfreeze reopens the cache for writes, for the compaction-abort path
// where an immutable cache is merged back into the live cache. Valid
// only if no scan has yet made forward progress against this cache
// while it was frozen (see NewIterator).
func (c *Cache) Unfreeze() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.touched {
		return ErrUnfreezeTooLate
	}
	c.frozen = false
	return nil
}

// Len returns the number of distinct keys in the cache.
func (c *Cache) Len() int64 {
	return c.list.len()
}

// Bytes returns the approximate accumulated size of keys and values
// inserted into the cache.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataBytes
}

// DeleteCount returns the number of tombstone entries seen so far,
// consulted by the garbage tracker.
func (c *Cache) DeleteCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes
}

// Iterator walks a Cache's entries in ascending key order.
type Iterator struct {
	it *skipIterator
}

// NewIterator returns an iterator positioned before the first entry.
// Marks the cache as touched: once any iterator has been created
// against a frozen cache, Unfreeze can no longer succeed.
func (c *Cache) NewIterator() *Iterator {
	c.mu.Lock()
	c.touched = true
	c.mu.Unlock()
	it := &Iterator{it: c.list.newIterator()}
	it.it.seekToFirst()
	return it
}

// Valid reports whether the iterator sits on an entry.
func (it *Iterator) Valid() bool { return it.it.valid() }

// Next advances to the next entry.
func (it *Iterator) Next() { it.it.next() }

// Key returns the current entry's serialized key.
func (it *Iterator) Key() []byte { return it.it.key() }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.it.value() }

// maxSplitCandidates bounds how many rows SplitRows ever returns.
const maxSplitCandidates = 3

// SplitRows returns candidate split-row keys, heuristically chosen
// near the cache's median by entry count. Returns nil for an empty or
// single-row cache.
func (c *Cache) SplitRows() [][]byte {
	var rows [][]byte
	it := c.list.newIterator()
	it.seekToFirst()
	var lastRow []byte
	for it.valid() {
		row, err := key.RowOf(key.Serialized(it.key()))
		if err == nil && (lastRow == nil || !bytes.Equal(row, lastRow)) {
			rows = append(rows, row)
			lastRow = row
		}
		it.next()
	}
	if len(rows) < 2 {
		return nil
	}

	mid := len(rows) / 2
	lo := mid - maxSplitCandidates/2
	if lo < 0 {
		lo = 0
	}
	hi := lo + maxSplitCandidates
	if hi > len(rows) {
		hi = len(rows)
		lo = hi - maxSplitCandidates
		if lo < 0 {
			lo = 0
		}
	}
	return rows[lo:hi]
}
