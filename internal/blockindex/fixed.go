// Package blockindex implements the cell store's two index maps: the
// fixed-index block (per-data-block file offsets) and the variable-index
// block (per-data-block first keys), together giving upper_bound(K)-1
// block lookup for a serialized key K.
//
// Adapted from the teacher's table.TableBuilder index-block bookkeeping
// (pendingIndexEntry/pendingHandle/lastKey in builder.go): the same
// "remember the previous block's boundary, emit it once the next block
// starts" pattern, split here into two parallel arrays (offsets, first
// keys) instead of one interleaved index block, because the wire format
// keeps them as two separate block kinds.
package blockindex

import "github.com/hypertable-go/rangestore/internal/encoding"

// FixedIndexBuilder accumulates one file offset per data block, in the
// order data blocks are written. The offset width (32- or 64-bit) is
// fixed for the lifetime of one cell store file.
type FixedIndexBuilder struct {
	use64   bool
	offsets []uint64
}

// NewFixedIndexBuilder creates a fixed-index builder. use64 selects
// 64-bit offsets; the writer widens to this once any offset recorded
// exceeds what a 32-bit offset can hold.
func NewFixedIndexBuilder(use64 bool) *FixedIndexBuilder {
	return &FixedIndexBuilder{use64: use64}
}

// Add records the file offset of the next data block.
func (b *FixedIndexBuilder) Add(offset uint64) {
	if offset > 0xFFFFFFFF {
		b.use64 = true
	}
	b.offsets = append(b.offsets, offset)
}

// Use64Bit reports whether 64-bit offsets are required, either because
// the caller requested them or because a recorded offset overflowed 32 bits.
func (b *FixedIndexBuilder) Use64Bit() bool { return b.use64 }

// Len returns the number of offsets recorded so far.
func (b *FixedIndexBuilder) Len() int { return len(b.offsets) }

// Finish serializes the recorded offsets as a flat array of fixed-width
// (32- or 64-bit) little-endian values.
func (b *FixedIndexBuilder) Finish() []byte {
	width := 4
	if b.use64 {
		width = 8
	}
	out := make([]byte, 0, len(b.offsets)*width)
	for _, off := range b.offsets {
		if b.use64 {
			out = encoding.AppendFixed64(out, off)
		} else {
			out = encoding.AppendFixed32(out, uint32(off))
		}
	}
	return out
}

// FixedIndex is a read-only view over a decoded fixed-index block payload.
type FixedIndex struct {
	use64   bool
	payload []byte
}

// NewFixedIndex wraps a decoded fixed-index block payload for lookup.
func NewFixedIndex(payload []byte, use64 bool) *FixedIndex {
	return &FixedIndex{use64: use64, payload: payload}
}

// Len returns the number of offsets in the index.
func (idx *FixedIndex) Len() int {
	width := 4
	if idx.use64 {
		width = 8
	}
	if width == 0 {
		return 0
	}
	return len(idx.payload) / width
}

// OffsetAt returns the file offset of data block i.
func (idx *FixedIndex) OffsetAt(i int) uint64 {
	if idx.use64 {
		return encoding.DecodeFixed64(idx.payload[i*8 : i*8+8])
	}
	return uint64(encoding.DecodeFixed32(idx.payload[i*4 : i*4+4]))
}
