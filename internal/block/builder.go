// builder.go implements data/index block building with the cell store's
// two key-compression schemes.
//
// Adapted from the teacher's block.Builder: the shared/unshared prefix
// varint encoding and sharedPrefixLength helper are the same technique,
// but restart points and the binary-search footer are dropped — the
// cell store format has no per-block restart index (random access is
// at block granularity only, via the fixed/variable index blocks in
// package cellstore), so entries carry a plain one-key lookback instead.
package block

import "github.com/hypertable-go/rangestore/internal/encoding"

// KeyCompression selects how successive keys in a data block are encoded.
type KeyCompression uint16

const (
	// Identity stores each key in full.
	Identity KeyCompression = 0
	// Prefix stores (shared_prefix_len, unshared_suffix) against the
	// previous key in the block, with a one-key lookback.
	Prefix KeyCompression = 1
)

func (k KeyCompression) String() string {
	if k == Prefix {
		return "Prefix"
	}
	return "Identity"
}

// Builder accumulates (key, value) pairs for one block, in ascending key
// order, and produces the block's uncompressed payload bytes.
type Builder struct {
	scheme  KeyCompression
	buf     []byte
	lastKey []byte
	entries int
}

// NewBuilder creates a block builder using the given key-compression scheme.
func NewBuilder(scheme KeyCompression) *Builder {
	return &Builder{scheme: scheme}
}

// Add appends one (key, value) pair. Keys must be added in ascending order.
func (b *Builder) Add(key, value []byte) {
	switch b.scheme {
	case Prefix:
		shared := sharedPrefixLength(b.lastKey, key)
		unshared := key[shared:]
		b.buf = encoding.AppendVarint32(b.buf, uint32(shared))
		b.buf = encoding.AppendVarint32(b.buf, uint32(len(unshared)))
		b.buf = append(b.buf, unshared...)
	default: // Identity
		b.buf = encoding.AppendVarint32(b.buf, uint32(len(key)))
		b.buf = append(b.buf, key...)
	}
	b.buf = encoding.AppendVarint32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.entries++
}

// Entries returns the number of (key, value) pairs added so far.
func (b *Builder) Entries() int { return b.entries }

// Size returns the current uncompressed payload size.
func (b *Builder) Size() int { return len(b.buf) }

// Empty reports whether any entries have been added.
func (b *Builder) Empty() bool { return b.entries == 0 }

// Finish returns the block's uncompressed payload and resets the builder
// for reuse.
func (b *Builder) Finish() []byte {
	out := b.buf
	b.buf = nil
	b.lastKey = b.lastKey[:0]
	b.entries = 0
	return out
}

// sharedPrefixLength returns the length of the shared prefix between a and b.
func sharedPrefixLength(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
