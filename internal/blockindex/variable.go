package blockindex

import (
	"sort"

	"github.com/hypertable-go/rangestore/internal/encoding"
	"github.com/hypertable-go/rangestore/internal/key"
)

// VariableIndexBuilder accumulates the first serialized key of each data
// block, in the same order as the parallel FixedIndexBuilder.
type VariableIndexBuilder struct {
	buf []byte
	n   int
}

// NewVariableIndexBuilder creates a variable-index builder.
func NewVariableIndexBuilder() *VariableIndexBuilder {
	return &VariableIndexBuilder{}
}

// Add records the first key of the next data block.
func (b *VariableIndexBuilder) Add(firstKey []byte) {
	b.buf = encoding.AppendVarint32(b.buf, uint32(len(firstKey)))
	b.buf = append(b.buf, firstKey...)
	b.n++
}

// Len returns the number of keys recorded so far.
func (b *VariableIndexBuilder) Len() int { return b.n }

// Finish serializes the recorded first keys as a sequence of
// length-prefixed byte strings.
func (b *VariableIndexBuilder) Finish() []byte {
	return b.buf
}

// VariableIndex is a read-only view over a decoded variable-index block
// payload: the first key of every data block, decoded once on
// construction for repeated Lookup/FirstKeyAt calls.
type VariableIndex struct {
	firstKeys [][]byte
}

// NewVariableIndex decodes a variable-index block payload.
func NewVariableIndex(payload []byte) (*VariableIndex, error) {
	var keys [][]byte
	pos := 0
	for pos < len(payload) {
		klen, n, err := encoding.DecodeVarint32(payload[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		if pos+int(klen) > len(payload) {
			return nil, encoding.ErrBufferTooSmall
		}
		keys = append(keys, payload[pos:pos+int(klen)])
		pos += int(klen)
	}
	return &VariableIndex{firstKeys: keys}, nil
}

// Len returns the number of data blocks indexed.
func (idx *VariableIndex) Len() int { return len(idx.firstKeys) }

// FirstKeyAt returns the first key of data block i.
func (idx *VariableIndex) FirstKeyAt(i int) []byte { return idx.firstKeys[i] }

// Lookup returns the index of the data block that may contain the given
// serialized key, using upper_bound(key) - 1 semantics: the block whose
// first key is the largest first-key <= key. Returns -1 if key is
// smaller than every block's first key (no block can contain it).
//
// Comparison goes through key.Compare, not a raw byte comparison: the
// format's ordering excludes the vlen prefix and control byte (see
// package key), and first keys recorded here are full serialized keys.
func (idx *VariableIndex) Lookup(lookupKey []byte) int {
	// sort.Search finds the smallest i for which firstKeys[i] > lookupKey;
	// the candidate block is the one just before that.
	i := sort.Search(len(idx.firstKeys), func(i int) bool {
		return key.Compare(key.Serialized(idx.firstKeys[i]), key.Serialized(lookupKey)) > 0
	})
	return i - 1
}
