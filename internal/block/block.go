// block.go implements the block reader/iterator side: given a decoded
// block payload (as produced by Builder.Finish, after compression and
// the fixed header have already been stripped by ReadBlock), decode
// successive (key, value) entries in order.
//
// Adapted from the teacher's block.Iterator: sequential parseCurrentEntry
// advancement is the same idea, simplified because this format has no
// restart-point binary search (see builder.go) — iteration is always
// linear, which is sufficient since callers only ever scan a block
// start-to-end or until a stop key (see package cellstore).
package block

import (
	"fmt"

	"github.com/hypertable-go/rangestore/internal/encoding"
)

// Entry is one decoded (key, value) pair from a block payload.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator walks the entries of one decoded block payload in order.
type Iterator struct {
	scheme  KeyCompression
	data    []byte
	pos     int
	cur     Entry
	lastKey []byte
	err     error
	valid   bool
}

// NewIterator creates an iterator over a decoded block payload.
func NewIterator(scheme KeyCompression, payload []byte) *Iterator {
	return &Iterator{scheme: scheme, data: payload}
}

// Valid reports whether the iterator currently sits on an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Err returns the first decode error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Key returns the current entry's serialized key. Valid until the next Next call.
func (it *Iterator) Key() []byte { return it.cur.Key }

// Value returns the current entry's value. Valid until the next Next call.
func (it *Iterator) Value() []byte { return it.cur.Value }

// Next advances to the next entry, returning false at end-of-block or on error.
func (it *Iterator) Next() bool {
	if it.err != nil || it.pos >= len(it.data) {
		it.valid = false
		return false
	}
	if err := it.parseCurrentEntry(); err != nil {
		it.err = err
		it.valid = false
		return false
	}
	it.valid = true
	return true
}

func (it *Iterator) parseCurrentEntry() error {
	src := it.data[it.pos:]
	var key []byte
	consumed := 0

	switch it.scheme {
	case Prefix:
		shared, n1, err := encoding.DecodeVarint32(src)
		if err != nil {
			return fmt.Errorf("block: bad shared-prefix varint: %w", err)
		}
		rest := src[n1:]
		unsharedLen, n2, err := encoding.DecodeVarint32(rest)
		if err != nil {
			return fmt.Errorf("block: bad unshared-length varint: %w", err)
		}
		rest = rest[n2:]
		if int(unsharedLen) > len(rest) {
			return fmt.Errorf("block: truncated key delta")
		}
		unshared := rest[:unsharedLen]

		if int(shared) > len(it.lastKey) {
			return fmt.Errorf("block: shared-prefix length exceeds last key")
		}
		key = make([]byte, 0, int(shared)+len(unshared))
		key = append(key, it.lastKey[:shared]...)
		key = append(key, unshared...)
		consumed = n1 + n2 + int(unsharedLen)
	default: // Identity
		keyLen, n1, err := encoding.DecodeVarint32(src)
		if err != nil {
			return fmt.Errorf("block: bad key-length varint: %w", err)
		}
		rest := src[n1:]
		if int(keyLen) > len(rest) {
			return fmt.Errorf("block: truncated key")
		}
		key = rest[:keyLen]
		consumed = n1 + int(keyLen)
	}

	rest := src[consumed:]
	valueLen, n3, err := encoding.DecodeVarint32(rest)
	if err != nil {
		return fmt.Errorf("block: bad value-length varint: %w", err)
	}
	rest = rest[n3:]
	if int(valueLen) > len(rest) {
		return fmt.Errorf("block: truncated value")
	}
	value := rest[:valueLen]
	consumed += n3 + int(valueLen)

	it.lastKey = append(it.lastKey[:0], key...)
	it.cur = Entry{Key: key, Value: value}
	it.pos += consumed
	return nil
}

// DecodeAll decodes every entry in a block payload; a convenience for
// callers (tests, bulk readers) that don't need incremental iteration.
func DecodeAll(scheme KeyCompression, payload []byte) ([]Entry, error) {
	it := NewIterator(scheme, payload)
	var out []Entry
	for it.Next() {
		out = append(out, Entry{
			Key:   append([]byte(nil), it.Key()...),
			Value: append([]byte(nil), it.Value()...),
		})
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	return out, nil
}
