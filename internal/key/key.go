// Package key implements the cell-store key model: the logical cell
// coordinate and its serialized, byte-comparable on-disk form.
//
// A logical key is (row, column family id, column qualifier, flag,
// timestamp, revision). Its serialized form is what every other package
// compares, sorts, and stores — the storage engine has no other notion
// of ordering. This mirrors how RocksDB's internal key packs
// (user_key, sequence, type) into one comparable string; the layout
// here is unrelated, but the technique (control byte + big-endian tail
// so byte comparison gives the right total order) is the same idea.
package key

import (
	"errors"
	"fmt"

	"github.com/hypertable-go/rangestore/internal/encoding"
)

// Flag is the per-cell marker: an insert, or one of three delete scopes.
type Flag uint8

const (
	FlagInsert             Flag = 0
	FlagDeleteRow          Flag = 1
	FlagDeleteColumnFamily Flag = 2
	FlagDeleteCell         Flag = 3
)

func (f Flag) String() string {
	switch f {
	case FlagInsert:
		return "Insert"
	case FlagDeleteRow:
		return "DeleteRow"
	case FlagDeleteColumnFamily:
		return "DeleteColumnFamily"
	case FlagDeleteCell:
		return "DeleteCell"
	default:
		return fmt.Sprintf("Flag(%d)", uint8(f))
	}
}

// IsDelete reports whether the flag marks any of the three tombstone scopes.
func (f Flag) IsDelete() bool { return f != FlagInsert }

// Timestamp sentinels. TIMESTAMP_NULL and TIMESTAMP_AUTO mark "not yet
// assigned" intents at ingest time; a range fills them in before the cell
// reaches any cache or cell store.
const (
	TimestampMin  int64 = -1 << 63
	TimestampMax  int64 = 1<<63 - 1
	TimestampNull int64 = TimestampMin
	TimestampAuto int64 = TimestampMin + 1
)

// RowDeleteCFID is the reserved column-family id carried by row-level
// tombstones; it never names a real column family in any schema.
const RowDeleteCFID uint8 = 0

// Key is the canonical cell coordinate.
type Key struct {
	Row              []byte
	ColumnFamilyCode uint8
	ColumnQualifier  []byte
	Flag             Flag
	Timestamp        int64
	Revision         int64
}

// control byte bit layout: bits 0-1 carry presence flags, bit 2 marks an
// auto-assigned timestamp, bits 4-5 carry the cell Flag (2 bits is
// enough for the four flag values).
const (
	ctrlHasRevision   = 1 << 0
	ctrlHasTimestamp  = 1 << 1
	ctrlTimestampAuto = 1 << 2
	ctrlFlagShift     = 4
	ctrlFlagMask      = 0x3 << ctrlFlagShift
)

var (
	// ErrBadKey matches rangeerr.BadKey; kept local to avoid an import
	// cycle, wrapped into the shared error taxonomy by callers.
	ErrBadKey = errors.New("key: malformed serialized key")
)

// Serialized is the on-disk byte form of a Key. Its byte ordering is the
// engine's only ordering: Serialized values compare correctly with
// bytes.Compare.
type Serialized []byte

// Encode serializes a logical Key into its on-disk form:
//
//	<vlen> <control-byte> [row | 0x00] [cfid] [cq | 0x00] [~ts BE i64]? [~rev BE i64]?
//
// vlen is a varint length of everything after it. Timestamps and
// revisions are stored bitwise-inverted so that larger (newer) values
// sort earlier, giving newest-first traversal of identical
// (row, cfid, cq) triples.
func Encode(k Key) (Serialized, error) {
	if len(k.Row) == 0 {
		return nil, fmt.Errorf("%w: empty row", ErrBadKey)
	}
	for _, b := range k.Row {
		if b == 0 {
			return nil, fmt.Errorf("%w: row contains NUL", ErrBadKey)
		}
	}
	for _, b := range k.ColumnQualifier {
		if b == 0 {
			return nil, fmt.Errorf("%w: column qualifier contains NUL", ErrBadKey)
		}
	}

	ctrl := byte(0)
	hasTS := k.Timestamp != TimestampNull
	hasRev := true // revision is always present in this implementation
	if hasRev {
		ctrl |= ctrlHasRevision
	}
	if hasTS {
		ctrl |= ctrlHasTimestamp
	}
	if k.Timestamp == TimestampAuto {
		ctrl |= ctrlTimestampAuto
	}
	if k.Flag > 3 {
		return nil, fmt.Errorf("%w: invalid flag %d", ErrBadKey, k.Flag)
	}
	ctrl |= byte(k.Flag) << ctrlFlagShift

	tail := make([]byte, 0, len(k.Row)+len(k.ColumnQualifier)+20)
	tail = append(tail, ctrl)
	tail = append(tail, k.Row...)
	tail = append(tail, 0x00)
	tail = append(tail, k.ColumnFamilyCode)
	tail = append(tail, k.ColumnQualifier...)
	tail = append(tail, 0x00)
	if hasTS {
		tail = encoding.AppendFixed64BE(tail, ^uint64(k.Timestamp))
	}
	if hasRev {
		tail = encoding.AppendFixed64BE(tail, ^uint64(k.Revision))
	}

	out := encoding.AppendVarint32(nil, uint32(len(tail)))
	out = append(out, tail...)
	return Serialized(out), nil
}

// Decode parses a serialized key back into its logical form.
func Decode(s Serialized) (Key, int, error) {
	vlen, n, err := encoding.DecodeVarint32(s)
	if err != nil {
		return Key{}, 0, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	total := n + int(vlen)
	if total > len(s) {
		return Key{}, 0, fmt.Errorf("%w: truncated", ErrBadKey)
	}
	tail := s[n:total]
	if len(tail) < 1 {
		return Key{}, 0, fmt.Errorf("%w: missing control byte", ErrBadKey)
	}
	ctrl := tail[0]
	rest := tail[1:]

	nul := indexByte(rest, 0x00)
	if nul < 0 {
		return Key{}, 0, fmt.Errorf("%w: missing row terminator", ErrBadKey)
	}
	row := rest[:nul]
	rest = rest[nul+1:]
	if len(rest) < 1 {
		return Key{}, 0, fmt.Errorf("%w: missing column family id", ErrBadKey)
	}
	cfid := rest[0]
	rest = rest[1:]

	nul = indexByte(rest, 0x00)
	if nul < 0 {
		return Key{}, 0, fmt.Errorf("%w: missing column qualifier terminator", ErrBadKey)
	}
	cq := rest[:nul]
	rest = rest[nul+1:]

	k := Key{
		Row:              row,
		ColumnFamilyCode: cfid,
		ColumnQualifier:  cq,
		Flag:             Flag((ctrl & ctrlFlagMask) >> ctrlFlagShift),
		Timestamp:        TimestampNull,
	}

	if ctrl&ctrlHasTimestamp != 0 {
		if len(rest) < 8 {
			return Key{}, 0, fmt.Errorf("%w: truncated timestamp", ErrBadKey)
		}
		inv := encoding.DecodeFixed64BE(rest[:8])
		rest = rest[8:]
		if ctrl&ctrlTimestampAuto != 0 {
			k.Timestamp = TimestampAuto
		} else {
			k.Timestamp = int64(^inv)
		}
	}
	if ctrl&ctrlHasRevision != 0 {
		if len(rest) < 8 {
			return Key{}, 0, fmt.Errorf("%w: truncated revision", ErrBadKey)
		}
		inv := encoding.DecodeFixed64BE(rest[:8])
		rest = rest[8:]
		k.Revision = int64(^inv)
	}

	return k, total, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Compare orders two serialized keys. Per the format, the vlen prefix and
// control byte are excluded from ordering — only the
// (row, 0x00, cfid, cq, 0x00, ~ts, ~rev) tail is compared, so that flag
// bits packed into the control byte (which do not participate in sort
// order) can't perturb it.
func Compare(a, b Serialized) int {
	return compareBytes(orderingTail(a), orderingTail(b))
}

// orderingTail returns the portion of a serialized key that defines its
// sort order: everything after the vlen prefix and control byte.
func orderingTail(s Serialized) []byte {
	vlen, n, err := encoding.DecodeVarint32(s)
	if err != nil || n+int(vlen) > len(s) || vlen < 1 {
		return s
	}
	return s[n+1 : n+int(vlen)]
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// RowOf extracts the row portion of a serialized key without a full
// Decode; used by bloom-filter insertion and the merge scanner's
// tombstone shadowing, which only ever need the row.
func RowOf(s Serialized) ([]byte, error) {
	k, _, err := Decode(s)
	if err != nil {
		return nil, err
	}
	return k.Row, nil
}
