// Package cellstore implements the immutable on-disk cell store: the
// writer that lays out data blocks, the fixed/variable index blocks, an
// optional bloom filter, and the trailer; and the reader that opens a
// finalized file back up for range scans.
//
// Adapted from the teacher's table.TableBuilder/TableReader (footer,
// metaindex, block-handle bookkeeping) in internal/table: same "flush
// blocks as you go, write a small fixed-size summary at the end" shape,
// generalized from RocksDB's variable-length footer+metaindex-block
// scheme to this format's fixed 148-byte trailer.
package cellstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/hypertable-go/rangestore/internal/block"
	"github.com/hypertable-go/rangestore/internal/compression"
	"github.com/hypertable-go/rangestore/internal/filter"
)

// TrailerVersion is the only file-format version this reader/writer
// understands. Files stamped with any other version are rejected.
const TrailerVersion = 4

// TrailerLen is the fixed, on-disk size of the trailer in bytes.
const TrailerLen = 148

// Flag bits recorded in the trailer's Flags field.
const (
	FlagIndex64Bit      uint32 = 1 << 0
	FlagSplit           uint32 = 1 << 1
	FlagMajorCompaction uint32 = 1 << 2
)

// Trailer is the fixed-size record at the end of every cell store file.
type Trailer struct {
	FixIndexOffset       uint64
	VarIndexOffset       uint64
	FilterOffset         uint64
	IndexEntries         uint64
	TotalEntries         uint64
	FilterLengthBits     uint64
	FilterItemsEstimate  uint64
	FilterItemsActual    uint64
	Blocksize            uint64
	Revision             int64
	TimestampMin         int64
	TimestampMax         int64
	ExpirationTime       int64
	CreateTime           int64
	ExpirableDataBytes   uint64
	TableID              uint32
	TableGeneration      uint32
	Flags                uint32
	Alignment            uint32
	CompressionRatio     float32
	CompressionType      compression.Type
	KeyCompressionScheme block.KeyCompression
	BloomFilterMode      filter.Mode
	BloomFilterHashCount uint8
	Version              uint16
}

// ErrBadTrailer is returned when a trailer fails to decode or carries an
// unsupported version.
var ErrBadTrailer = fmt.Errorf("cellstore: bad trailer")

// Encode serializes t into a TrailerLen-byte buffer.
func (t Trailer) Encode() []byte {
	out := make([]byte, TrailerLen)
	binary.LittleEndian.PutUint64(out[0:8], t.FixIndexOffset)
	binary.LittleEndian.PutUint64(out[8:16], t.VarIndexOffset)
	binary.LittleEndian.PutUint64(out[16:24], t.FilterOffset)
	binary.LittleEndian.PutUint64(out[24:32], t.IndexEntries)
	binary.LittleEndian.PutUint64(out[32:40], t.TotalEntries)
	binary.LittleEndian.PutUint64(out[40:48], t.FilterLengthBits)
	binary.LittleEndian.PutUint64(out[48:56], t.FilterItemsEstimate)
	binary.LittleEndian.PutUint64(out[56:64], t.FilterItemsActual)
	binary.LittleEndian.PutUint64(out[64:72], t.Blocksize)
	binary.LittleEndian.PutUint64(out[72:80], uint64(t.Revision))
	binary.LittleEndian.PutUint64(out[80:88], uint64(t.TimestampMin))
	binary.LittleEndian.PutUint64(out[88:96], uint64(t.TimestampMax))
	binary.LittleEndian.PutUint64(out[96:104], uint64(t.ExpirationTime))
	binary.LittleEndian.PutUint64(out[104:112], uint64(t.CreateTime))
	binary.LittleEndian.PutUint64(out[112:120], t.ExpirableDataBytes)
	binary.LittleEndian.PutUint32(out[120:124], t.TableID)
	binary.LittleEndian.PutUint32(out[124:128], t.TableGeneration)
	binary.LittleEndian.PutUint32(out[128:132], t.Flags)
	binary.LittleEndian.PutUint32(out[132:136], t.Alignment)
	binary.LittleEndian.PutUint32(out[136:140], math.Float32bits(t.CompressionRatio))
	binary.LittleEndian.PutUint16(out[140:142], uint16(t.CompressionType))
	binary.LittleEndian.PutUint16(out[142:144], uint16(t.KeyCompressionScheme))
	out[144] = uint8(t.BloomFilterMode)
	out[145] = t.BloomFilterHashCount
	binary.LittleEndian.PutUint16(out[146:148], t.Version)
	return out
}

// DecodeTrailer parses a TrailerLen-byte buffer. It rejects any version
// other than TrailerVersion.
func DecodeTrailer(src []byte) (Trailer, error) {
	if len(src) < TrailerLen {
		return Trailer{}, fmt.Errorf("%w: short trailer (%d bytes)", ErrBadTrailer, len(src))
	}
	var t Trailer
	t.FixIndexOffset = binary.LittleEndian.Uint64(src[0:8])
	t.VarIndexOffset = binary.LittleEndian.Uint64(src[8:16])
	t.FilterOffset = binary.LittleEndian.Uint64(src[16:24])
	t.IndexEntries = binary.LittleEndian.Uint64(src[24:32])
	t.TotalEntries = binary.LittleEndian.Uint64(src[32:40])
	t.FilterLengthBits = binary.LittleEndian.Uint64(src[40:48])
	t.FilterItemsEstimate = binary.LittleEndian.Uint64(src[48:56])
	t.FilterItemsActual = binary.LittleEndian.Uint64(src[56:64])
	t.Blocksize = binary.LittleEndian.Uint64(src[64:72])
	t.Revision = int64(binary.LittleEndian.Uint64(src[72:80]))
	t.TimestampMin = int64(binary.LittleEndian.Uint64(src[80:88]))
	t.TimestampMax = int64(binary.LittleEndian.Uint64(src[88:96]))
	t.ExpirationTime = int64(binary.LittleEndian.Uint64(src[96:104]))
	t.CreateTime = int64(binary.LittleEndian.Uint64(src[104:112]))
	t.ExpirableDataBytes = binary.LittleEndian.Uint64(src[112:120])
	t.TableID = binary.LittleEndian.Uint32(src[120:124])
	t.TableGeneration = binary.LittleEndian.Uint32(src[124:128])
	t.Flags = binary.LittleEndian.Uint32(src[128:132])
	t.Alignment = binary.LittleEndian.Uint32(src[132:136])
	t.CompressionRatio = math.Float32frombits(binary.LittleEndian.Uint32(src[136:140]))
	t.CompressionType = compression.Type(binary.LittleEndian.Uint16(src[140:142]))
	t.KeyCompressionScheme = block.KeyCompression(binary.LittleEndian.Uint16(src[142:144]))
	t.BloomFilterMode = filter.Mode(src[144])
	t.BloomFilterHashCount = src[145]
	t.Version = binary.LittleEndian.Uint16(src[146:148])
	if t.Version != TrailerVersion {
		return Trailer{}, fmt.Errorf("%w: version %d, want %d", ErrBadTrailer, t.Version, TrailerVersion)
	}
	return t, nil
}

// Index64Bit reports whether the file's block offsets are 64-bit wide.
func (t Trailer) Index64Bit() bool { return t.Flags&FlagIndex64Bit != 0 }

// nowNanos is the injection point for CreateTime so callers (and tests)
// can supply a deterministic clock; production callers pass time.Now().
func nowNanos(now time.Time) int64 { return now.UnixNano() }
