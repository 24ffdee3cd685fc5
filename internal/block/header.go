// Package block implements the cell store's block format: the
// fixed-size block header (magic, lengths, checksum) that prefixes every
// data/fixed-index/variable-index block, and the block builder/iterator
// that lay out and read back a block's (key, value) payload, optionally
// prefix-compressed.
//
// The builder/iterator shape — shared/unshared prefix compression with a
// restart-point index for binary search within a block — is adapted
// directly from the teacher's block builder and iterator; the entry
// format and header are this format's own (fixed header with a
// Fletcher-32 checksum, not RocksDB's trailer-based block checksum).
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/hypertable-go/rangestore/internal/checksum"
	"github.com/hypertable-go/rangestore/internal/compression"
)

// HeaderLen is the fixed size, in bytes, of a block header.
const HeaderLen = 10 + 2 + 4 + 4 + 2 + 4 // magic + hlen + ulen + clen + ctype + checksum

// Magic values identify which of the three block kinds follows.
var (
	DataMagic = [10]byte{'D', 'a', 't', 'a', '-', '-', '-', '-', '-', '-'}
	FixMagic  = [10]byte{'I', 'd', 'x', 'F', 'i', 'x', '-', '-', '-', '-'}
	VarMagic  = [10]byte{'I', 'd', 'x', 'V', 'a', 'r', '-', '-', '-', '-'}
)

// Header is the fixed-size header in front of every compressed block.
type Header struct {
	Magic            [10]byte
	UncompressedLen  uint32
	CompressedLen    uint32
	CompressionType  compression.Type
	Checksum         uint32
}

// ErrBadMagic is returned when a block's magic doesn't match any known kind.
var ErrBadMagic = fmt.Errorf("block: bad magic")

// ErrChecksumMismatch is returned when a block's checksum doesn't verify.
var ErrChecksumMismatch = fmt.Errorf("block: checksum mismatch")

// ErrTruncated is returned when there isn't enough data for a full header+payload.
var ErrTruncated = fmt.Errorf("block: truncated")

// Encode writes a header for a compressed payload. The checksum is
// computed over the compressed bytes, as the format requires.
func Encode(magic [10]byte, uncompressed, compressed []byte, ctype compression.Type) []byte {
	out := make([]byte, HeaderLen)
	copy(out[0:10], magic[:])
	binary.LittleEndian.PutUint16(out[10:12], HeaderLen)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(uncompressed)))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(compressed)))
	binary.LittleEndian.PutUint16(out[20:22], uint16(ctype))
	sum := checksum.Fletcher32(compressed)
	binary.LittleEndian.PutUint32(out[22:26], sum)
	return out
}

// Decode parses a block header from the front of src. It does not verify
// the checksum (that requires the payload, read separately by the
// caller); use VerifyPayload once the payload bytes are available.
func Decode(src []byte) (Header, error) {
	if len(src) < HeaderLen {
		return Header{}, ErrTruncated
	}
	var h Header
	copy(h.Magic[:], src[0:10])
	hlen := binary.LittleEndian.Uint16(src[10:12])
	if int(hlen) != HeaderLen {
		return Header{}, fmt.Errorf("%w: unexpected header length %d", ErrBadMagic, hlen)
	}
	if h.Magic != DataMagic && h.Magic != FixMagic && h.Magic != VarMagic {
		return Header{}, ErrBadMagic
	}
	h.UncompressedLen = binary.LittleEndian.Uint32(src[12:16])
	h.CompressedLen = binary.LittleEndian.Uint32(src[16:20])
	h.CompressionType = compression.Type(binary.LittleEndian.Uint16(src[20:22]))
	h.Checksum = binary.LittleEndian.Uint32(src[22:26])
	return h, nil
}

// VerifyPayload checks the header's checksum against the given
// (compressed) payload bytes.
func (h Header) VerifyPayload(compressed []byte) error {
	if uint32(len(compressed)) != h.CompressedLen {
		return fmt.Errorf("%w: length %d != header %d", ErrTruncated, len(compressed), h.CompressedLen)
	}
	if checksum.Fletcher32(compressed) != h.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// WriteBlock compresses payload with ctype and returns header+compressed
// payload, ready to append to a cell store file.
func WriteBlock(magic [10]byte, payload []byte, ctype compression.Type) ([]byte, error) {
	compressed, err := compression.Compress(ctype, payload)
	if err != nil {
		return nil, fmt.Errorf("block: compress: %w", err)
	}
	header := Encode(magic, payload, compressed, ctype)
	out := make([]byte, 0, len(header)+len(compressed))
	out = append(out, header...)
	out = append(out, compressed...)
	return out, nil
}

// ReadBlock decodes a header+compressed payload previously produced by
// WriteBlock and returns the decompressed payload.
func ReadBlock(src []byte) (payload []byte, consumed int, err error) {
	h, err := Decode(src)
	if err != nil {
		return nil, 0, err
	}
	end := HeaderLen + int(h.CompressedLen)
	if end > len(src) {
		return nil, 0, ErrTruncated
	}
	compressed := src[HeaderLen:end]
	if err := h.VerifyPayload(compressed); err != nil {
		return nil, 0, err
	}
	payload, err = compression.Decompress(h.CompressionType, compressed, int(h.UncompressedLen))
	if err != nil {
		return nil, 0, fmt.Errorf("block: decompress: %w", err)
	}
	return payload, end, nil
}
