package cellstore

import (
	"fmt"
	"io"

	"github.com/hypertable-go/rangestore/internal/block"
	"github.com/hypertable-go/rangestore/internal/blockindex"
	"github.com/hypertable-go/rangestore/internal/checksum"
	"github.com/hypertable-go/rangestore/internal/compression"
	"github.com/hypertable-go/rangestore/internal/filter"
	"github.com/hypertable-go/rangestore/internal/key"
)

// DefaultAlignment is HT_DIRECT_IO_ALIGNMENT: every region of a cell
// store file (data blocks, index blocks, filter, trailer) is padded out
// to this many bytes.
const DefaultAlignment = 512

// DefaultMaxAppendsOutstanding bounds write-side memory: at most this
// many block appends may be in flight against the filesystem at once.
// The in-process Writer below has no async append pipeline of its own
// (io.Writer is synchronous), so this constant documents the design
// value a Filesystem-backed implementation must honor; it is exported
// for such callers.
const DefaultMaxAppendsOutstanding = 3

// WriterOptions configures a Writer.
type WriterOptions struct {
	// BlockSize is the target uncompressed size of a data block, before
	// the dynamic compression-ratio adjustment described below.
	BlockSize int
	Compression compression.Type
	KeyScheme   block.KeyCompression
	BloomMode   filter.Mode
	// BloomFalsePositiveProbability selects the bits-per-item the real
	// filter is built with, once the approximator promotes.
	BloomFalsePositiveProbability float64
	// MaxApproxItems bounds the approximator's unique-token set before
	// it promotes to a sized real filter.
	MaxApproxItems int
	// MaxEntries is an upper-bound estimate of the number of (key,
	// value) pairs that will be added; used to scale the approximator's
	// cardinality estimate at promotion time.
	MaxEntries int
	Alignment  int
}

// DefaultWriterOptions returns sensible defaults.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		BlockSize:                     65536,
		Compression:                   compression.None,
		KeyScheme:                     block.Identity,
		BloomMode:                     filter.Rows,
		BloomFalsePositiveProbability: 0.01,
		MaxApproxItems:                1_000_000,
		MaxEntries:                    1_000_000,
		Alignment:                     DefaultAlignment,
	}
}

// Writer builds one cell store file from a sequence of (key, value)
// pairs presented in strictly ascending serialized-key order.
//
// Adapted from the teacher's table.TableBuilder: the pending-index-entry
// bookkeeping, dynamic block flushing, and block+trailer write sequence
// follow the same shape, generalized to two parallel index builders
// (fixed offsets, variable first-keys) instead of one interleaved index
// block, an approximate-then-real bloom filter instead of a single-pass
// one, and a fixed trailer instead of a variable-length footer.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	dataBuilder     *block.Builder
	fixedIdx        *blockindex.FixedIndexBuilder
	varIdx          *blockindex.VariableIndexBuilder
	pendingFirstKey []byte

	offset          uint64
	targetBlockSize int

	compressedTotal   uint64
	uncompressedTotal uint64

	approxSet       map[string]struct{}
	bloomBuilder    *filter.BloomFilterBuilder
	filterEstimate  uint64

	entries            uint64
	timestampMin       int64
	timestampMax       int64
	haveTimestamp      bool
	revisionMax        int64
	expirationTime     int64
	expirableDataBytes uint64

	finished bool
	err      error
}

// NewWriter creates a Writer that emits a cell store file to w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultWriterOptions().BlockSize
	}
	if opts.Alignment <= 0 {
		opts.Alignment = DefaultAlignment
	}
	if opts.MaxApproxItems <= 0 {
		opts.MaxApproxItems = DefaultWriterOptions().MaxApproxItems
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = opts.MaxApproxItems
	}
	wtr := &Writer{
		w:               w,
		opts:            opts,
		dataBuilder:     block.NewBuilder(opts.KeyScheme),
		fixedIdx:        blockindex.NewFixedIndexBuilder(false),
		varIdx:          blockindex.NewVariableIndexBuilder(),
		targetBlockSize: opts.BlockSize,
		expirationTime:  -1,
	}
	if opts.BloomMode != filter.Disabled {
		wtr.approxSet = make(map[string]struct{})
	}
	return wtr
}

// Add appends the next (serialized key, value) pair. expiresAt is the
// absolute expiration timestamp for TTL-bearing cells, or 0 if the cell
// never expires.
func (wtr *Writer) Add(serialized key.Serialized, value []byte, expiresAt int64) error {
	if wtr.finished {
		return fmt.Errorf("cellstore: writer already finalized")
	}
	if wtr.err != nil {
		return wtr.err
	}

	k, _, err := key.Decode(serialized)
	if err != nil {
		wtr.err = fmt.Errorf("cellstore: bad key: %w", err)
		return wtr.err
	}

	if wtr.dataBuilder.Empty() {
		wtr.pendingFirstKey = append(wtr.pendingFirstKey[:0], []byte(serialized)...)
	}
	wtr.dataBuilder.Add([]byte(serialized), value)

	wtr.entries++
	if !wtr.haveTimestamp {
		wtr.timestampMin, wtr.timestampMax = k.Timestamp, k.Timestamp
		wtr.haveTimestamp = true
	} else {
		if k.Timestamp < wtr.timestampMin {
			wtr.timestampMin = k.Timestamp
		}
		if k.Timestamp > wtr.timestampMax {
			wtr.timestampMax = k.Timestamp
		}
	}
	if k.Revision > wtr.revisionMax {
		wtr.revisionMax = k.Revision
	}
	if expiresAt > 0 {
		if expiresAt > wtr.expirationTime {
			wtr.expirationTime = expiresAt
		}
		wtr.expirableDataBytes += uint64(len(value))
	}

	wtr.insertBloom(k)

	if wtr.dataBuilder.Size() >= wtr.targetBlockSize {
		if err := wtr.flush(); err != nil {
			wtr.err = err
			return err
		}
	}
	return nil
}

func (wtr *Writer) insertBloom(k key.Key) {
	switch wtr.opts.BloomMode {
	case filter.Disabled:
		return
	case filter.RowsCols:
		wtr.insertToken(k.Row)
		wtr.insertToken(filter.RowColToken(k.Row, k.ColumnFamilyCode))
	default: // Rows
		wtr.insertToken(k.Row)
	}
}

func (wtr *Writer) insertToken(tok []byte) {
	if wtr.bloomBuilder != nil {
		wtr.bloomBuilder.AddKey(tok)
		return
	}
	s := string(tok)
	if _, ok := wtr.approxSet[s]; ok {
		return
	}
	wtr.approxSet[s] = struct{}{}
	if len(wtr.approxSet) >= wtr.opts.MaxApproxItems {
		wtr.promoteApproximator()
	}
}

// promoteApproximator estimates the final unique-token cardinality from
// the approximator's fill rate, allocates the real filter sized for
// that estimate, and transfers the approximator's contents into it.
func (wtr *Writer) promoteApproximator() {
	unique := len(wtr.approxSet)
	estimate := uint64(wtr.opts.MaxEntries/wtr.opts.MaxApproxItems) * uint64(unique)
	if estimate < uint64(unique) {
		estimate = uint64(unique)
	}
	wtr.filterEstimate = estimate

	bitsPerItem := filter.BitsPerItemForFalsePositiveProbability(wtr.opts.BloomFalsePositiveProbability)
	wtr.bloomBuilder = filter.NewBloomFilterBuilder(bitsPerItem)
	for tok := range wtr.approxSet {
		wtr.bloomBuilder.AddKey([]byte(tok))
	}
	wtr.approxSet = nil
}

// flush compresses and writes the current data block, records its index
// entries, and recomputes the dynamic target block size from the
// running compression ratio.
func (wtr *Writer) flush() error {
	if wtr.dataBuilder.Empty() {
		return nil
	}
	payload := wtr.dataBuilder.Finish()
	encoded, err := block.WriteBlock(block.DataMagic, payload, wtr.opts.Compression)
	if err != nil {
		return fmt.Errorf("cellstore: flush data block: %w", err)
	}

	wtr.fixedIdx.Add(wtr.offset)
	wtr.varIdx.Add(wtr.pendingFirstKey)

	if err := wtr.writeAligned(encoded); err != nil {
		return err
	}

	wtr.uncompressedTotal += uint64(len(payload))
	wtr.compressedTotal += uint64(len(encoded) - block.HeaderLen)
	if wtr.uncompressedTotal > 0 && wtr.compressedTotal > 0 {
		ratio := float64(wtr.compressedTotal) / float64(wtr.uncompressedTotal)
		if ratio > 0 {
			wtr.targetBlockSize = int(float64(wtr.opts.BlockSize) / ratio)
			if wtr.targetBlockSize <= 0 {
				wtr.targetBlockSize = wtr.opts.BlockSize
			}
		}
	}
	wtr.pendingFirstKey = nil
	return nil
}

// writeAligned writes data, then pads with zero bytes up to the next
// alignment boundary, advancing offset by the padded length.
func (wtr *Writer) writeAligned(data []byte) error {
	if _, err := wtr.w.Write(data); err != nil {
		return fmt.Errorf("cellstore: write: %w", err)
	}
	wtr.offset += uint64(len(data))
	if pad := wtr.paddingFor(len(data)); pad > 0 {
		if _, err := wtr.w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("cellstore: write padding: %w", err)
		}
		wtr.offset += uint64(pad)
	}
	return nil
}

func (wtr *Writer) paddingFor(n int) int {
	align := wtr.opts.Alignment
	rem := n % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

// Finalize flushes the remaining data block, writes the fixed-index,
// variable-index, and bloom-filter regions, then writes the trailer.
// On success the Writer must not be reused.
func (wtr *Writer) Finalize(tableID, generation uint32) (Trailer, error) {
	if wtr.finished {
		return Trailer{}, fmt.Errorf("cellstore: writer already finalized")
	}
	if wtr.err != nil {
		return Trailer{}, wtr.err
	}
	wtr.finished = true

	if err := wtr.flush(); err != nil {
		return Trailer{}, err
	}

	fixIndexOffset := wtr.offset
	fixedPayload := wtr.fixedIdx.Finish()
	encodedFixed, err := block.WriteBlock(block.FixMagic, fixedPayload, wtr.opts.Compression)
	if err != nil {
		return Trailer{}, fmt.Errorf("cellstore: write fixed index: %w", err)
	}
	if err := wtr.writeAligned(encodedFixed); err != nil {
		return Trailer{}, err
	}

	varIndexOffset := wtr.offset
	varPayload := wtr.varIdx.Finish()
	encodedVar, err := block.WriteBlock(block.VarMagic, varPayload, wtr.opts.Compression)
	if err != nil {
		return Trailer{}, fmt.Errorf("cellstore: write variable index: %w", err)
	}
	if err := wtr.writeAligned(encodedVar); err != nil {
		return Trailer{}, err
	}

	var filterOffset uint64
	var filterLengthBits, filterItemsActual uint64
	var hashCount uint8
	if wtr.opts.BloomMode != filter.Disabled {
		if wtr.bloomBuilder == nil && len(wtr.approxSet) > 0 {
			wtr.filterEstimate = uint64(len(wtr.approxSet))
			wtr.promoteApproximator()
		}
		if wtr.bloomBuilder != nil {
			filterItemsActual = uint64(wtr.bloomBuilder.NumKeys())
			data := wtr.bloomBuilder.Finish()
			if len(data) >= 3 {
				hashCount = data[len(data)-3]
			}
			filterLengthBits = uint64(len(data)) * 8
			filterOffset = wtr.offset
			framed := appendChecksum(data)
			if err := wtr.writeAligned(framed); err != nil {
				return Trailer{}, err
			}
		}
	}

	ratio := float32(1.0)
	if wtr.uncompressedTotal > 0 {
		ratio = float32(float64(wtr.compressedTotal) / float64(wtr.uncompressedTotal))
	}

	flags := uint32(0)
	if wtr.fixedIdx.Use64Bit() {
		flags |= FlagIndex64Bit
	}

	trailer := Trailer{
		FixIndexOffset:       fixIndexOffset,
		VarIndexOffset:       varIndexOffset,
		FilterOffset:         filterOffset,
		IndexEntries:         uint64(wtr.fixedIdx.Len()),
		TotalEntries:         wtr.entries,
		FilterLengthBits:     filterLengthBits,
		FilterItemsEstimate:  wtr.filterEstimate,
		FilterItemsActual:    filterItemsActual,
		Blocksize:            uint64(wtr.opts.BlockSize),
		Revision:             wtr.revisionMax,
		TimestampMin:         wtr.timestampMin,
		TimestampMax:         wtr.timestampMax,
		ExpirationTime:       wtr.expirationTime,
		CreateTime:           0,
		ExpirableDataBytes:   wtr.expirableDataBytes,
		TableID:              tableID,
		TableGeneration:      generation,
		Flags:                flags,
		Alignment:            uint32(wtr.opts.Alignment),
		CompressionRatio:     ratio,
		CompressionType:      wtr.opts.Compression,
		KeyCompressionScheme: wtr.opts.KeyScheme,
		BloomFilterMode:      wtr.opts.BloomMode,
		BloomFilterHashCount: hashCount,
		Version:              TrailerVersion,
	}

	encodedTrailer := trailer.Encode()
	if pad := wtr.paddingFor(len(encodedTrailer)); pad > 0 {
		padded := make([]byte, 0, len(encodedTrailer)+pad)
		padded = append(padded, make([]byte, pad)...)
		padded = append(padded, encodedTrailer...)
		if _, err := wtr.w.Write(padded); err != nil {
			return Trailer{}, fmt.Errorf("cellstore: write trailer: %w", err)
		}
	} else {
		if _, err := wtr.w.Write(encodedTrailer); err != nil {
			return Trailer{}, fmt.Errorf("cellstore: write trailer: %w", err)
		}
	}

	return trailer, nil
}

// appendChecksum appends a trailing Fletcher-32 checksum to raw filter
// bytes, matching the format's "raw bit array with checksum" bloom
// filter region (distinct from the magic-prefixed block header used by
// data/index blocks, since the filter region carries no compression).
func appendChecksum(data []byte) []byte {
	sum := checksum.Fletcher32(data)
	out := make([]byte, 0, len(data)+4)
	out = append(out, data...)
	out = encodeFletcherSuffix(out, sum)
	return out
}

func encodeFletcherSuffix(dst []byte, sum uint32) []byte {
	return append(dst,
		byte(sum),
		byte(sum>>8),
		byte(sum>>16),
		byte(sum>>24),
	)
}

// verifyChecksum splits a filter region previously produced by
// appendChecksum back into its raw filter bytes, verifying the trailing
// Fletcher-32 checksum.
func verifyChecksum(framed []byte) ([]byte, error) {
	if len(framed) < 4 {
		return nil, fmt.Errorf("cellstore: filter region truncated")
	}
	data := framed[:len(framed)-4]
	want := uint32(framed[len(framed)-4]) |
		uint32(framed[len(framed)-3])<<8 |
		uint32(framed[len(framed)-2])<<16 |
		uint32(framed[len(framed)-1])<<24
	if checksum.Fletcher32(data) != want {
		return nil, fmt.Errorf("cellstore: filter checksum mismatch")
	}
	return data, nil
}
