package cellstore

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/hypertable-go/rangestore/internal/block"
	"github.com/hypertable-go/rangestore/internal/blockindex"
	"github.com/hypertable-go/rangestore/internal/filter"
	"github.com/hypertable-go/rangestore/internal/key"
)

// Reader opens a finalized cell store file for range scans, bloom
// queries, and block-indexed lookup.
//
// Adapted from the teacher's table.Reader (lazy metaindex/filter
// loading, ReadBlock-then-cache shape); generalized from RocksDB's
// block-cache-backed random access to this format's simpler in-memory
// fixed/variable index pair, with the same "load lazily, evictable under
// memory pressure" posture (see PurgeIndexes).
type Reader struct {
	r          io.ReaderAt
	fileLength int64
	trailer    Trailer

	startRow, endRow []byte
	restrictedRange  bool

	fixedIdx    *blockindex.FixedIndex
	varIdx      *blockindex.VariableIndex
	bloomReader *filter.BloomFilterReader
}

// Open opens a finalized cell store for reading. startRow/endRow may
// narrow the logical view below the file's own boundary (used when two
// child ranges share one file across a split); pass nil for both to see
// the full file.
func Open(r io.ReaderAt, fileLength int64, trailer Trailer, startRow, endRow []byte) (*Reader, error) {
	if trailer.Version != TrailerVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadTrailer, trailer.Version, TrailerVersion)
	}
	return &Reader{
		r:               r,
		fileLength:      fileLength,
		trailer:         trailer,
		startRow:        startRow,
		endRow:          endRow,
		restrictedRange: len(startRow) > 0 || len(endRow) > 0,
	}, nil
}

// Trailer returns the file's trailer.
func (rd *Reader) Trailer() Trailer { return rd.trailer }

// RestrictedRange reports whether this reader's logical view is
// narrower than the file's own boundary.
func (rd *Reader) RestrictedRange() bool { return rd.restrictedRange }

func (rd *Reader) readBlockAt(offset uint64) ([]byte, error) {
	header := make([]byte, block.HeaderLen)
	if _, err := rd.r.ReadAt(header, int64(offset)); err != nil {
		return nil, fmt.Errorf("cellstore: read block header at %d: %w", offset, err)
	}
	h, err := block.Decode(header)
	if err != nil {
		return nil, err
	}
	total := block.HeaderLen + int(h.CompressedLen)
	full := make([]byte, total)
	copy(full, header)
	if int(h.CompressedLen) > 0 {
		if _, err := rd.r.ReadAt(full[block.HeaderLen:], int64(offset)+int64(block.HeaderLen)); err != nil {
			return nil, fmt.Errorf("cellstore: read block payload at %d: %w", offset, err)
		}
	}
	payload, _, err := block.ReadBlock(full)
	return payload, err
}

// LoadIndexes reads the fixed-index and variable-index blocks into
// memory. Safe to call more than once.
func (rd *Reader) LoadIndexes() error {
	if rd.fixedIdx != nil && rd.varIdx != nil {
		return nil
	}
	fixedPayload, err := rd.readBlockAt(rd.trailer.FixIndexOffset)
	if err != nil {
		return fmt.Errorf("cellstore: load fixed index: %w", err)
	}
	varPayload, err := rd.readBlockAt(rd.trailer.VarIndexOffset)
	if err != nil {
		return fmt.Errorf("cellstore: load variable index: %w", err)
	}
	varIdx, err := blockindex.NewVariableIndex(varPayload)
	if err != nil {
		return fmt.Errorf("cellstore: decode variable index: %w", err)
	}
	rd.fixedIdx = blockindex.NewFixedIndex(fixedPayload, rd.trailer.Index64Bit())
	rd.varIdx = varIdx
	return nil
}

// LoadFilter reads the bloom filter region into memory, if the trailer
// reports one. Safe to call more than once; a no-op when the file has
// no filter (mode Disabled).
func (rd *Reader) LoadFilter() error {
	if rd.trailer.BloomFilterMode == filter.Disabled || rd.trailer.FilterLengthBits == 0 {
		return nil
	}
	if rd.bloomReader != nil {
		return nil
	}
	framedLen := int(rd.trailer.FilterLengthBits/8) + 4
	framed := make([]byte, framedLen)
	if _, err := rd.r.ReadAt(framed, int64(rd.trailer.FilterOffset)); err != nil {
		return fmt.Errorf("cellstore: read filter: %w", err)
	}
	data, err := verifyChecksum(framed)
	if err != nil {
		return fmt.Errorf("cellstore: filter: %w", err)
	}
	rd.bloomReader = filter.NewBloomFilterReader(data)
	return nil
}

// PurgeIndexes drops the in-memory fixed/variable index and filter,
// reclaiming their memory; the next lookup reloads them from disk.
func (rd *Reader) PurgeIndexes() {
	rd.fixedIdx = nil
	rd.varIdx = nil
	rd.bloomReader = nil
}

// MayContainRow reports whether row might be present in this store,
// consulting the bloom filter when the trailer's mode is Rows or
// RowsCols. A store with bloom mode Disabled is always reported as
// possibly containing the row (the filter is never consulted).
func (rd *Reader) MayContainRow(row []byte) (bool, error) {
	if rd.trailer.BloomFilterMode == filter.Disabled {
		return true, nil
	}
	if err := rd.LoadFilter(); err != nil {
		return false, err
	}
	if rd.bloomReader == nil {
		return true, nil
	}
	return rd.bloomReader.MayContain(row), nil
}

// MayContainColumn reports whether (row, cfid) might be present,
// consulting the bloom filter only when the trailer's mode is
// RowsCols; other modes fall back to MayContainRow.
func (rd *Reader) MayContainColumn(row []byte, cfid uint8) (bool, error) {
	if rd.trailer.BloomFilterMode != filter.RowsCols {
		return rd.MayContainRow(row)
	}
	if err := rd.LoadFilter(); err != nil {
		return false, err
	}
	if rd.bloomReader == nil {
		return true, nil
	}
	return rd.bloomReader.MayContain(filter.RowColToken(row, cfid)), nil
}

// BlockForKey returns the index of the data block that may contain the
// serialized key, using upper_bound(K)-1 semantics over the variable
// index. Returns -1 if no block can contain the key.
func (rd *Reader) BlockForKey(serialized key.Serialized) (int, error) {
	if err := rd.LoadIndexes(); err != nil {
		return -1, err
	}
	return rd.varIdx.Lookup([]byte(serialized)), nil
}

// ReadDataBlock decompresses and decodes data block i into its ordered
// entries.
func (rd *Reader) ReadDataBlock(i int) ([]block.Entry, error) {
	if err := rd.LoadIndexes(); err != nil {
		return nil, err
	}
	if i < 0 || i >= rd.fixedIdx.Len() {
		return nil, fmt.Errorf("cellstore: block index %d out of range", i)
	}
	payload, err := rd.readBlockAt(rd.fixedIdx.OffsetAt(i))
	if err != nil {
		return nil, fmt.Errorf("cellstore: read data block %d: %w", i, err)
	}
	return block.DecodeAll(rd.trailer.KeyCompressionScheme, payload)
}

// NumDataBlocks returns the number of data blocks in the file, loading
// the index if necessary.
func (rd *Reader) NumDataBlocks() (int, error) {
	if err := rd.LoadIndexes(); err != nil {
		return 0, err
	}
	return rd.fixedIdx.Len(), nil
}

// Scanner walks a Reader's entries in ascending key order, honoring the
// reader's row-range restriction. It is a single cell-store interval
// sub-scanner; merging several of these across access groups/stores is
// package mergescan's job.
type Scanner struct {
	rd          *Reader
	blockIdx    int
	entries     []block.Entry
	pos         int
	cur         block.Entry
	err         error
	valid       bool
	started     bool
}

// NewScanner creates a scanner over rd's full (possibly row-restricted)
// range.
func NewScanner(rd *Reader) (*Scanner, error) {
	if err := rd.LoadIndexes(); err != nil {
		return nil, err
	}
	return &Scanner{rd: rd, blockIdx: -1}, nil
}

// Next advances to the next entry within range, returning false at
// end-of-store or on error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		s.valid = false
		return false
	}
	if !s.started {
		s.started = true
		if err := s.seekToStart(); err != nil {
			s.err = err
			s.valid = false
			return false
		}
	}
	for {
		if s.pos < len(s.entries) {
			e := s.entries[s.pos]
			s.pos++
			if s.pastEnd(e.Key) {
				s.valid = false
				return false
			}
			s.cur = e
			s.valid = true
			return true
		}
		if !s.advanceBlock() {
			s.valid = false
			return false
		}
	}
}

func (s *Scanner) seekToStart() error {
	if len(s.rd.startRow) == 0 {
		s.blockIdx = 0
		return s.loadBlock(0)
	}
	startKey, err := key.Encode(key.Key{Row: s.rd.startRow, Flag: key.FlagInsert, Timestamp: key.TimestampAuto})
	if err != nil {
		return fmt.Errorf("cellstore: encode start-row sentinel: %w", err)
	}
	idx := s.rd.varIdx.Lookup([]byte(startKey))
	if idx < 0 {
		idx = 0
	}
	s.blockIdx = idx
	if err := s.loadBlock(idx); err != nil {
		return err
	}
	// Skip entries strictly before the start-row boundary within the block.
	for s.pos < len(s.entries) {
		row, err := key.RowOf(key.Serialized(s.entries[s.pos].Key))
		if err != nil {
			return err
		}
		if bytes.Compare(row, s.rd.startRow) >= 0 {
			break
		}
		s.pos++
	}
	return nil
}

func (s *Scanner) advanceBlock() bool {
	next := s.blockIdx + 1
	if next >= s.rd.fixedIdx.Len() {
		return false
	}
	s.blockIdx = next
	if err := s.loadBlock(next); err != nil {
		s.err = err
		return false
	}
	return true
}

func (s *Scanner) loadBlock(i int) error {
	entries, err := s.rd.ReadDataBlock(i)
	if err != nil {
		return err
	}
	s.entries = entries
	s.pos = 0
	return nil
}

func (s *Scanner) pastEnd(serialized []byte) bool {
	if len(s.rd.endRow) == 0 {
		return false
	}
	row, err := key.RowOf(key.Serialized(serialized))
	if err != nil {
		return true
	}
	return bytes.Compare(row, s.rd.endRow) > 0
}

// Err returns the first error encountered, if any.
func (s *Scanner) Err() error { return s.err }

// Valid reports whether the scanner currently sits on an entry.
func (s *Scanner) Valid() bool { return s.valid }

// Key returns the current entry's serialized key.
func (s *Scanner) Key() []byte { return s.cur.Key }

// Value returns the current entry's value.
func (s *Scanner) Value() []byte { return s.cur.Value }

// ReadaheadScanner walks every data block of a store in file order,
// without consulting the block index. It is the interval sub-scanner
// for a full, unrestricted read of a store (compaction and
// garbage-candidacy scans, which always touch every block regardless
// of row range and gain nothing from an index lookup).
type ReadaheadScanner struct {
	rd      *Reader
	offset  uint64
	end     uint64
	entries []block.Entry
	pos     int
	cur     block.Entry
	err     error
	valid   bool
}

// NewReadaheadScanner creates a scanner that reads rd's data region
// sequentially from byte 0 up to the fixed index, ignoring any
// row-range restriction on rd (callers that need a restricted scan
// should use NewScanner or NewPhaseScanner instead).
func NewReadaheadScanner(rd *Reader) *ReadaheadScanner {
	return &ReadaheadScanner{rd: rd, offset: 0, end: rd.trailer.FixIndexOffset}
}

// Next advances to the next entry in file order, returning false at
// end-of-store or on error.
func (s *ReadaheadScanner) Next() bool {
	if s.err != nil {
		s.valid = false
		return false
	}
	for {
		if s.pos < len(s.entries) {
			s.cur = s.entries[s.pos]
			s.pos++
			s.valid = true
			return true
		}
		if s.offset >= s.end {
			s.valid = false
			return false
		}
		entries, next, err := s.rd.readDataBlockAt(s.offset)
		if err != nil {
			s.err = err
			s.valid = false
			return false
		}
		s.entries = entries
		s.pos = 0
		s.offset = next
	}
}

// Err returns the first error encountered, if any.
func (s *ReadaheadScanner) Err() error { return s.err }

// Valid reports whether the scanner currently sits on an entry.
func (s *ReadaheadScanner) Valid() bool { return s.valid }

// Key returns the current entry's serialized key.
func (s *ReadaheadScanner) Key() []byte { return s.cur.Key }

// Value returns the current entry's value.
func (s *ReadaheadScanner) Value() []byte { return s.cur.Value }

// readDataBlockAt reads and decodes the data block starting at offset,
// returning its entries and the aligned offset of the following block.
func (rd *Reader) readDataBlockAt(offset uint64) ([]block.Entry, uint64, error) {
	header := make([]byte, block.HeaderLen)
	if _, err := rd.r.ReadAt(header, int64(offset)); err != nil {
		return nil, 0, fmt.Errorf("cellstore: readahead: read block header at %d: %w", offset, err)
	}
	h, err := block.Decode(header)
	if err != nil {
		return nil, 0, err
	}
	total := block.HeaderLen + int(h.CompressedLen)
	full := make([]byte, total)
	copy(full, header)
	if int(h.CompressedLen) > 0 {
		if _, err := rd.r.ReadAt(full[block.HeaderLen:], int64(offset)+int64(block.HeaderLen)); err != nil {
			return nil, 0, fmt.Errorf("cellstore: readahead: read block payload at %d: %w", offset, err)
		}
	}
	payload, _, err := block.ReadBlock(full)
	if err != nil {
		return nil, 0, err
	}
	entries, err := block.DecodeAll(rd.trailer.KeyCompressionScheme, payload)
	if err != nil {
		return nil, 0, err
	}
	return entries, offset + alignUp(uint64(total), uint64(rd.trailer.Alignment)), nil
}

func alignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	if rem := n % align; rem != 0 {
		return n + (align - rem)
	}
	return n
}

// phaseEntry is one (key, value) pair gathered by a PhaseScanner pass.
type phaseEntry struct {
	serialized []byte
	value      []byte
}

// PhaseScanner scans a single row through three interval sub-scanners —
// its row-delete tombstones, then its column-family-delete tombstones,
// then its data and cell-delete entries — and combines the three
// passes into one ascending stream. Separating the passes lets a
// caller collect every tombstone bearing on the row before it has to
// hold any data entries in memory; because key ordering does not
// depend on the delete flag (see key.Compare), the combined, sorted
// output is a fully ascending cell-store interval sub-scanner like
// Scanner, safe to merge alongside others.
type PhaseScanner struct {
	entries []phaseEntry
	pos     int
}

// NewPhaseScanner creates a phase scanner restricted to a single row.
func NewPhaseScanner(rd *Reader, row []byte) (*PhaseScanner, error) {
	rowDeletes, err := rd.scanRowPhase(row, func(f key.Flag) bool { return f == key.FlagDeleteRow })
	if err != nil {
		return nil, fmt.Errorf("cellstore: phase 1 (row deletes): %w", err)
	}
	cfDeletes, err := rd.scanRowPhase(row, func(f key.Flag) bool { return f == key.FlagDeleteColumnFamily })
	if err != nil {
		return nil, fmt.Errorf("cellstore: phase 2 (column family deletes): %w", err)
	}
	data, err := rd.scanRowPhase(row, func(f key.Flag) bool { return f == key.FlagInsert || f == key.FlagDeleteCell })
	if err != nil {
		return nil, fmt.Errorf("cellstore: phase 3 (data and cell deletes): %w", err)
	}

	all := make([]phaseEntry, 0, len(rowDeletes)+len(cfDeletes)+len(data))
	all = append(all, rowDeletes...)
	all = append(all, cfDeletes...)
	all = append(all, data...)
	sort.Slice(all, func(i, j int) bool {
		return key.Compare(key.Serialized(all[i].serialized), key.Serialized(all[j].serialized)) < 0
	})
	return &PhaseScanner{entries: all}, nil
}

// scanRowPhase runs one block-indexed pass over row, keeping only
// entries whose flag satisfies include.
func (rd *Reader) scanRowPhase(row []byte, include func(key.Flag) bool) ([]phaseEntry, error) {
	if err := rd.LoadIndexes(); err != nil {
		return nil, err
	}
	startKey, err := key.Encode(key.Key{Row: row, Flag: key.FlagInsert, Timestamp: key.TimestampAuto})
	if err != nil {
		return nil, fmt.Errorf("cellstore: encode row sentinel: %w", err)
	}
	idx := rd.varIdx.Lookup([]byte(startKey))
	if idx < 0 {
		idx = 0
	}
	var out []phaseEntry
	for i := idx; i < rd.fixedIdx.Len(); i++ {
		entries, err := rd.ReadDataBlock(i)
		if err != nil {
			return nil, err
		}
		stop := false
		for _, e := range entries {
			r, err := key.RowOf(key.Serialized(e.Key))
			if err != nil {
				return nil, err
			}
			switch bytes.Compare(r, row) {
			case -1:
				continue
			case 1:
				stop = true
			}
			if stop {
				break
			}
			k, _, err := key.Decode(key.Serialized(e.Key))
			if err != nil {
				return nil, err
			}
			if include(k.Flag) {
				out = append(out, phaseEntry{serialized: e.Key, value: e.Value})
			}
		}
		if stop {
			break
		}
	}
	return out, nil
}

// Next advances to the next entry in the combined, sorted stream.
func (s *PhaseScanner) Next() bool {
	if s.pos >= len(s.entries) {
		return false
	}
	s.pos++
	return true
}

// Err always returns nil: a PhaseScanner's three passes surface their
// errors directly from NewPhaseScanner, before scanning begins.
func (s *PhaseScanner) Err() error { return nil }

// Valid reports whether the scanner currently sits on an entry.
func (s *PhaseScanner) Valid() bool { return s.pos > 0 && s.pos <= len(s.entries) }

// Key returns the current entry's serialized key.
func (s *PhaseScanner) Key() []byte { return s.entries[s.pos-1].serialized }

// Value returns the current entry's value.
func (s *PhaseScanner) Value() []byte { return s.entries[s.pos-1].value }
