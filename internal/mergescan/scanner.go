package mergescan

import (
	"bytes"
	"container/heap"

	"github.com/hypertable-go/rangestore/internal/encoding"
	"github.com/hypertable-go/rangestore/internal/key"
)

// Options carries the per-scan semantic overlay: visibility bounds,
// per-family version limits, TTL cutoffs, row/cell limits, and which
// families aggregate as counters.
type Options struct {
	// Revision is the max revision visible to this scan; entries with
	// a higher revision are skipped. Zero means unbounded.
	Revision int64

	// StartTimestamp/EndTimestamp bound the visible timestamp interval
	// as [StartTimestamp, EndTimestamp). Zero means unbounded on that
	// side. Ignored when ReturnDeletes is set, matching the reader's
	// tombstone-phase scans which must see all tombstones regardless
	// of the data-phase time window.
	StartTimestamp int64
	EndTimestamp   int64

	// ReturnDeletes causes tombstones to be emitted instead of only
	// used to shadow other entries.
	ReturnDeletes bool

	// MaxVersions maps column family id to its version limit; absent
	// or zero means unlimited.
	MaxVersions map[uint8]int

	// FamilyCutoff maps column family id to a TTL cutoff timestamp;
	// entries older than the cutoff are skipped. Absent means no TTL.
	FamilyCutoff map[uint8]int64

	// RowLimit/CellLimit cap the number of distinct rows, and distinct
	// (row, cfid) pairs, the scan will emit. Zero means unbounded.
	RowLimit  int
	CellLimit int

	// CounterFamilies marks which column family ids aggregate
	// contiguous inserts into a running sum instead of emitting each.
	CounterFamilies map[uint8]bool
}

type triple struct {
	row  []byte
	cfid uint8
	cq   []byte
}

func sameTriple(a *triple, row []byte, cfid uint8, cq []byte) bool {
	return a != nil && bytes.Equal(a.row, row) && a.cfid == cfid && bytes.Equal(a.cq, cq)
}

type tombstone struct {
	row  []byte
	cfid uint8
	cq   []byte
	ts   int64
}

type candidate struct {
	serialized []byte
	value      []byte
	k          key.Key
}

type pendingAgg struct {
	serialized []byte
	k          key.Key
	sum        int64
}

// Scanner merges N sources into one ascending (Key, value) stream.
type Scanner struct {
	sources []Source
	h       *sourceHeap
	opts    Options
	started bool
	err     error
	valid   bool

	curKey   []byte
	curValue []byte

	deferred *candidate
	pending  *pendingAgg

	rowDelete  *tombstone
	cfDelete   *tombstone
	cellDelete *tombstone

	lastTriple   *triple
	versionCount int

	rowsSeen  map[string]struct{}
	cellsSeen map[string]struct{}
}

// NewScanner creates a merge scanner over the given sources (cache
// iterators and cell-store scanners) with the given semantic overlay.
func NewScanner(sources []Source, opts Options) *Scanner {
	return &Scanner{
		sources:   sources,
		opts:      opts,
		rowsSeen:  make(map[string]struct{}),
		cellsSeen: make(map[string]struct{}),
	}
}

func (s *Scanner) initHeap() error {
	items := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		if src.Next() {
			items = append(items, src)
		} else if err := src.Err(); err != nil {
			return err
		}
	}
	s.h = &sourceHeap{items: items}
	heap.Init(s.h)
	return nil
}

func (s *Scanner) nextCandidate() (candidate, bool) {
	if s.deferred != nil {
		c := *s.deferred
		s.deferred = nil
		return c, true
	}
	if s.h.Len() == 0 {
		return candidate{}, false
	}
	top, ok := heap.Pop(s.h).(Source)
	if !ok {
		return candidate{}, false
	}
	serialized := append([]byte(nil), top.Key()...)
	value := append([]byte(nil), top.Value()...)
	k, _, err := key.Decode(key.Serialized(serialized))
	if err != nil {
		s.err = err
		return candidate{}, false
	}
	if top.Next() {
		heap.Push(s.h, top)
	} else if err := top.Err(); err != nil {
		s.err = err
		return candidate{}, false
	}
	return candidate{serialized: serialized, value: value, k: k}, true
}

// Next advances to the next output entry. Returns false at end of
// stream or on error; check Err to distinguish the two.
func (s *Scanner) Next() bool {
	if s.err != nil {
		s.valid = false
		return false
	}
	if !s.started {
		s.started = true
		if err := s.initHeap(); err != nil {
			s.err = err
			s.valid = false
			return false
		}
	}

	for {
		c, ok := s.nextCandidate()
		if !ok {
			if s.err != nil {
				s.valid = false
				return false
			}
			if s.pending != nil {
				s.emitPending()
				return true
			}
			s.valid = false
			return false
		}
		if s.err != nil {
			s.valid = false
			return false
		}

		if s.outsideTimeWindow(c.k) {
			continue
		}

		shadowed := s.trackTombstones(c.k)

		if c.k.Flag.IsDelete() {
			if s.flushPendingBefore(&c) {
				return true
			}
			// A tombstone is emitted only in ReturnDeletes mode,
			// whether or not it is itself shadowed by an earlier,
			// more authoritative tombstone.
			if !s.opts.ReturnDeletes {
				continue
			}
			if !s.admitRowCell(c.k) {
				s.valid = false
				return false
			}
			s.setCurrent(c)
			return true
		}

		if shadowed {
			continue
		}

		if s.isCounter(c.k.ColumnFamilyCode) {
			if s.feedCounter(c) {
				continue
			}
			s.emitPending()
			return true
		}

		if s.flushPendingBefore(&c) {
			return true
		}

		if !s.passVersionLimit(c.k) {
			continue
		}
		if !s.admitRowCell(c.k) {
			s.valid = false
			return false
		}
		s.setCurrent(c)
		return true
	}
}

// flushPendingBefore flushes a pending counter aggregation, deferring
// c for reprocessing on the next call. Returns true if a flush
// happened (caller should return true immediately, emission is ready).
func (s *Scanner) flushPendingBefore(c *candidate) bool {
	if s.pending == nil {
		return false
	}
	cc := *c
	s.deferred = &cc
	s.emitPending()
	return true
}

func (s *Scanner) emitPending() {
	p := s.pending
	s.pending = nil
	value := encoding.AppendFixed64BE(nil, uint64(p.sum))
	s.curKey = p.serialized
	s.curValue = value
	s.valid = true
}

func (s *Scanner) isCounter(cfid uint8) bool {
	return s.opts.CounterFamilies != nil && s.opts.CounterFamilies[cfid]
}

// feedCounter absorbs c into the running counter aggregation. Returns
// true if c was absorbed (caller should continue the scan loop
// without emitting); false if a boundary was hit — the previous
// aggregation is ready in s.pending and c has been deferred to start
// the next one.
func (s *Scanner) feedCounter(c candidate) bool {
	delta := int64(0)
	if len(c.value) == 8 {
		delta = int64(encoding.DecodeFixed64BE(c.value))
	}

	if s.pending != nil && sameTriple(&triple{row: s.pending.k.Row, cfid: s.pending.k.ColumnFamilyCode, cq: s.pending.k.ColumnQualifier}, c.k.Row, c.k.ColumnFamilyCode, c.k.ColumnQualifier) {
		s.pending.sum += delta
		return true
	}

	boundary := s.pending != nil
	if boundary {
		s.deferred = &c
		return false
	}
	s.pending = &pendingAgg{serialized: c.serialized, k: c.k, sum: delta}
	return true
}

func (s *Scanner) outsideTimeWindow(k key.Key) bool {
	if s.opts.Revision > 0 && k.Revision > s.opts.Revision {
		return true
	}
	if !s.opts.ReturnDeletes {
		if s.opts.EndTimestamp != 0 && k.Timestamp >= s.opts.EndTimestamp {
			return true
		}
		if s.opts.StartTimestamp != 0 && k.Timestamp < s.opts.StartTimestamp {
			return true
		}
	}
	if s.opts.FamilyCutoff != nil {
		if cutoff, ok := s.opts.FamilyCutoff[k.ColumnFamilyCode]; ok && k.Timestamp < cutoff {
			return true
		}
	}
	return false
}

// trackTombstones updates the remembered row/column-family/cell
// delete state and reports whether k is shadowed by one of them.
// Relies on the stream's ascending order: within one row, the newest
// (largest) timestamp for a given tombstone scope is seen first, so
// the first tombstone observed for a scope is already the
// highest-timestamp one.
func (s *Scanner) trackTombstones(k key.Key) bool {
	if s.rowDelete != nil && !bytes.Equal(s.rowDelete.row, k.Row) {
		s.rowDelete = nil
	}
	if s.cfDelete != nil && (!bytes.Equal(s.cfDelete.row, k.Row) || s.cfDelete.cfid != k.ColumnFamilyCode) {
		s.cfDelete = nil
	}
	if s.cellDelete != nil && (!bytes.Equal(s.cellDelete.row, k.Row) || s.cellDelete.cfid != k.ColumnFamilyCode || !bytes.Equal(s.cellDelete.cq, k.ColumnQualifier)) {
		s.cellDelete = nil
	}

	shadowed := false
	if s.rowDelete != nil && k.Timestamp < s.rowDelete.ts {
		shadowed = true
	}
	if !shadowed && s.cfDelete != nil && k.Timestamp < s.cfDelete.ts {
		shadowed = true
	}
	if !shadowed && s.cellDelete != nil && k.Timestamp < s.cellDelete.ts {
		shadowed = true
	}

	switch k.Flag {
	case key.FlagDeleteRow:
		if s.rowDelete == nil {
			s.rowDelete = &tombstone{row: append([]byte(nil), k.Row...), ts: k.Timestamp}
		}
	case key.FlagDeleteColumnFamily:
		if s.cfDelete == nil {
			s.cfDelete = &tombstone{row: append([]byte(nil), k.Row...), cfid: k.ColumnFamilyCode, ts: k.Timestamp}
		}
	case key.FlagDeleteCell:
		if s.cellDelete == nil {
			s.cellDelete = &tombstone{row: append([]byte(nil), k.Row...), cfid: k.ColumnFamilyCode, cq: append([]byte(nil), k.ColumnQualifier...), ts: k.Timestamp}
		}
	}
	return shadowed
}

func (s *Scanner) passVersionLimit(k key.Key) bool {
	if sameTriple(s.lastTriple, k.Row, k.ColumnFamilyCode, k.ColumnQualifier) {
		s.versionCount++
	} else {
		s.lastTriple = &triple{row: append([]byte(nil), k.Row...), cfid: k.ColumnFamilyCode, cq: append([]byte(nil), k.ColumnQualifier...)}
		s.versionCount = 1
	}
	if s.opts.MaxVersions == nil {
		return true
	}
	max, ok := s.opts.MaxVersions[k.ColumnFamilyCode]
	if !ok || max <= 0 {
		return true
	}
	return s.versionCount <= max
}

func (s *Scanner) admitRowCell(k key.Key) bool {
	rowKey := string(k.Row)
	_, rowSeen := s.rowsSeen[rowKey]
	if !rowSeen && s.opts.RowLimit > 0 && len(s.rowsSeen) >= s.opts.RowLimit {
		return false
	}
	cellKey := rowKey + "\x00" + string([]byte{k.ColumnFamilyCode})
	_, cellSeen := s.cellsSeen[cellKey]
	if !cellSeen && s.opts.CellLimit > 0 && len(s.cellsSeen) >= s.opts.CellLimit {
		return false
	}
	if !rowSeen {
		s.rowsSeen[rowKey] = struct{}{}
	}
	if !cellSeen {
		s.cellsSeen[cellKey] = struct{}{}
	}
	return true
}

func (s *Scanner) setCurrent(c candidate) {
	s.curKey = c.serialized
	s.curValue = c.value
	s.valid = true
}

// Err returns the first error encountered, if any.
func (s *Scanner) Err() error { return s.err }

// Valid reports whether the scanner currently sits on an entry.
func (s *Scanner) Valid() bool { return s.valid }

// Key returns the current entry's serialized key.
func (s *Scanner) Key() []byte { return s.curKey }

// Value returns the current entry's value.
func (s *Scanner) Value() []byte { return s.curValue }
