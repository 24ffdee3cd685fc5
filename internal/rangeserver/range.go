// Package rangeserver implements the range: the table-identity,
// boundary, and per-access-group bundle a range server hosts, together
// with its write/read paths and its split and relinquish state
// machines.
//
// Grounded directly on this format's own description of range
// behavior (SPEC_FULL.md's Range module and its split/relinquish state
// diagrams) — RocksDB has no equivalent of an externally-assigned row
// range migrating between servers, so nothing here is adapted from a
// teacher file. What it reuses throughout is the teacher's own
// concurrency idiom: update_barrier/scan_barrier are sync.RWMutex used
// as reader-preferring barriers (writers/scanners RLock, a structural
// change Locks), the same shape internal/flush and internal/compaction
// use for their own pause-writers-during-flush windows.
package rangeserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hypertable-go/rangestore/internal/accessgroup"
	"github.com/hypertable-go/rangestore/internal/cellstore"
	"github.com/hypertable-go/rangestore/internal/collab"
	"github.com/hypertable-go/rangestore/internal/filetracker"
	"github.com/hypertable-go/rangestore/internal/key"
	"github.com/hypertable-go/rangestore/internal/logging"
	"github.com/hypertable-go/rangestore/internal/mergescan"
	"github.com/hypertable-go/rangestore/internal/schema"
	"github.com/hypertable-go/rangestore/internal/vfs"
)

// ErrRowOverflow is raised when no candidate split row falls within
// the range's current boundary.
var ErrRowOverflow = errors.New("rangeserver: row overflow, cannot split")

// ErrCancelled is raised when a maintenance operation (split,
// relinquish) is requested while another is already in flight, or
// while the range has been dropped.
var ErrCancelled = errors.New("rangeserver: cancelled")

// ErrDropped is raised by any operation attempted against a range
// that has already been dropped.
var ErrDropped = errors.New("rangeserver: range dropped")

// State is a range's persisted lifecycle state, durable across
// restart via the range-server metadata log.
type State int

const (
	Steady State = iota
	SplitLogInstalled
	SplitShrunk
	RelinquishLogInstalled
	RelinquishDone
)

func (s State) String() string {
	switch s {
	case Steady:
		return "steady"
	case SplitLogInstalled:
		return "split-log-installed"
	case SplitShrunk:
		return "split-shrunk"
	case RelinquishLogInstalled:
		return "relinquish-log-installed"
	case RelinquishDone:
		return "relinquish-done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateRecord is one record of the range-server metadata log: a
// range's identity plus its current lifecycle state block.
type StateRecord struct {
	Table    string
	StartRow []byte
	EndRow   []byte

	State          State
	SplitPoint     []byte
	OldBoundaryRow []byte
	TransferLog    string
	SoftLimit      uint64
}

// MetadataLog is the range-server metadata log (RSML): a sequential
// log of range-entity records. New records must be durable before the
// externally visible side effects they describe.
type MetadataLog interface {
	Append(ctx context.Context, rec StateRecord) error
	// Latest returns the most recently appended record for the range
	// identified by (table, endRow), or ok=false if none exists.
	Latest(ctx context.Context, table string, endRow []byte) (StateRecord, bool, error)
}

// MemMetadataLog is an in-memory MetadataLog, for tests.
type MemMetadataLog struct {
	mu      sync.Mutex
	records []StateRecord
}

// NewMemMetadataLog creates an empty in-memory metadata log.
func NewMemMetadataLog() *MemMetadataLog { return &MemMetadataLog{} }

// Append implements MetadataLog.
func (m *MemMetadataLog) Append(_ context.Context, rec StateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Latest implements MetadataLog.
func (m *MemMetadataLog) Latest(_ context.Context, table string, endRow []byte) (StateRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if rec.Table == table && bytes.Equal(rec.EndRow, endRow) {
			return rec, true, nil
		}
	}
	return StateRecord{}, false, nil
}

// Config carries the fixed, per-range configuration Range needs at
// construction.
type Config struct {
	TableID         uint32
	TableGeneration uint32
	StartRow        []byte
	EndRow          []byte
	Schema          *schema.Schema

	FS            vfs.FS
	Dir           string
	WriterOptions cellstore.WriterOptions

	Metadata collab.MetadataTable
	RSML     MetadataLog

	// SplitSize is the per-access-group disk usage at which a split
	// becomes due. MaximumSize, if nonzero, is the hard cap past which
	// writes are throttled until the next successful split or major
	// compaction.
	SplitSize   uint64
	MaximumSize uint64

	// DropHigh is sticky per range-server process: true means this
	// range retains the lower half of a split, handing the upper half
	// to the new sibling.
	DropHigh bool

	Log logging.Logger
}

func tableKey(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// Range is the table-identity, row-key boundary, and access-group
// bundle a range server hosts for one contiguous row range.
type Range struct {
	tableID         uint32
	tableGeneration uint32
	schema          *schema.Schema

	fs            vfs.FS
	dir           string
	writerOpts    cellstore.WriterOptions
	metadata      collab.MetadataTable
	rsml          MetadataLog
	splitSize     uint64
	maximumSize   uint64
	dropHigh      bool
	log           logging.Logger

	updateBarrier sync.RWMutex
	scanBarrier   sync.RWMutex

	mu         sync.Mutex
	startRow   []byte
	endRow     []byte
	groups     map[string]*accessgroup.AccessGroup
	groupOrder []string

	state           State
	splitPoint      []byte
	oldBoundaryRow  []byte
	transferLogPath string
	softLimit       uint64

	revision       int64
	latestRevision int64

	dropped          bool
	maintenanceBusy  bool
	capacityExceeded bool
}

// New creates a Range fresh, with an empty access group set for every
// access group named in sch, and persists its initial Steady record.
func New(ctx context.Context, cfg Config) (*Range, error) {
	r, err := build(cfg)
	if err != nil {
		return nil, err
	}
	if r.rsml != nil {
		rec := StateRecord{Table: tableKey(cfg.TableID), StartRow: r.startRow, EndRow: r.endRow, State: Steady, SoftLimit: r.softLimit}
		if err := r.rsml.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("rangeserver: new: persist initial state: %w", err)
		}
	}
	return r, nil
}

// Open loads a Range from its most recently persisted state record
// (if any) and reopens every access group's existing cell stores from
// the metadata table's Files columns. If the persisted state is not
// Steady, the caller should call Resume to finish whatever split or
// relinquish was interrupted.
func Open(ctx context.Context, cfg Config) (*Range, error) {
	r, err := build(cfg)
	if err != nil {
		return nil, err
	}
	if r.rsml != nil {
		rec, ok, err := r.rsml.Latest(ctx, tableKey(cfg.TableID), cfg.EndRow)
		if err != nil {
			return nil, fmt.Errorf("rangeserver: open: read latest state: %w", err)
		}
		if ok {
			r.startRow = rec.StartRow
			r.endRow = rec.EndRow
			r.state = rec.State
			r.splitPoint = rec.SplitPoint
			r.oldBoundaryRow = rec.OldBoundaryRow
			r.transferLogPath = rec.TransferLog
			if rec.SoftLimit > 0 {
				r.softLimit = rec.SoftLimit
			}
			if rec.State == RelinquishDone {
				r.dropped = true
			}
		}
	}
	if r.metadata != nil {
		if err := r.reopenStores(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func build(cfg Config) (*Range, error) {
	if cfg.FS == nil {
		return nil, fmt.Errorf("rangeserver: build: FS is required")
	}
	log := cfg.Log
	if log == nil {
		log = logging.Discard
	}
	softLimit := cfg.SplitSize
	r := &Range{
		tableID:         cfg.TableID,
		tableGeneration: cfg.TableGeneration,
		schema:          cfg.Schema,
		fs:              cfg.FS,
		dir:             cfg.Dir,
		writerOpts:      cfg.WriterOptions,
		metadata:        cfg.Metadata,
		rsml:            cfg.RSML,
		splitSize:       cfg.SplitSize,
		maximumSize:     cfg.MaximumSize,
		dropHigh:        cfg.DropHigh,
		log:             log,
		startRow:        cfg.StartRow,
		endRow:          cfg.EndRow,
		groups:          make(map[string]*accessgroup.AccessGroup),
		state:           Steady,
		softLimit:       softLimit,
	}
	for _, agName := range cfg.Schema.AccessGroups() {
		families := cfg.Schema.FamiliesInAccessGroup(agName)
		agDir := filepath.Join(cfg.Dir, agName)
		if err := cfg.FS.MkdirAll(agDir, 0o755); err != nil {
			return nil, fmt.Errorf("rangeserver: build: mkdir %s: %w", agDir, err)
		}
		var tracker *filetracker.Tracker
		if cfg.Metadata != nil {
			tracker = filetracker.New(tableKey(cfg.TableID), string(cfg.EndRow), agName, collab.FilesColumnWriter{Table: cfg.Metadata}, log)
		}
		ag := accessgroup.New(accessgroup.Config{
			TableID:         cfg.TableID,
			TableGeneration: cfg.TableGeneration,
			Name:            agName,
			Dir:             agDir,
			FS:              cfg.FS,
			Families:        families,
			WriterOptions:   cfg.WriterOptions,
			SplitSize:       cfg.SplitSize,
			Files:           tracker,
			Log:             log,
		})
		r.groups[agName] = ag
		r.groupOrder = append(r.groupOrder, agName)
	}
	return r, nil
}

// reopenStores discovers each access group's live cell stores from its
// persisted Files metadata column and attaches them via
// AccessGroup.AddExistingStore.
func (r *Range) reopenStores(ctx context.Context) error {
	for _, agName := range r.groupOrder {
		raw, err := r.metadata.ReadColumn(ctx, tableKey(r.tableID), string(r.endRow), "Files", agName)
		if errors.Is(err, collab.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("rangeserver: reopen stores: read Files column for %s: %w", agName, err)
		}
		for _, name := range parseFileList(raw) {
			path := filepath.Join(r.dir, agName, name)
			raf, err := r.fs.OpenRandomAccess(path)
			if err != nil {
				return fmt.Errorf("rangeserver: reopen stores: open %s: %w", path, err)
			}
			trailer, err := readTrailer(raf)
			if err != nil {
				_ = raf.Close()
				return fmt.Errorf("rangeserver: reopen stores: read trailer %s: %w", path, err)
			}
			if err := r.groups[agName].AddExistingStore(name, raf, trailer); err != nil {
				return fmt.Errorf("rangeserver: reopen stores: attach %s: %w", path, err)
			}
		}
	}
	return nil
}

// parseFileList parses a Files column value ("f1;\nf2;\n#f3;\n") into
// its live (non-blocked) file names, skipping blocked ("#"-prefixed)
// entries: those are retired and awaited-on, not to be reopened as
// live stores.
func parseFileList(raw []byte) []string {
	var out []string
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name := bytes.TrimSuffix(line, []byte{';'})
		if len(name) > 0 {
			out = append(out, string(name))
		}
	}
	return out
}

func readTrailer(raf vfs.RandomAccessFile) (cellstore.Trailer, error) {
	size := raf.Size()
	if size < cellstore.TrailerLen {
		return cellstore.Trailer{}, fmt.Errorf("rangeserver: file too small for a trailer")
	}
	buf := make([]byte, cellstore.TrailerLen)
	if _, err := raf.ReadAt(buf, size-cellstore.TrailerLen); err != nil {
		return cellstore.Trailer{}, err
	}
	return cellstore.DecodeTrailer(buf)
}

// TableID, TableGeneration, StartRow, EndRow, State report this
// range's current identity and lifecycle snapshot.
func (r *Range) TableID() uint32 { return r.tableID }

func (r *Range) TableGeneration() uint32 { return r.tableGeneration }

func (r *Range) Boundary() (start, end []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startRow, r.endRow
}

func (r *Range) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Dropped reports whether this range has been dropped; any in-flight
// scan or maintenance operation should unwind without committing.
func (r *Range) Dropped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Drop marks this range as dropped. Subsequent scanner and maintenance
// observations abort cleanly with ErrDropped/ErrCancelled.
func (r *Range) Drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = true
}

// LatestRevision returns the highest revision published by a
// completed write session, which a new scanner captures as its
// visibility bound.
func (r *Range) LatestRevision() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestRevision
}

// Throttled reports whether this range's write path should be
// back-pressured because its aggregate disk usage has exceeded
// MaximumSize. Cleared only by a successful split or major compaction.
func (r *Range) Throttled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacityExceeded
}

// DiskUsage sums on-disk bytes across every access group.
func (r *Range) DiskUsage() int64 {
	r.mu.Lock()
	groups := r.groupOrder
	r.mu.Unlock()
	var total int64
	for _, name := range groups {
		total += r.groups[name].DiskUsage()
	}
	return total
}

func (r *Range) groupFor(cfid uint8) (*accessgroup.AccessGroup, bool) {
	if r.schema == nil {
		return nil, false
	}
	cf, ok := r.schema.ByID(cfid)
	if !ok {
		return nil, false
	}
	ag, ok := r.groups[cf.AccessGroup]
	return ag, ok
}

// WriteSession is the object returned by Lock: every cell destined for
// this range's current write transaction is added through it, and
// Unlock publishes the transaction's maximum revision as the range's
// new latest_revision.
type WriteSession struct {
	r           *Range
	maxRevision int64
	unlocked    bool
}

// Lock begins a write transaction against this range: it blocks until
// no structural change (split, relinquish, shrink, compaction staging)
// is in progress, then admits concurrent writers until the matching
// Unlock.
func (r *Range) Lock() *WriteSession {
	r.updateBarrier.RLock()
	return &WriteSession{r: r}
}

// Add dispatches one cell: a row-level delete fans out to every access
// group this range owns (a row delete has no single owning family),
// anything else goes to the access group owning its column family.
// Out-of-order revisions (a revision not greater than the range's
// current revision) are logged by the owning access group but still
// written, matching this format's durability-over-ordering design.
func (s *WriteSession) Add(k key.Key, serialized key.Serialized, value []byte) error {
	r := s.r
	if k.Revision > s.maxRevision {
		s.maxRevision = k.Revision
	}
	if k.Flag == key.FlagDeleteRow {
		r.mu.Lock()
		order := r.groupOrder
		r.mu.Unlock()
		for _, name := range order {
			if err := r.groups[name].Add(k, serialized, value); err != nil {
				return fmt.Errorf("rangeserver: add row delete: %w", err)
			}
		}
		return nil
	}
	ag, ok := r.groupFor(k.ColumnFamilyCode)
	if !ok {
		return fmt.Errorf("rangeserver: add: no access group owns column family %d", k.ColumnFamilyCode)
	}
	return ag.Add(k, serialized, value)
}

// Unlock ends the write transaction, publishing the maximum revision
// observed during it as the range's new latest_revision, then releases
// the update barrier.
func (s *WriteSession) Unlock() {
	if s.unlocked {
		return
	}
	s.unlocked = true
	r := s.r
	r.mu.Lock()
	if s.maxRevision > r.revision {
		r.revision = s.maxRevision
	}
	r.latestRevision = r.revision
	if r.maximumSize > 0 {
		var total int64
		for _, name := range r.groupOrder {
			total += r.groups[name].DiskUsage()
		}
		if uint64(total) >= r.maximumSize {
			r.capacityExceeded = true
		}
	}
	r.mu.Unlock()
	r.updateBarrier.RUnlock()
}

// ScanContext carries a scan's requested column families alongside the
// semantic overlay CreateScanner needs to restrict and merge per access
// group. A nil Families means every access group participates.
type ScanContext struct {
	Families  []string
	Merge     mergescan.Options
	StartTime int64
	EndTime   int64
	SingleRow []byte
}

// CreateScanner builds a merge scanner over every access group whose
// families intersect ctx.Families (all of them if unset), each already
// merged internally, further merged here into one range-wide ascending
// stream. The scan's visibility bound is the range's latest_revision at
// the moment of this call; cells with a higher revision are invisible
// to it regardless of when they are later durably stored.
func (r *Range) CreateScanner(ctx ScanContext) (*mergescan.Scanner, func(), error) {
	r.scanBarrier.RLock()
	if r.Dropped() {
		r.scanBarrier.RUnlock()
		return nil, nil, ErrDropped
	}

	capturedRevision := r.LatestRevision()
	wanted := make(map[string]bool)
	if len(ctx.Families) > 0 {
		for _, name := range ctx.Families {
			wanted[name] = true
		}
	}

	r.mu.Lock()
	order := r.groupOrder
	r.mu.Unlock()

	perAG := ctx.Merge
	perAG.Revision = capturedRevision
	perAG.RowLimit = 0
	perAG.CellLimit = 0

	var sources []mergescan.Source
	var releases []func()
	for _, name := range order {
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		sc, release, err := r.groups[name].CreateScanner(accessgroup.ScanOptions{
			Merge:     perAG,
			StartTime: ctx.StartTime,
			EndTime:   ctx.EndTime,
			SingleRow: ctx.SingleRow,
		})
		if err != nil {
			for _, rel := range releases {
				rel()
			}
			r.scanBarrier.RUnlock()
			return nil, nil, fmt.Errorf("rangeserver: create scanner: access group %s: %w", name, err)
		}
		sources = append(sources, sc)
		releases = append(releases, release)
	}

	top := mergescan.Options{
		Revision:       capturedRevision,
		StartTimestamp: ctx.Merge.StartTimestamp,
		EndTimestamp:   ctx.Merge.EndTimestamp,
		RowLimit:       ctx.Merge.RowLimit,
		CellLimit:      ctx.Merge.CellLimit,
	}
	scanner := mergescan.NewScanner(sources, top)
	release := func() {
		for _, rel := range releases {
			rel()
		}
		r.scanBarrier.RUnlock()
	}
	return scanner, release, nil
}

func rowInRange(row, start, end []byte) bool {
	if len(start) > 0 && bytes.Compare(row, start) < 0 {
		return false
	}
	if len(end) > 0 && bytes.Compare(row, end) >= 0 {
		return false
	}
	return true
}

// chooseSplitPoint asks every access group for candidate split rows,
// sorts the union, and picks the median. If the median falls outside
// the range's current boundary, it looks for the nearest candidate
// that doesn't; if none does, it reports ErrRowOverflow.
func (r *Range) chooseSplitPoint() ([]byte, error) {
	r.mu.Lock()
	order := r.groupOrder
	start, end := r.startRow, r.endRow
	r.mu.Unlock()

	var all [][]byte
	for _, name := range order {
		all = append(all, r.groups[name].SplitRows()...)
	}
	if len(all) == 0 {
		return nil, ErrRowOverflow
	}
	sort.Slice(all, func(i, j int) bool { return bytes.Compare(all[i], all[j]) < 0 })

	mid := all[len(all)/2]
	if rowInRange(mid, start, end) {
		return mid, nil
	}
	for _, c := range all {
		if rowInRange(c, start, end) {
			return c, nil
		}
	}
	return nil, ErrRowOverflow
}

// acquireMaintenance enforces the single-activator maintenance_guard:
// only one of Split/Relinquish may run against a range at a time.
func (r *Range) acquireMaintenance() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped {
		return ErrDropped
	}
	if r.maintenanceBusy {
		return ErrCancelled
	}
	r.maintenanceBusy = true
	return nil
}

func (r *Range) releaseMaintenance() {
	r.mu.Lock()
	r.maintenanceBusy = false
	r.mu.Unlock()
}

// SplitResult reports the sibling range created by a completed split,
// for the caller to inform the master about.
type SplitResult struct {
	SiblingStartRow []byte
	SiblingEndRow   []byte
}

// NeedsSplit reports whether any access group's disk usage has reached
// split_size.
func (r *Range) NeedsSplit() bool {
	r.mu.Lock()
	order := r.groupOrder
	splitSize := r.splitSize
	r.mu.Unlock()
	if splitSize == 0 {
		return false
	}
	for _, name := range order {
		if uint64(r.groups[name].DiskUsage()) >= splitSize {
			return true
		}
	}
	return false
}

// Split runs (or resumes) this range's split state machine: choose a
// split point, major-compact every access group with the split flag
// into new stores, update the metadata table, swap in the narrowed
// boundary, and return to Steady with a doubled (capped) soft limit.
// force bypasses the NeedsSplit check. Safe to call again after a
// crash left the range in SplitLogInstalled: it resumes from the
// persisted split point rather than re-choosing one.
func (r *Range) Split(ctx context.Context, force bool) (SplitResult, error) {
	if err := r.acquireMaintenance(); err != nil {
		return SplitResult{}, err
	}
	defer r.releaseMaintenance()

	switch r.State() {
	case Steady:
		if !force && !r.NeedsSplit() {
			return SplitResult{}, nil
		}
		if err := r.installSplitLog(ctx); err != nil {
			return SplitResult{}, err
		}
	case SplitLogInstalled:
		// resuming after a crash; split point and transfer log already
		// persisted.
	default:
		return SplitResult{}, fmt.Errorf("rangeserver: split: unexpected state %s", r.State())
	}
	return r.finishSplit(ctx)
}

func (r *Range) installSplitLog(ctx context.Context) error {
	splitPoint, err := r.chooseSplitPoint()
	if err != nil {
		return err
	}

	r.mu.Lock()
	oldBoundary := r.endRow
	if !r.dropHigh {
		oldBoundary = r.startRow
	}
	table, start, end, softLimit := tableKey(r.tableID), r.startRow, r.endRow, r.softLimit
	r.mu.Unlock()

	transferLogPath := filepath.Join(r.dir, fmt.Sprintf("transfer-%d", time.Now().UnixNano()))
	if err := r.fs.MkdirAll(transferLogPath, 0o755); err != nil {
		return fmt.Errorf("rangeserver: split: create transfer log dir: %w", err)
	}

	if r.rsml != nil {
		rec := StateRecord{
			Table: table, StartRow: start, EndRow: end,
			State: SplitLogInstalled, SplitPoint: splitPoint,
			OldBoundaryRow: oldBoundary, TransferLog: transferLogPath, SoftLimit: softLimit,
		}
		if err := r.rsml.Append(ctx, rec); err != nil {
			return fmt.Errorf("rangeserver: split: persist state: %w", err)
		}
	}

	r.mu.Lock()
	for _, name := range r.groupOrder {
		r.groups[name].StageCompaction()
	}
	r.state = SplitLogInstalled
	r.splitPoint = splitPoint
	r.oldBoundaryRow = oldBoundary
	r.transferLogPath = transferLogPath
	r.mu.Unlock()
	return nil
}

func (r *Range) finishSplit(ctx context.Context) (SplitResult, error) {
	r.mu.Lock()
	order := r.groupOrder
	splitPoint := r.splitPoint
	r.mu.Unlock()

	for _, name := range order {
		ag := r.groups[name]
		if ag.Staged() {
			if err := ag.CompactForSplit(ctx); err != nil {
				return SplitResult{}, fmt.Errorf("rangeserver: split: compact %s: %w", name, err)
			}
		}
	}

	r.mu.Lock()
	table := tableKey(r.tableID)
	oldStart, oldEnd := r.startRow, r.endRow
	dropHigh := r.dropHigh
	r.mu.Unlock()

	if r.metadata != nil {
		if err := r.metadata.WriteColumn(ctx, table, string(splitPoint), "StartRow", "", oldStart); err != nil {
			return SplitResult{}, fmt.Errorf("rangeserver: split: write new row's StartRow: %w", err)
		}
		if err := r.metadata.WriteColumn(ctx, table, string(oldEnd), "StartRow", "", splitPoint); err != nil {
			return SplitResult{}, fmt.Errorf("rangeserver: split: write sibling's StartRow: %w", err)
		}
	}

	var newStart, newEnd, sibStart, sibEnd []byte
	if dropHigh {
		newStart, newEnd = oldStart, splitPoint
		sibStart, sibEnd = splitPoint, oldEnd
	} else {
		newStart, newEnd = splitPoint, oldEnd
		sibStart, sibEnd = oldStart, splitPoint
	}

	r.updateBarrier.Lock()
	r.scanBarrier.Lock()
	for _, name := range order {
		if err := r.groups[name].Shrink(newStart, newEnd); err != nil {
			r.scanBarrier.Unlock()
			r.updateBarrier.Unlock()
			return SplitResult{}, fmt.Errorf("rangeserver: split: shrink %s: %w", name, err)
		}
	}
	r.mu.Lock()
	r.startRow, r.endRow = newStart, newEnd
	newSoftLimit := r.softLimit * 2
	if newSoftLimit == 0 || newSoftLimit > r.splitSize {
		newSoftLimit = r.splitSize
	}
	r.softLimit = newSoftLimit
	r.transferLogPath = ""
	r.state = Steady
	r.capacityExceeded = false
	r.mu.Unlock()
	r.scanBarrier.Unlock()
	r.updateBarrier.Unlock()

	if r.rsml != nil {
		rec := StateRecord{Table: table, StartRow: newStart, EndRow: newEnd, State: Steady, SoftLimit: newSoftLimit}
		if err := r.rsml.Append(ctx, rec); err != nil {
			return SplitResult{}, fmt.Errorf("rangeserver: split: persist final state: %w", err)
		}
	}

	return SplitResult{SiblingStartRow: sibStart, SiblingEndRow: sibEnd}, nil
}

// Relinquish runs (or resumes) this range's relinquish state machine:
// major-compact every access group, keeping tombstones (the new host
// may still need them for scans spanning the transition), record the
// move, and leave the range ready to be dropped by its caller.
func (r *Range) Relinquish(ctx context.Context) error {
	if err := r.acquireMaintenance(); err != nil {
		return err
	}
	defer r.releaseMaintenance()

	switch r.State() {
	case RelinquishDone:
		// already fully relinquished in a prior run; nothing left to do.
		return nil
	case Steady:
		if err := r.installRelinquishLog(ctx); err != nil {
			return err
		}
	case RelinquishLogInstalled:
		// resuming after a crash.
	default:
		return fmt.Errorf("rangeserver: relinquish: unexpected state %s", r.State())
	}
	return r.finishRelinquish(ctx)
}

func (r *Range) installRelinquishLog(ctx context.Context) error {
	r.mu.Lock()
	table, start, end, softLimit := tableKey(r.tableID), r.startRow, r.endRow, r.softLimit
	r.mu.Unlock()

	transferLogPath := filepath.Join(r.dir, fmt.Sprintf("transfer-%d", time.Now().UnixNano()))
	if err := r.fs.MkdirAll(transferLogPath, 0o755); err != nil {
		return fmt.Errorf("rangeserver: relinquish: create transfer log dir: %w", err)
	}

	if r.rsml != nil {
		rec := StateRecord{Table: table, StartRow: start, EndRow: end, State: RelinquishLogInstalled, TransferLog: transferLogPath, SoftLimit: softLimit}
		if err := r.rsml.Append(ctx, rec); err != nil {
			return fmt.Errorf("rangeserver: relinquish: persist state: %w", err)
		}
	}

	r.mu.Lock()
	for _, name := range r.groupOrder {
		r.groups[name].StageCompaction()
	}
	r.state = RelinquishLogInstalled
	r.transferLogPath = transferLogPath
	r.mu.Unlock()
	return nil
}

func (r *Range) finishRelinquish(ctx context.Context) error {
	r.mu.Lock()
	order := r.groupOrder
	table, start, end := tableKey(r.tableID), r.startRow, r.endRow
	r.mu.Unlock()

	for _, name := range order {
		ag := r.groups[name]
		if ag.Staged() {
			// Merge with mergeCount<=0 selects every existing store
			// alongside the immutable cache and, unlike Major/GC,
			// leaves tombstones in place for the file's next host.
			if err := ag.Compact(ctx, accessgroup.Merge, 0); err != nil {
				return fmt.Errorf("rangeserver: relinquish: compact %s: %w", name, err)
			}
		}
	}

	r.mu.Lock()
	r.dropped = true
	r.transferLogPath = ""
	r.state = RelinquishDone
	r.mu.Unlock()

	if r.rsml != nil {
		rec := StateRecord{Table: table, StartRow: start, EndRow: end, State: RelinquishDone}
		if err := r.rsml.Append(ctx, rec); err != nil {
			return fmt.Errorf("rangeserver: relinquish: persist done: %w", err)
		}
	}
	return nil
}

// RunMajorCompaction stages and major-compacts every access group,
// clearing the capacity-exceeded throttle on success. Intended to be
// invoked by a maintenance scheduler external to this package.
func (r *Range) RunMajorCompaction(ctx context.Context) error {
	r.mu.Lock()
	order := r.groupOrder
	r.mu.Unlock()

	for _, name := range order {
		r.groups[name].StageCompaction()
	}
	for _, name := range order {
		if err := r.groups[name].Compact(ctx, accessgroup.Major, 0); err != nil {
			return fmt.Errorf("rangeserver: major compaction: %s: %w", name, err)
		}
	}
	r.mu.Lock()
	r.capacityExceeded = false
	r.mu.Unlock()
	return nil
}
