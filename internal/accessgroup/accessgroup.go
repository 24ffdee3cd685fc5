// Package accessgroup implements the access group: the write buffer,
// on-disk cell stores, and compaction state machine for one group of
// column families that share a physical storage layout.
//
// This is the integration point for most of the storage-layer packages
// built so far — cellcache for the write buffer, mergescan for reads,
// cellstore for on-disk storage, garbage for GC triggering, filetracker
// for the live-file bookkeeping a range persists to its metadata row —
// so it has no single teacher file it is grounded on. Its write-path
// revision bookkeeping, compaction staging barrier, and compaction-type
// selection are built directly from this format's own description of
// access group behavior; the per-type input/output shapes (Minor,
// Merge, Major, GC, InMemory) have no RocksDB analogue, since RocksDB
// compacts sorted runs across levels rather than staging one immutable
// memtable into a chosen subset of existing files.
package accessgroup

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hypertable-go/rangestore/internal/cellcache"
	"github.com/hypertable-go/rangestore/internal/cellstore"
	"github.com/hypertable-go/rangestore/internal/filetracker"
	"github.com/hypertable-go/rangestore/internal/garbage"
	"github.com/hypertable-go/rangestore/internal/key"
	"github.com/hypertable-go/rangestore/internal/logging"
	"github.com/hypertable-go/rangestore/internal/mergescan"
	"github.com/hypertable-go/rangestore/internal/schema"
	"github.com/hypertable-go/rangestore/internal/vfs"
)

// Type identifies which inputs a compaction merges and what happens to
// them afterward.
type Type int

const (
	Minor Type = iota
	Merge
	Major
	GC
	InMemory
)

func (t Type) String() string {
	switch t {
	case Minor:
		return "minor"
	case Merge:
		return "merge"
	case Major:
		return "major"
	case GC:
		return "gc"
	case InMemory:
		return "in-memory"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// store is one on-disk cell store this access group currently considers
// live.
type store struct {
	name    string
	file    vfs.RandomAccessFile
	reader  *cellstore.Reader
	trailer cellstore.Trailer
}

// Config carries the fixed, per-access-group configuration AccessGroup
// needs at construction: which table/range directory its stores live
// in, the filesystem broker, the families it owns, and the writer
// options new stores are built with.
type Config struct {
	TableID         uint32
	TableGeneration uint32
	Name            string
	Dir             string
	FS              vfs.FS
	Families        []*schema.ColumnFamily
	WriterOptions   cellstore.WriterOptions
	// SplitSize seeds the garbage tracker's initial byte-accumulation
	// target (split_size/10, per the garbage tracker's own design).
	SplitSize uint64
	Files     *filetracker.Tracker
	Log       logging.Logger
}

// AccessGroup is the write buffer and on-disk cell store set for one
// group of column families within a single range.
type AccessGroup struct {
	mu sync.Mutex

	name            string
	dir             string
	fs              vfs.FS
	families        []*schema.ColumnFamily
	writerOpts      cellstore.WriterOptions
	tableID         uint32
	tableGeneration uint32
	log             logging.Logger

	cellCache      *cellcache.Cache
	immutableCache *cellcache.Cache
	stores         []*store

	latestStoredRevision        int64
	earliestCachedRevision      int64
	earliestCachedRevisionSaved int64

	recovering bool
	inMemoryAG bool

	tracker *garbage.Tracker
	files   *filetracker.Tracker

	outstandingScanners int
}

// New creates an access group with an empty write buffer and no cell
// stores, suitable for a brand-new range.
func New(cfg Config) *AccessGroup {
	log := cfg.Log
	if log == nil {
		log = logging.Discard
	}
	minTTL, maxTTL, anyTTL := schema.TTLRange(cfg.Families)
	if !anyTTL {
		minTTL, maxTTL = 0, 0
	}
	boundedVersions := schema.AnyBoundedVersions(cfg.Families)
	return &AccessGroup{
		name:                   cfg.Name,
		dir:                    cfg.Dir,
		fs:                     cfg.FS,
		families:               cfg.Families,
		writerOpts:             cfg.WriterOptions,
		tableID:                cfg.TableID,
		tableGeneration:        cfg.TableGeneration,
		log:                    log,
		cellCache:              cellcache.New(),
		earliestCachedRevision: key.TimestampMax,
		tracker:                garbage.New(cfg.SplitSize, minTTL, maxTTL, boundedVersions),
		files:                  cfg.Files,
	}
}

// SetRecovering marks whether this access group is replaying a commit
// log, which suppresses clock-skew warnings on the write path (out of
// order revisions during replay are expected, not anomalous).
func (ag *AccessGroup) SetRecovering(recovering bool) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.recovering = recovering
}

// SetInMemory marks this access group as held entirely in memory,
// which also suppresses clock-skew warnings (an in-memory group has no
// durable ordering to violate).
func (ag *AccessGroup) SetInMemory(inMemory bool) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.inMemoryAG = inMemory
}

// AddExistingStore attaches a cell store already present on disk to
// this access group's current store set. Used when a range is opened
// after restart and its stores are discovered from the live-file
// tracker's persisted state rather than freshly written by a
// compaction.
func (ag *AccessGroup) AddExistingStore(name string, file vfs.RandomAccessFile, trailer cellstore.Trailer) error {
	reader, err := cellstore.Open(file, file.Size(), trailer, nil, nil)
	if err != nil {
		return fmt.Errorf("accessgroup %s: add existing store %s: %w", ag.name, name, err)
	}
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.stores = append(ag.stores, &store{name: name, file: file, reader: reader, trailer: trailer})
	return nil
}

// LatestStoredRevision returns the highest revision durably written to
// a cell store by a completed compaction.
func (ag *AccessGroup) LatestStoredRevision() int64 {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.latestStoredRevision
}

// SplitRows returns candidate split-row keys drawn from the live cell
// cache, preferring on-disk split points is the caller's job (it must
// also consult each cell store's own index); this reports only the
// cache side of that search.
func (ag *AccessGroup) SplitRows() [][]byte {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.cellCache.SplitRows()
}

func isCounterFamily(cfid uint8, families []*schema.ColumnFamily) bool {
	for _, cf := range families {
		if cf.ID == cfid {
			return cf.Counter
		}
	}
	return false
}

// Add inserts one cell into the write buffer. k is the decoded form of
// serialized, passed alongside it so the caller's single decode can be
// reused for revision bookkeeping and counter-family dispatch.
func (ag *AccessGroup) Add(k key.Key, serialized key.Serialized, value []byte) error {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	if k.Revision > ag.latestStoredRevision {
		if k.Revision < ag.earliestCachedRevision {
			ag.earliestCachedRevision = k.Revision
		}
	} else if !ag.recovering && !ag.inMemoryAG {
		ag.log.Warnf("accessgroup %s: revision %d not newer than latest stored %d (clock skew), writing anyway", ag.name, k.Revision, ag.latestStoredRevision)
	}

	if k.Flag.IsDelete() {
		ag.tracker.AddDelete()
	}

	if isCounterFamily(k.ColumnFamilyCode, ag.families) {
		return ag.cellCache.InsertCounter(serialized, value)
	}
	return ag.cellCache.Insert(serialized, value)
}

// ScanOptions carries the semantic overlay for a scan plus the
// information accessgroup needs to decide which cell stores
// participate: the scan's time interval (for timestamp-range pruning)
// and, if the scan is restricted to exactly one row, that row (for
// bloom filter pruning).
type ScanOptions struct {
	Merge     mergescan.Options
	StartTime int64
	EndTime   int64
	SingleRow []byte
}

// CreateScanner builds a merge scanner over this access group's
// current cell cache, immutable cache (if staged), and whichever cell
// stores can't be excluded by timestamp range or bloom filter. The
// returned release func must be called exactly once, after the caller
// is done consuming the scanner, to drop this scan's hold on the store
// files it opened.
func (ag *AccessGroup) CreateScanner(opts ScanOptions) (*mergescan.Scanner, func(), error) {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	ag.outstandingScanners++

	sources := []mergescan.Source{mergescan.NewCacheSource(ag.cellCache)}
	if ag.immutableCache != nil {
		sources = append(sources, mergescan.NewCacheSource(ag.immutableCache))
	}

	var held []*store
	for _, st := range ag.stores {
		if !timeRangeOverlaps(st.trailer.TimestampMin, st.trailer.TimestampMax, opts.StartTime, opts.EndTime) {
			continue
		}
		if len(opts.SingleRow) > 0 {
			may, err := st.reader.MayContainRow(opts.SingleRow)
			if err != nil {
				ag.outstandingScanners--
				return nil, nil, fmt.Errorf("accessgroup %s: bloom check %s: %w", ag.name, st.name, err)
			}
			if !may {
				continue
			}
		}
		var sc mergescan.Source
		var scErr error
		if len(opts.SingleRow) > 0 {
			// A scan restricted to one row gathers that row's delete
			// tombstones ahead of its data, per store, rather than
			// block-indexing through the whole file looking for it.
			sc, scErr = cellstore.NewPhaseScanner(st.reader, opts.SingleRow)
		} else {
			sc, scErr = cellstore.NewScanner(st.reader)
		}
		if err := scErr; err != nil {
			ag.outstandingScanners--
			return nil, nil, fmt.Errorf("accessgroup %s: open scanner on %s: %w", ag.name, st.name, err)
		}
		sources = append(sources, sc)
		held = append(held, st)
		if ag.files != nil {
			ag.files.Acquire(st.name)
		}
	}

	scanner := mergescan.NewScanner(sources, opts.Merge)
	release := func() {
		ag.mu.Lock()
		defer ag.mu.Unlock()
		ag.outstandingScanners--
		if ag.files != nil {
			for _, st := range held {
				ag.files.Release(st.name)
			}
		}
	}
	return scanner, release, nil
}

func timeRangeOverlaps(storeMin, storeMax, scanStart, scanEnd int64) bool {
	if scanEnd != 0 && storeMin >= scanEnd {
		return false
	}
	if scanStart != 0 && storeMax < scanStart {
		return false
	}
	return true
}

// OutstandingScanners reports how many CreateScanner calls are still
// awaiting their release func.
func (ag *AccessGroup) OutstandingScanners() int {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.outstandingScanners
}

// StageCompaction freezes the live cell cache as the immutable cache
// and installs a fresh empty one. The caller holds the range's update
// barrier (writes paused) for the duration of this call, per this
// format's concurrency model.
func (ag *AccessGroup) StageCompaction() {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.cellCache.Freeze()
	ag.immutableCache = ag.cellCache
	ag.cellCache = cellcache.New()
	ag.earliestCachedRevisionSaved = ag.earliestCachedRevision
	ag.earliestCachedRevision = key.TimestampMax
}

// UnstageCompaction reverses a StageCompaction whose compaction did not
// complete: every entry in the immutable cache is merged back into the
// (possibly already-written-to) live cell cache, and the earliest
// cached revision is restored. A no-op if no compaction is staged.
func (ag *AccessGroup) UnstageCompaction() error {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.immutableCache == nil {
		return nil
	}
	it := ag.immutableCache.NewIterator()
	for it.Valid() {
		if err := ag.cellCache.Insert(key.Serialized(it.Key()), it.Value()); err != nil {
			return fmt.Errorf("accessgroup %s: unstage compaction: %w", ag.name, err)
		}
		it.Next()
	}
	if ag.earliestCachedRevisionSaved < ag.earliestCachedRevision {
		ag.earliestCachedRevision = ag.earliestCachedRevisionSaved
	}
	ag.immutableCache = nil
	return nil
}

// Staged reports whether a compaction is currently staged (StageCompaction
// called but neither Compact nor UnstageCompaction has resolved it yet).
func (ag *AccessGroup) Staged() bool {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.immutableCache != nil
}

// selectInputs returns the cell stores a compaction of typ merges in,
// under the lock.
func (ag *AccessGroup) selectInputs(typ Type, mergeCount int) []*store {
	switch typ {
	case Minor:
		return nil
	case Merge:
		return ag.smallestStoresLocked(mergeCount)
	default: // Major, GC, InMemory
		return append([]*store(nil), ag.stores...)
	}
}

func (ag *AccessGroup) smallestStoresLocked(n int) []*store {
	if n <= 0 || n > len(ag.stores) {
		n = len(ag.stores)
	}
	byIndex := append([]*store(nil), ag.stores...)
	sort.Slice(byIndex, func(i, j int) bool {
		return byIndex[i].trailer.TotalEntries < byIndex[j].trailer.TotalEntries
	})
	return byIndex[:n]
}

// NeedsMaintenanceCheck reports whether this access group's garbage
// tracker believes enough has accumulated since its last measurement
// to justify running GarbageCandidacy at all. cachedData is the
// current cell cache's byte size.
func (ag *AccessGroup) NeedsMaintenanceCheck(cachedData uint64, now time.Time) bool {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	return ag.tracker.CheckNeeded(cachedData, now)
}

// GarbageCandidacy measures (total_bytes, valid_bytes) across this
// access group's current stores by running a pre-compaction scan with
// the given options (typically return_deletes=false, no version/time
// limits), and feeds the result to the garbage tracker. It reports
// whether the tracker escalated to need_collection, letting a caller
// upgrade a planned Minor or Merge compaction to Major/GC.
func (ag *AccessGroup) GarbageCandidacy(now time.Time, probe mergescan.Options) (bool, error) {
	ag.mu.Lock()
	stores := append([]*store(nil), ag.stores...)
	ag.mu.Unlock()

	var total uint64
	var valid uint64
	for _, st := range stores {
		if st.file != nil {
			total += uint64(st.file.Size())
		}
	}
	sources := make([]mergescan.Source, 0, len(stores))
	for _, st := range stores {
		// Garbage candidacy always reads every block of every store to
		// total up valid bytes; a readahead scan skips the index load
		// a restricted scan would need.
		sources = append(sources, cellstore.NewReadaheadScanner(st.reader))
	}
	scan := mergescan.NewScanner(sources, probe)
	for scan.Next() {
		valid += uint64(len(scan.Key()) + len(scan.Value()))
	}
	if err := scan.Err(); err != nil {
		return false, fmt.Errorf("accessgroup %s: garbage candidacy scan: %w", ag.name, err)
	}

	ag.mu.Lock()
	ag.tracker.SetGarbageStats(total, valid, now)
	need := ag.tracker.NeedCollection()
	ag.mu.Unlock()
	return need, nil
}

// Compact runs one compaction of typ against the currently staged
// immutable cache. mergeCount is only consulted for Merge (how many of
// the smallest existing stores participate); typ is otherwise
// self-describing about its inputs (see the package's Type constants).
// On success the new store (if non-empty) replaces its merged-in
// inputs in ag.stores and the live-file tracker is updated; an empty
// result store is discarded rather than appended. InMemory additionally
// retains the immutable cache's content in memory rather than
// discarding it once the new store is written.
func (ag *AccessGroup) Compact(ctx context.Context, typ Type, mergeCount int) error {
	return ag.compact(ctx, typ, mergeCount, 0)
}

// CompactForSplit runs a Major compaction whose output store is stamped
// with FlagSplit, marking it as written against a boundary about to
// shrink. Used by a split in progress, which major-compacts every
// access group before swapping in the narrowed boundary.
func (ag *AccessGroup) CompactForSplit(ctx context.Context) error {
	return ag.compact(ctx, Major, 0, cellstore.FlagSplit)
}

func (ag *AccessGroup) compact(ctx context.Context, typ Type, mergeCount int, extraFlags uint32) error {
	ag.mu.Lock()
	if ag.immutableCache == nil {
		ag.mu.Unlock()
		return fmt.Errorf("accessgroup %s: compact: no staged immutable cache", ag.name)
	}
	imm := ag.immutableCache
	inputs := ag.selectInputs(typ, mergeCount)
	ag.mu.Unlock()

	returnDeletes := typ != Major && typ != GC && typ != InMemory

	sources := []mergescan.Source{mergescan.NewCacheSource(imm)}
	for _, st := range inputs {
		// Compaction always consumes an input store end to end, so a
		// readahead scan is used in place of the block-indexed Scanner.
		sources = append(sources, cellstore.NewReadaheadScanner(st.reader))
	}
	scan := mergescan.NewScanner(sources, mergescan.Options{ReturnDeletes: returnDeletes})

	name, err := ag.nextStoreName()
	if err != nil {
		return fmt.Errorf("accessgroup %s: compact: %w", ag.name, err)
	}
	path := filepath.Join(ag.dir, name)

	wf, err := ag.fs.Create(path)
	if err != nil {
		return fmt.Errorf("accessgroup %s: compact: create %s: %w", ag.name, path, err)
	}
	w := cellstore.NewWriter(wf, ag.writerOpts)

	var entries uint64
	var maxRevision int64
	for scan.Next() {
		k, _, derr := key.Decode(key.Serialized(scan.Key()))
		if derr != nil {
			_ = wf.Close()
			return fmt.Errorf("accessgroup %s: compact: decode key: %w", ag.name, derr)
		}
		var expiresAt int64
		if ttl := familyTTL(k.ColumnFamilyCode, ag.families); ttl > 0 {
			expiresAt = k.Timestamp + int64(ttl)
		}
		if werr := w.Add(key.Serialized(scan.Key()), scan.Value(), expiresAt); werr != nil {
			_ = wf.Close()
			return fmt.Errorf("accessgroup %s: compact: write entry: %w", ag.name, werr)
		}
		entries++
		if k.Revision > maxRevision {
			maxRevision = k.Revision
		}
	}
	if err := scan.Err(); err != nil {
		_ = wf.Close()
		return fmt.Errorf("accessgroup %s: compact: merge scan: %w", ag.name, err)
	}

	if entries == 0 {
		_ = wf.Close()
		if rerr := ag.fs.Remove(path); rerr != nil {
			ag.log.Warnf("accessgroup %s: remove empty compaction output %s: %v", ag.name, path, rerr)
		}
		return ag.finishCompaction(ctx, typ, inputs, nil, maxRevision)
	}

	trailer, err := w.Finalize(ag.tableID, ag.tableGeneration)
	if err != nil {
		_ = wf.Close()
		return fmt.Errorf("accessgroup %s: compact: finalize: %w", ag.name, err)
	}
	if typ == Major || typ == GC {
		trailer.Flags |= cellstore.FlagMajorCompaction
	}
	trailer.Flags |= extraFlags
	if err := wf.Sync(); err != nil {
		_ = wf.Close()
		return fmt.Errorf("accessgroup %s: compact: sync %s: %w", ag.name, path, err)
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("accessgroup %s: compact: close %s: %w", ag.name, path, err)
	}

	raf, err := ag.fs.OpenRandomAccess(path)
	if err != nil {
		return fmt.Errorf("accessgroup %s: compact: reopen %s: %w", ag.name, path, err)
	}
	reader, err := cellstore.Open(raf, raf.Size(), trailer, nil, nil)
	if err != nil {
		_ = raf.Close()
		return fmt.Errorf("accessgroup %s: compact: open reader %s: %w", ag.name, path, err)
	}

	return ag.finishCompaction(ctx, typ, inputs, &store{name: name, file: raf, reader: reader, trailer: trailer}, maxRevision)
}

// finishCompaction installs the new store (if any, nil for a
// zero-entry compaction that was discarded) in place of the merged-in
// inputs, retires the inputs' names through the live-file tracker, and
// clears the staged immutable cache — retaining it for InMemory
// compactions instead of discarding it.
func (ag *AccessGroup) finishCompaction(ctx context.Context, typ Type, inputs []*store, newStore *store, maxRevision int64) error {
	ag.mu.Lock()

	kept := make([]*store, 0, len(ag.stores))
	inputSet := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		inputSet[in.name] = struct{}{}
	}
	for _, st := range ag.stores {
		if _, ok := inputSet[st.name]; !ok {
			kept = append(kept, st)
		}
	}

	if newStore != nil {
		kept = append(kept, newStore)
	}
	ag.stores = kept
	if maxRevision > ag.latestStoredRevision {
		ag.latestStoredRevision = maxRevision
	}

	if typ != InMemory {
		// InMemory retains the immutable cache resident, backing reads
		// alongside (or instead of) the new store until the next stage.
		ag.immutableCache = nil
	}
	ag.mu.Unlock()

	if ag.files == nil {
		return nil
	}
	for _, in := range inputs {
		if err := ag.files.Retire(ctx, in.name); err != nil {
			return fmt.Errorf("accessgroup %s: retire %s: %w", ag.name, in.name, err)
		}
	}
	if newStore != nil {
		if err := ag.files.AddLive(ctx, newStore.name); err != nil {
			return fmt.Errorf("accessgroup %s: add live %s: %w", ag.name, newStore.name, err)
		}
	}
	return nil
}

func familyTTL(cfid uint8, families []*schema.ColumnFamily) (ttl int64) {
	for _, cf := range families {
		if cf.ID == cfid {
			return int64(cf.TTL)
		}
	}
	return 0
}

// nextStoreName scans this access group's current store set for the
// highest-numbered "cs<N>" name and returns the next one in sequence.
func (ag *AccessGroup) nextStoreName() (string, error) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	max := -1
	for _, st := range ag.stores {
		n, ok := parseStoreSeq(st.name)
		if ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("cs%d", max+1), nil
}

func parseStoreSeq(name string) (int, bool) {
	if !strings.HasPrefix(name, "cs") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "cs"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// DiskUsage returns the combined on-disk size of this access group's
// current cell stores, consulted by the range layer to decide whether
// a split or major compaction is due.
func (ag *AccessGroup) DiskUsage() int64 {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	var total int64
	for _, st := range ag.stores {
		if st.file != nil {
			total += st.file.Size()
		}
	}
	return total
}

// PurgeMemory drops each cell store's in-memory index, variable index,
// and bloom filter, reclaiming their memory. Safe to call any time no
// scanner currently holds the affected entries; the next lookup against
// a purged store simply reloads from disk.
func (ag *AccessGroup) PurgeMemory() {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	for _, st := range ag.stores {
		st.reader.PurgeIndexes()
	}
}

// Shrink rewrites this access group's logical boundary after a split:
// entries in the live cell cache outside [start, end) (as determined by
// dropHigh) are discarded, and every underlying cell store is reopened
// with the narrowed range so the file can continue to be shared with
// the sibling range. The caller holds both the update and scan barriers
// for the duration of this call.
func (ag *AccessGroup) Shrink(start, end []byte) error {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	filtered := cellcache.New()
	it := ag.cellCache.NewIterator()
	for it.Valid() {
		row, err := key.RowOf(key.Serialized(it.Key()))
		if err != nil {
			return fmt.Errorf("accessgroup %s: shrink: %w", ag.name, err)
		}
		if rowInRange(row, start, end) {
			if err := filtered.Insert(key.Serialized(it.Key()), it.Value()); err != nil {
				return fmt.Errorf("accessgroup %s: shrink: %w", ag.name, err)
			}
		}
		it.Next()
	}
	ag.cellCache = filtered

	for _, st := range ag.stores {
		reader, err := cellstore.Open(st.file, st.file.Size(), st.trailer, start, end)
		if err != nil {
			return fmt.Errorf("accessgroup %s: shrink: reopen %s: %w", ag.name, st.name, err)
		}
		st.reader = reader
	}
	return nil
}

func rowInRange(row, start, end []byte) bool {
	if len(start) > 0 && compareBytes(row, start) < 0 {
		return false
	}
	if len(end) > 0 && compareBytes(row, end) >= 0 {
		return false
	}
	return true
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

