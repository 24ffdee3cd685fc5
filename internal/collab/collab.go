// Package collab declares the narrow contracts this storage core needs
// from its external collaborators — the metadata directory service,
// the distributed lock/lease service, and the filesystem broker — plus
// a small in-memory MetadataTable for tests.
//
// SPEC_FULL.md is explicit that the master, the metadata directory
// service, and the filesystem broker live outside this module's scope;
// only the contracts they expose or consume belong here. The
// filesystem contract is already `internal/vfs.FS`, carried over from
// the teacher essentially unchanged (it already models "pluggable
// storage broker" for RocksDB's own env abstraction, the same role
// this format needs). MetadataTable, HyperspaceSession, and
// CommitLogReader have no teacher equivalent at all — RocksDB has no
// external metadata service or lock service, it owns its own MANIFEST
// and file locks directly — so these three are built directly from
// this module's own description of what it reads and writes on each
// collaborator (the metadata row/column shape in SPEC_FULL.md's
// "Metadata table schema consumed" section, the append/replay shape in
// its "Commit log interface" section).
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by MetadataTable lookups that find no row or
// no qualifier.
var ErrNotFound = errors.New("collab: not found")

// MetadataTable is the directory service row this storage core reads
// and writes for each range: `StartRow` and `Files` columns under a row
// named "<table_id>:<end_row>". The core never alters `Location`; it is
// read-only from this module's point of view, included here only so a
// caller resolving a range's host can go through the same contract.
type MetadataTable interface {
	// WriteColumn sets one column's value for the row identified by
	// (table, endRow). qualifier is the access-group name for a
	// `Files` write, or "" for a scalar column like `StartRow`.
	WriteColumn(ctx context.Context, table, endRow, column, qualifier string, value []byte) error

	// ReadColumn returns one column's current value, or ErrNotFound if
	// the row or the qualifier doesn't exist.
	ReadColumn(ctx context.Context, table, endRow, column, qualifier string) ([]byte, error)

	// ReadLocation returns the range-server identity currently hosting
	// the range, or ErrNotFound.
	ReadLocation(ctx context.Context, table, endRow string) (string, error)
}

// FilesColumnWriter adapts a MetadataTable to filetracker.ColumnWriter,
// fixing the column name to "Files" and the qualifier to the access
// group name — filetracker only ever writes that one column.
type FilesColumnWriter struct {
	Table MetadataTable
}

// WriteColumn implements filetracker.ColumnWriter.
func (w FilesColumnWriter) WriteColumn(ctx context.Context, table, endRow, accessGroup string, value []byte) error {
	return w.Table.WriteColumn(ctx, table, endRow, "Files", accessGroup, value)
}

// HyperspaceSession is a distributed lock/lease service session: the
// master and range servers use it to coordinate exclusive ownership
// (a range's maintenance_guard, a range server's own identity lease).
// Modeled as a single named lock per call rather than a full
// hierarchical namespace, since nothing in this core's storage path
// needs more than "am I still the exclusive holder of this name".
type HyperspaceSession interface {
	// TryLock attempts to acquire the named lock without blocking,
	// returning a Lease on success or ErrLockHeld if another session
	// holds it.
	TryLock(ctx context.Context, name string) (Lease, error)
}

// Lease represents exclusive ownership of one HyperspaceSession lock.
type Lease interface {
	// Valid reports whether this lease is still held. A session that
	// loses its connection to the lock service invalidates all leases
	// it granted.
	Valid() bool

	// Release gives up the lease.
	Release(ctx context.Context) error
}

// ErrLockHeld is returned by TryLock when the named lock is already
// held by another session.
var ErrLockHeld = errors.New("collab: lock held by another session")

// CommitLogReader replays a previous transfer log during split-resume,
// reading one framed block at a time.
type CommitLogReader interface {
	// Next returns the next block's header and payload, or io.EOF (via
	// the returned error) once the log is exhausted.
	Next() (CommitLogBlockHeader, []byte, error)
}

// CommitLogBlockHeader describes one commit-log block's framing.
type CommitLogBlockHeader struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Magic            uint32
	Checksum         uint32
}

// MemMetadataTable is an in-memory MetadataTable, for tests.
type MemMetadataTable struct {
	mu   sync.Mutex
	rows map[string]map[string]map[string][]byte // row -> column -> qualifier -> value
}

// NewMemMetadataTable creates an empty in-memory metadata table.
func NewMemMetadataTable() *MemMetadataTable {
	return &MemMetadataTable{rows: make(map[string]map[string]map[string][]byte)}
}

func rowKey(table, endRow string) string { return fmt.Sprintf("%s:%s", table, endRow) }

// WriteColumn implements MetadataTable.
func (m *MemMetadataTable) WriteColumn(_ context.Context, table, endRow, column, qualifier string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rk := rowKey(table, endRow)
	row, ok := m.rows[rk]
	if !ok {
		row = make(map[string]map[string][]byte)
		m.rows[rk] = row
	}
	col, ok := row[column]
	if !ok {
		col = make(map[string][]byte)
		row[column] = col
	}
	col[qualifier] = append([]byte(nil), value...)
	return nil
}

// ReadColumn implements MetadataTable.
func (m *MemMetadataTable) ReadColumn(_ context.Context, table, endRow, column, qualifier string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[rowKey(table, endRow)]
	if !ok {
		return nil, ErrNotFound
	}
	col, ok := row[column]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := col[qualifier]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// ReadLocation implements MetadataTable.
func (m *MemMetadataTable) ReadLocation(ctx context.Context, table, endRow string) (string, error) {
	value, err := m.ReadColumn(ctx, table, endRow, "Location", "")
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// MemHyperspaceSession is an in-memory HyperspaceSession, for tests.
type MemHyperspaceSession struct {
	mu    sync.Mutex
	held  map[string]*memLease
	alive bool
}

// NewMemHyperspaceSession creates a session with no locks held.
func NewMemHyperspaceSession() *MemHyperspaceSession {
	return &MemHyperspaceSession{held: make(map[string]*memLease), alive: true}
}

// Disconnect simulates the session losing its connection to the lock
// service: every lease it granted becomes invalid.
func (s *MemHyperspaceSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
	for _, l := range s.held {
		l.invalidate()
	}
}

// TryLock implements HyperspaceSession.
func (s *MemHyperspaceSession) TryLock(_ context.Context, name string) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return nil, ErrLockHeld
	}
	if existing, ok := s.held[name]; ok && existing.Valid() {
		return nil, ErrLockHeld
	}
	l := &memLease{session: s, name: name, valid: true}
	s.held[name] = l
	return l, nil
}

func (s *MemHyperspaceSession) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, name)
}

type memLease struct {
	mu      sync.Mutex
	session *MemHyperspaceSession
	name    string
	valid   bool
}

func (l *memLease) Valid() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valid
}

func (l *memLease) invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.valid = false
}

// Release implements Lease.
func (l *memLease) Release(_ context.Context) error {
	l.invalidate()
	l.session.release(l.name)
	return nil
}
