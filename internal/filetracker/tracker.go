// Package filetracker maintains, per access group, which cell-store
// files are live, which are still referenced by in-flight scanners,
// and which are blocked — retired from the live set but not yet safe
// to delete because a scanner still holds them open.
//
// There is no teacher package for this: the closest the teacher comes
// is version.VersionSet's file-set bookkeeping, but that tracks whole
// LSM levels for internal compaction accounting, never persists a
// column anywhere, and has no reference-counted "blocked" state. The
// persistence retry loop is grounded on the only retry-with-backoff
// code in the example pack, johnjansen-torua's cmd/node/main.go
// register() (fixed-delay retry around a remote write, logged each
// attempt, fatal after exhausting retries) generalized to the
// exponential schedule this format's I/O retry policy specifies
// elsewhere (3 attempts, starting at 5s).
package filetracker

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hypertable-go/rangestore/internal/logging"
)

// ColumnWriter is the narrow slice of the metadata table this package
// depends on: persisting the Files column for one access group's row.
type ColumnWriter interface {
	WriteColumn(ctx context.Context, table, endRow, accessGroup string, value []byte) error
}

// RetryPolicy controls how WriteColumn failures are retried.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

// DefaultRetryPolicy matches this format's general I/O retry policy:
// three attempts, the first backoff starting at five seconds and
// doubling thereafter.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 5 * time.Second}

// Tracker tracks one access group's cell-store file lifecycle and
// keeps its persisted Files column in sync.
type Tracker struct {
	table, endRow, accessGroup string

	writer ColumnWriter
	log    logging.Logger
	retry  RetryPolicy
	sleep  func(time.Duration)

	live       map[string]struct{}
	blocked    map[string]struct{}
	referenced map[string]int
}

// New creates a Tracker for the given (table, end_row, access_group)
// identity, persisting through writer. A nil logger defaults to
// logging.Discard.
func New(table, endRow, accessGroup string, writer ColumnWriter, log logging.Logger) *Tracker {
	if log == nil {
		log = logging.Discard
	}
	return &Tracker{
		table:       table,
		endRow:      endRow,
		accessGroup: accessGroup,
		writer:      writer,
		log:         log,
		retry:       DefaultRetryPolicy,
		sleep:       time.Sleep,
		live:        make(map[string]struct{}),
		blocked:     make(map[string]struct{}),
		referenced:  make(map[string]int),
	}
}

// SetRetryPolicy overrides the retry schedule, for tests.
func (t *Tracker) SetRetryPolicy(p RetryPolicy, sleep func(time.Duration)) {
	t.retry = p
	t.sleep = sleep
}

// AddLive marks name as a newly produced, valid cell-store file and
// persists the updated Files column.
func (t *Tracker) AddLive(ctx context.Context, name string) error {
	t.live[name] = struct{}{}
	return t.persist(ctx)
}

// Retire moves name out of the live set. If it is still referenced by
// an outstanding scanner it becomes blocked rather than vanishing
// outright; otherwise it is dropped entirely. Either way the Files
// column is rewritten to reflect the change.
func (t *Tracker) Retire(ctx context.Context, name string) error {
	delete(t.live, name)
	if t.referenced[name] > 0 {
		t.blocked[name] = struct{}{}
	}
	return t.persist(ctx)
}

// Acquire increments name's scanner refcount. Call once per cell-store
// file a merge scanner opens.
func (t *Tracker) Acquire(name string) {
	t.referenced[name]++
}

// Release decrements name's scanner refcount. It does not by itself
// remove a blocked file from the tracked set or rewrite the Files
// column — once its refcount reaches zero it becomes visible through
// Deletable, and the caller reaps it explicitly via Reap after
// actually removing the file from the filesystem.
func (t *Tracker) Release(name string) {
	if t.referenced[name] <= 1 {
		delete(t.referenced, name)
		return
	}
	t.referenced[name]--
}

// Reap drops name from the blocked set and rewrites the Files column.
// Callers must only call this after removing the underlying file and
// observing it in Deletable.
func (t *Tracker) Reap(ctx context.Context, name string) error {
	delete(t.blocked, name)
	return t.persist(ctx)
}

// Live reports the current live-file set, sorted.
func (t *Tracker) Live() []string { return sortedKeys(t.live) }

// Blocked reports the current blocked-file set, sorted.
func (t *Tracker) Blocked() []string { return sortedKeys(t.blocked) }

// Deletable reports files that are blocked and hold no outstanding
// references — safe for the caller to remove from the filesystem.
func (t *Tracker) Deletable() []string {
	var out []string
	for name := range t.blocked {
		if t.referenced[name] == 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Encode renders the current live+blocked set in the column's on-disk
// form: one filename per line, terminated by ';', with blocked files
// prefixed by '#'.
func (t *Tracker) Encode() []byte {
	var buf bytes.Buffer
	for _, name := range sortedKeys(t.live) {
		fmt.Fprintf(&buf, "%s;\n", name)
	}
	for _, name := range sortedKeys(t.blocked) {
		fmt.Fprintf(&buf, "#%s;\n", name)
	}
	return buf.Bytes()
}

func (t *Tracker) persist(ctx context.Context) error {
	value := t.Encode()
	delay := t.retry.Initial
	var lastErr error
	for attempt := 1; attempt <= t.retry.Attempts; attempt++ {
		lastErr = t.writer.WriteColumn(ctx, t.table, t.endRow, t.accessGroup, value)
		if lastErr == nil {
			return nil
		}
		t.log.Warnf("[filetracker] write Files column attempt %d/%d failed: %v", attempt, t.retry.Attempts, lastErr)
		if attempt < t.retry.Attempts {
			t.sleep(delay)
			delay *= 2
		}
	}
	t.log.Fatalf("[filetracker] persisting Files column for %s/%s/%s failed after %d attempts: %v",
		t.table, t.endRow, t.accessGroup, t.retry.Attempts, lastErr)
	return fmt.Errorf("filetracker: persist Files column: %w", lastErr)
}
