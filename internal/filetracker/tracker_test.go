package filetracker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeWriter struct {
	calls      int
	failUntil  int
	lastValue  []byte
	lastTable  string
	lastEndRow string
	lastAG     string
}

func (f *fakeWriter) WriteColumn(ctx context.Context, table, endRow, accessGroup string, value []byte) error {
	f.calls++
	f.lastValue = value
	f.lastTable = table
	f.lastEndRow = endRow
	f.lastAG = accessGroup
	if f.calls <= f.failUntil {
		return errors.New("transient write failure")
	}
	return nil
}

func noSleep(time.Duration) {}

func TestAddLivePersists(t *testing.T) {
	w := &fakeWriter{}
	tr := New("mytable", "zzz", "ag0", w, nil)
	if err := tr.AddLive(context.Background(), "cs1"); err != nil {
		t.Fatalf("AddLive: %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("calls = %d, want 1", w.calls)
	}
	if string(w.lastValue) != "cs1;\n" {
		t.Fatalf("column value = %q, want %q", w.lastValue, "cs1;\n")
	}
	if w.lastTable != "mytable" || w.lastEndRow != "zzz" || w.lastAG != "ag0" {
		t.Fatalf("unexpected identity: %+v", w)
	}
}

func TestRetireWithoutReferenceDrops(t *testing.T) {
	w := &fakeWriter{}
	tr := New("t", "r", "ag", w, nil)
	tr.AddLive(context.Background(), "cs1")
	tr.AddLive(context.Background(), "cs2")

	if err := tr.Retire(context.Background(), "cs1"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if len(tr.Live()) != 1 || tr.Live()[0] != "cs2" {
		t.Fatalf("Live() = %v, want [cs2]", tr.Live())
	}
	if len(tr.Blocked()) != 0 {
		t.Fatalf("Blocked() = %v, want empty (unreferenced file drops outright)", tr.Blocked())
	}
}

func TestRetireWithReferenceBlocks(t *testing.T) {
	w := &fakeWriter{}
	tr := New("t", "r", "ag", w, nil)
	tr.AddLive(context.Background(), "cs1")
	tr.Acquire("cs1")

	if err := tr.Retire(context.Background(), "cs1"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if len(tr.Live()) != 0 {
		t.Fatalf("Live() = %v, want empty", tr.Live())
	}
	if len(tr.Blocked()) != 1 || tr.Blocked()[0] != "cs1" {
		t.Fatalf("Blocked() = %v, want [cs1]", tr.Blocked())
	}
	if len(tr.Deletable()) != 0 {
		t.Fatalf("Deletable() = %v, want empty while still referenced", tr.Deletable())
	}

	tr.Release("cs1")
	if len(tr.Deletable()) != 1 || tr.Deletable()[0] != "cs1" {
		t.Fatalf("Deletable() after Release = %v, want [cs1]", tr.Deletable())
	}

	if err := tr.Reap(context.Background(), "cs1"); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if len(tr.Blocked()) != 0 {
		t.Fatalf("Blocked() after Reap = %v, want empty", tr.Blocked())
	}
}

func TestEncodeFormatsLiveAndBlocked(t *testing.T) {
	w := &fakeWriter{}
	tr := New("t", "r", "ag", w, nil)
	tr.AddLive(context.Background(), "cs2")
	tr.AddLive(context.Background(), "cs1")
	tr.Acquire("cs2")
	tr.Retire(context.Background(), "cs2")

	got := string(tr.Encode())
	want := "cs1;\n#cs2;\n"
	if got != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestPersistRetriesOnTransientErrorThenSucceeds(t *testing.T) {
	w := &fakeWriter{failUntil: 2}
	tr := New("t", "r", "ag", w, nil)
	tr.SetRetryPolicy(RetryPolicy{Attempts: 3, Initial: time.Millisecond}, noSleep)

	if err := tr.AddLive(context.Background(), "cs1"); err != nil {
		t.Fatalf("AddLive: %v", err)
	}
	if w.calls != 3 {
		t.Fatalf("calls = %d, want 3 (2 failures + 1 success)", w.calls)
	}
}

func TestPersistExhaustsRetriesAndReturnsError(t *testing.T) {
	w := &fakeWriter{failUntil: 10}
	tr := New("t", "r", "ag", w, nil)
	tr.SetRetryPolicy(RetryPolicy{Attempts: 3, Initial: time.Millisecond}, noSleep)

	err := tr.AddLive(context.Background(), "cs1")
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if w.calls != 3 {
		t.Fatalf("calls = %d, want 3", w.calls)
	}
}

func TestDeletableListsOnlyUnreferencedBlockedFiles(t *testing.T) {
	w := &fakeWriter{}
	tr := New("t", "r", "ag", w, nil)
	tr.AddLive(context.Background(), "cs1")
	tr.AddLive(context.Background(), "cs2")
	tr.Acquire("cs1")
	tr.Acquire("cs2")
	tr.Retire(context.Background(), "cs1")
	tr.Retire(context.Background(), "cs2")
	tr.Release("cs2")

	del := tr.Deletable()
	if len(del) != 1 || del[0] != "cs2" {
		t.Fatalf("Deletable() = %v, want [cs2]", del)
	}
}
