package collab

import (
	"context"
	"errors"
	"testing"
)

func TestMemMetadataTableWriteReadRoundTrip(t *testing.T) {
	tbl := NewMemMetadataTable()
	ctx := context.Background()
	if err := tbl.WriteColumn(ctx, "mytable", "zzz", "Files", "ag0", []byte("cs1;\n")); err != nil {
		t.Fatalf("WriteColumn: %v", err)
	}
	got, err := tbl.ReadColumn(ctx, "mytable", "zzz", "Files", "ag0")
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if string(got) != "cs1;\n" {
		t.Fatalf("ReadColumn = %q, want %q", got, "cs1;\n")
	}
}

func TestMemMetadataTableReadMissingReturnsNotFound(t *testing.T) {
	tbl := NewMemMetadataTable()
	ctx := context.Background()
	if _, err := tbl.ReadColumn(ctx, "t", "r", "Files", "ag0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemMetadataTableReadLocation(t *testing.T) {
	tbl := NewMemMetadataTable()
	ctx := context.Background()
	tbl.WriteColumn(ctx, "t", "r", "Location", "", []byte("rs-7"))
	loc, err := tbl.ReadLocation(ctx, "t", "r")
	if err != nil {
		t.Fatalf("ReadLocation: %v", err)
	}
	if loc != "rs-7" {
		t.Fatalf("ReadLocation = %q, want rs-7", loc)
	}
}

func TestFilesColumnWriterAdaptsMetadataTable(t *testing.T) {
	tbl := NewMemMetadataTable()
	w := FilesColumnWriter{Table: tbl}
	ctx := context.Background()
	if err := w.WriteColumn(ctx, "t", "r", "ag0", []byte("cs1;\n#cs2;\n")); err != nil {
		t.Fatalf("WriteColumn: %v", err)
	}
	got, err := tbl.ReadColumn(ctx, "t", "r", "Files", "ag0")
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if string(got) != "cs1;\n#cs2;\n" {
		t.Fatalf("stored value = %q, want %q", got, "cs1;\n#cs2;\n")
	}
}

func TestMemHyperspaceSessionTryLockExclusive(t *testing.T) {
	s := NewMemHyperspaceSession()
	ctx := context.Background()
	l1, err := s.TryLock(ctx, "range/t/r")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !l1.Valid() {
		t.Fatalf("expected fresh lease to be valid")
	}
	if _, err := s.TryLock(ctx, "range/t/r"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld for a held lock", err)
	}

	if err := l1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	l2, err := s.TryLock(ctx, "range/t/r")
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	if !l2.Valid() {
		t.Fatalf("expected re-acquired lease to be valid")
	}
	if l1.Valid() {
		t.Fatalf("expected released lease to become invalid")
	}
}

func TestMemHyperspaceSessionDisconnectInvalidatesLeases(t *testing.T) {
	s := NewMemHyperspaceSession()
	ctx := context.Background()
	l, err := s.TryLock(ctx, "range/t/r")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	s.Disconnect()
	if l.Valid() {
		t.Fatalf("expected lease to become invalid after session disconnect")
	}
	if _, err := s.TryLock(ctx, "range/t/r2"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld once session is disconnected", err)
	}
}
