package cellstore

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/hypertable-go/rangestore/internal/block"
	"github.com/hypertable-go/rangestore/internal/compression"
	"github.com/hypertable-go/rangestore/internal/filter"
	"github.com/hypertable-go/rangestore/internal/key"
)

type sliceReaderAt []byte

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(s) {
		return 0, fmt.Errorf("out of range")
	}
	n := copy(p, s[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read")
	}
	return n, nil
}

func buildStore(t *testing.T, opts WriterOptions, rows int) ([]byte, Trailer) {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, opts)
	for i := 0; i < rows; i++ {
		row := []byte(fmt.Sprintf("row-%05d", i))
		k := key.Key{
			Row:              row,
			ColumnFamilyCode: 1,
			ColumnQualifier:  []byte("c"),
			Flag:             key.FlagInsert,
			Timestamp:        int64(1000 + i),
			Revision:         int64(i),
		}
		serialized, err := key.Encode(k)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if err := w.Add(serialized, []byte(fmt.Sprintf("value-%d", i)), 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	trailer, err := w.Finalize(7, 1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return buf.Bytes(), trailer
}

func TestWriterReaderRoundTrip(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.BlockSize = 256 // force several blocks
	opts.Compression = compression.Zlib
	opts.KeyScheme = block.Prefix
	opts.BloomMode = filter.Rows
	opts.MaxApproxItems = 10
	opts.MaxEntries = 200

	const rows = 200
	data, trailer := buildStore(t, opts, rows)

	if trailer.TotalEntries != rows {
		t.Fatalf("TotalEntries = %d, want %d", trailer.TotalEntries, rows)
	}
	if trailer.IndexEntries < 2 {
		t.Fatalf("expected multiple data blocks, got IndexEntries=%d", trailer.IndexEntries)
	}

	rd, err := Open(sliceReaderAt(data), int64(len(data)), trailer, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	scanner, err := NewScanner(rd)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	got := 0
	for scanner.Next() {
		k, _, err := key.Decode(key.Serialized(scanner.Key()))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		wantRow := fmt.Sprintf("row-%05d", got)
		if string(k.Row) != wantRow {
			t.Fatalf("entry %d row = %q, want %q", got, k.Row, wantRow)
		}
		got++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	if got != rows {
		t.Fatalf("scanned %d entries, want %d", got, rows)
	}

	for i := 0; i < rows; i += 17 {
		row := []byte(fmt.Sprintf("row-%05d", i))
		ok, err := rd.MayContainRow(row)
		if err != nil {
			t.Fatalf("MayContainRow: %v", err)
		}
		if !ok {
			t.Fatalf("MayContainRow(%q) = false, want true (false negative)", row)
		}
	}
}

func TestRestrictedRangeScan(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.BlockSize = 128
	opts.BloomMode = filter.Disabled
	data, trailer := buildStore(t, opts, 100)

	rd, err := Open(sliceReaderAt(data), int64(len(data)), trailer, []byte("row-00020"), []byte("row-00040"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !rd.RestrictedRange() {
		t.Fatal("expected restricted range")
	}
	scanner, err := NewScanner(rd)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	var rows []string
	for scanner.Next() {
		k, _, err := key.Decode(key.Serialized(scanner.Key()))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		rows = append(rows, string(k.Row))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected at least one row in range")
	}
	if rows[0] != "row-00020" {
		t.Fatalf("first row = %q, want row-00020", rows[0])
	}
	if rows[len(rows)-1] != "row-00040" {
		t.Fatalf("last row = %q, want row-00040 (end row inclusive)", rows[len(rows)-1])
	}
	for _, r := range rows {
		if r < "row-00020" || r > "row-00040" {
			t.Fatalf("row %q out of requested range", r)
		}
	}
}

func TestTrailerVersionRejected(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.BloomMode = filter.Disabled
	data, trailer := buildStore(t, opts, 5)
	trailer.Version = TrailerVersion + 1
	if _, err := Open(sliceReaderAt(data), int64(len(data)), trailer, nil, nil); err == nil {
		t.Fatal("expected version mismatch to be rejected")
	}
}
