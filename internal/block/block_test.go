package block

import (
	"bytes"
	"testing"

	"github.com/hypertable-go/rangestore/internal/compression"
)

func buildAndDecode(t *testing.T, scheme KeyCompression, entries []Entry) []Entry {
	t.Helper()
	b := NewBuilder(scheme)
	for _, e := range entries {
		b.Add(e.Key, e.Value)
	}
	payload := b.Finish()
	got, err := DecodeAll(scheme, payload)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	return got
}

func TestBuilderIteratorRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: []byte("alpha"), Value: []byte("v1")},
		{Key: []byte("alphabet"), Value: []byte("v2")},
		{Key: []byte("beta"), Value: []byte("v3")},
		{Key: []byte("zeta"), Value: []byte("")},
	}
	for _, scheme := range []KeyCompression{Identity, Prefix} {
		t.Run(scheme.String(), func(t *testing.T) {
			got := buildAndDecode(t, scheme, entries)
			if len(got) != len(entries) {
				t.Fatalf("got %d entries, want %d", len(got), len(entries))
			}
			for i, e := range entries {
				if !bytes.Equal(got[i].Key, e.Key) || !bytes.Equal(got[i].Value, e.Value) {
					t.Fatalf("entry %d = %+v, want %+v", i, got[i], e)
				}
			}
		})
	}
}

func TestWriteReadBlockRoundTrip(t *testing.T) {
	b := NewBuilder(Identity)
	b.Add([]byte("row1"), []byte("value1"))
	b.Add([]byte("row2"), []byte("value2"))
	payload := b.Finish()

	for _, ctype := range []compression.Type{compression.None, compression.Zlib, compression.QuickLz} {
		encoded, err := WriteBlock(DataMagic, payload, ctype)
		if err != nil {
			t.Fatalf("WriteBlock(%s): %v", ctype, err)
		}
		decoded, consumed, err := ReadBlock(encoded)
		if err != nil {
			t.Fatalf("ReadBlock(%s): %v", ctype, err)
		}
		if consumed != len(encoded) {
			t.Fatalf("consumed %d, want %d", consumed, len(encoded))
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("round trip mismatch for %s", ctype)
		}
	}
}

func TestReadBlockDetectsChecksumCorruption(t *testing.T) {
	b := NewBuilder(Identity)
	b.Add([]byte("k"), []byte("v"))
	payload := b.Finish()
	encoded, err := WriteBlock(DataMagic, payload, compression.None)
	if err != nil {
		t.Fatal(err)
	}
	encoded[HeaderLen] ^= 0xFF // corrupt first payload byte
	if _, _, err := ReadBlock(encoded); err == nil {
		t.Fatal("expected checksum mismatch to be detected")
	}
}

func TestReadBlockRejectsBadMagic(t *testing.T) {
	b := NewBuilder(Identity)
	b.Add([]byte("k"), []byte("v"))
	payload := b.Finish()
	encoded, err := WriteBlock(DataMagic, payload, compression.None)
	if err != nil {
		t.Fatal(err)
	}
	encoded[0] = 'X'
	if _, _, err := ReadBlock(encoded); err == nil {
		t.Fatal("expected bad magic to be rejected")
	}
}
