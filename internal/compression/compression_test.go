package compression

import (
	"bytes"
	"testing"
)

func TestRoundTripAllCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	for _, typ := range []Type{None, Bmz, Zlib, Lzo, QuickLz} {
		t.Run(typ.String(), func(t *testing.T) {
			compressed, err := Compress(typ, payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			got, err := Decompress(typ, compressed, len(payload))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip mismatch for %s", typ)
			}
		})
	}
}

func TestNoneIsIdentity(t *testing.T) {
	payload := []byte("identity codec")
	compressed, err := Compress(None, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(compressed, payload) {
		t.Fatal("None codec must not transform data")
	}
}

func TestEmptyPayload(t *testing.T) {
	for _, typ := range []Type{None, Bmz, Zlib, Lzo, QuickLz} {
		compressed, err := Compress(typ, nil)
		if err != nil {
			t.Fatalf("%s Compress(nil): %v", typ, err)
		}
		got, err := Decompress(typ, compressed, 0)
		if err != nil {
			t.Fatalf("%s Decompress: %v", typ, err)
		}
		if len(got) != 0 {
			t.Fatalf("%s: expected empty result, got %d bytes", typ, len(got))
		}
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range []Type{None, Bmz, Zlib, Lzo, QuickLz} {
		if !typ.Valid() {
			t.Fatalf("%s should be valid", typ)
		}
	}
	if Type(99).Valid() {
		t.Fatal("Type(99) should not be valid")
	}
}
