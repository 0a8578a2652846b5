package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"i":"c1","s":"MEDICAL","y":2024,"r":1}`, 500))

	for _, c := range []Codec{Gzip{}, Gzip{Level: 9}, Snappy{}, Zstd{}, Zstd{Level: 19}, LZ4{}, Identity{}} {
		compressed, err := Compress(c, payload)
		if err != nil {
			t.Fatalf("%s: compress: %v", c.Name(), err)
		}
		if c.Name() != NameIdentity && len(compressed) >= len(payload) {
			t.Errorf("%s: expected compression, got %d >= %d bytes", c.Name(), len(compressed), len(payload))
		}

		got, err := Decompress(c, compressed)
		if err != nil {
			t.Fatalf("%s: decompress: %v", c.Name(), err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%s: round trip mismatch", c.Name())
		}
	}
}

func TestDecompressCorruptData(t *testing.T) {
	for _, c := range []Codec{Gzip{}, Snappy{}, Zstd{}, LZ4{}} {
		if _, err := Decompress(c, []byte("definitely not compressed")); err == nil {
			t.Errorf("%s: expected error for corrupt input", c.Name())
		}
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		suffix string
	}{
		{"", ".gz"},
		{NameGzip, ".gz"},
		{NameSnappy, ".sz"},
		{NameZstd, ".zst"},
		{NameLZ4, ".lz4"},
		{NameIdentity, ""},
	}
	for _, tt := range tests {
		c, err := Lookup(tt.name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", tt.name, err)
		}
		if c.Suffix() != tt.suffix {
			t.Errorf("Lookup(%q).Suffix() = %q, want %q", tt.name, c.Suffix(), tt.suffix)
		}
	}

	if _, err := Lookup("brotli"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
