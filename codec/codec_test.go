package codec

import (
	"bytes"
	"testing"
)

func TestUnitRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 100)
	for _, c := range []Codec{&None{}, &Lz4{}, &Zstd{}, &Zstd{Level: 9}} {
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("%s: %v", c.Name(), err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s: %v", c.Name(), err)
		}
		if !bytes.Equal(payload, decompressed) {
			t.Fatalf("%s: round trip mismatch", c.Name())
		}
	}
}

func TestUnitCompressionShrinks(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaaaabbbbbbbbbb"), 1000)
	for _, c := range []Codec{&Lz4{}, &Zstd{}} {
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatal(err)
		}
		if len(compressed) >= len(payload) {
			t.Fatalf("%s: %d >= %d", c.Name(), len(compressed), len(payload))
		}
	}
}
