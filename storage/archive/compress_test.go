package archive

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	raw := bytes.Repeat([]byte("como-chunk-data-"), 256)

	encoded, err := codec.Encode(raw)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatal("decoded archive blob does not match original chunk bytes")
	}
}

func TestCodecToleratesLostShards(t *testing.T) {
	codec, err := NewCodec(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	raw := bytes.Repeat([]byte("x"), 4096)

	encoded, err := codec.Encode(raw)
	if err != nil {
		t.Fatal(err)
	}

	// Drop the final shard entirely to simulate one lost backend object;
	// Decode's shard-parsing loop leaves that slot nil, and Reconstruct
	// should still recover it since total shards (6) - lost (1) >=
	// dataShards (4).
	shardLen := (len(encoded) - 12) / 6
	truncated := encoded[:len(encoded)-shardLen]

	decoded, err := codec.Decode(truncated)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatal("decoded archive blob does not match original after simulated shard loss")
	}
}
