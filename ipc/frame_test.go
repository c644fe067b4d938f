package ipc

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{
		Type: MsgFlush,
		Sender: SenderID{
			Class:       ClassCapture,
			ParentClass: ClassSupervisor,
			ID:          7,
			Code:        [4]byte{'t', 'u', 'p', 'l'},
			Name:        [12]byte{'t', 'u', 'p', 'l', 'e'},
		},
		Data: []byte("window-flush-payload"),
	}

	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatal(err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != f.Type {
		t.Errorf("Type = %v, want %v", got.Type, f.Type)
	}
	if got.Sender.Class != f.Sender.Class || got.Sender.ID != f.Sender.ID {
		t.Errorf("Sender mismatch: got %+v, want %+v", got.Sender, f.Sender)
	}
	if !bytes.Equal(got.Data, f.Data) {
		t.Errorf("Data = %q, want %q", got.Data, f.Data)
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Decode(&buf); err != io.EOF {
		t.Errorf("Decode(empty) = %v, want io.EOF", err)
	}
}

func TestDecodeTruncatedHeaderIsMalformed(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x01, 0x02})
	_, err := Decode(buf)
	if err == nil || err == io.EOF {
		t.Fatalf("Decode(truncated) = %v, want malformed error", err)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 200)
	compressed, err := CompressPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecompressPayload(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("decompressed payload does not match original")
	}
}
