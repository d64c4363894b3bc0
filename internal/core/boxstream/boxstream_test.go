package boxstream

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func randKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	return k
}

func TestWriteReadRoundTrip(t *testing.T) {
	key := randKey(t)
	var nonce [24]byte

	var buf bytes.Buffer
	w := NewWriter(&buf, key, nonce)
	r := NewReader(&buf, key, nonce)

	messages := [][]byte{
		[]byte("hello"),
		[]byte(""),
		bytes.Repeat([]byte("x"), 10000), // forces fragmentation across multiple records
	}

	for _, msg := range messages {
		if len(msg) == 0 {
			continue // io.Writer.Write([]byte{}) is a no-op, not a meaningful record
		}
		if _, err := w.Write(msg); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var got []byte
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		got = append(got, tmp[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}

	var want []byte
	want = append(want, []byte("hello")...)
	want = append(want, bytes.Repeat([]byte("x"), 10000)...)
	if !bytes.Equal(got, want) {
		t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestReaderRejectsTamperedRecord(t *testing.T) {
	key := randKey(t)
	var nonce [24]byte

	var buf bytes.Buffer
	w := NewWriter(&buf, key, nonce)
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	r := NewReader(bytes.NewReader(corrupted), key, nonce)
	_, err := r.Read(make([]byte, 16))
	if err != ErrMalformedHeader {
		t.Errorf("Read returned %v, want ErrMalformedHeader", err)
	}
}

func TestReaderRejectsWrongKey(t *testing.T) {
	key := randKey(t)
	otherKey := randKey(t)
	var nonce [24]byte

	var buf bytes.Buffer
	w := NewWriter(&buf, key, nonce)
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r := NewReader(&buf, otherKey, nonce)
	_, err := r.Read(make([]byte, 16))
	if err != ErrMalformedHeader {
		t.Errorf("Read returned %v, want ErrMalformedHeader", err)
	}
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	key := randKey(t)
	var nonce [24]byte

	var buf bytes.Buffer
	w := NewWriter(&buf, key, nonce)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("too late")); err != ErrClosed {
		t.Errorf("Write after Close returned %v, want ErrClosed", err)
	}
}
