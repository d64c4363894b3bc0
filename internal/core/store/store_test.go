package store

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/core/storage/engine"
	"github.com/ssbc/solar/internal/core/storage/engine/badger"
	"github.com/ssbc/solar/internal/identity"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := engine.DefaultConfig(filepath.Join(tmpDir, "test.db"))
	eng, err := badger.New(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("failed to close engine: %v", err)
		}
	})

	return New(eng)
}

func signedMessage(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, seq int64, prev *string, content string) *codec.Message {
	t.Helper()
	m := &codec.Message{
		Previous:  prev,
		Author:    identity.FeedID(pub),
		Sequence:  seq,
		Timestamp: seq * 1000,
		Content:   json.RawMessage(fmt.Sprintf(`{"type":"test","body":%q}`, content)),
	}
	if err := codec.Sign(m, priv); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return m
}

func TestAppendAndGetByRef(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	m := signedMessage(t, pub, priv, 1, nil, "hello")
	ref, err := s.Append(m)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := s.GetByRef(ref)
	if err != nil {
		t.Fatalf("GetByRef failed: %v", err)
	}
	if got.Sequence != 1 {
		t.Errorf("got.Sequence = %d, want 1", got.Sequence)
	}
}

func TestAppendChain(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	m1 := signedMessage(t, pub, priv, 1, nil, "one")
	ref1, err := s.Append(m1)
	if err != nil {
		t.Fatalf("Append m1 failed: %v", err)
	}

	refStr := string(ref1)
	m2 := signedMessage(t, pub, priv, 2, &refStr, "two")
	if _, err := s.Append(m2); err != nil {
		t.Fatalf("Append m2 failed: %v", err)
	}

	seq, ref, ok, err := s.Head(identity.FeedID(pub))
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if !ok || seq != 2 {
		t.Errorf("Head = (%d, %v), want seq 2", seq, ok)
	}
	_ = ref
}

func TestAppendGapDetected(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	// Skip straight to sequence 2 with no sequence 1.
	ref := "%doesnotexist.sha256"
	m := signedMessage(t, pub, priv, 2, &ref, "skip")
	_, err := s.Append(m)
	if err != ErrGapDetected {
		t.Errorf("Append returned %v, want ErrGapDetected", err)
	}
}

func TestAppendForkDetected(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	m1 := signedMessage(t, pub, priv, 1, nil, "one")
	ref1, err := s.Append(m1)
	if err != nil {
		t.Fatalf("Append m1 failed: %v", err)
	}
	refStr := string(ref1)

	m2 := signedMessage(t, pub, priv, 2, &refStr, "two")
	if _, err := s.Append(m2); err != nil {
		t.Fatalf("Append m2 failed: %v", err)
	}

	// A different message also claiming sequence 2, but with the wrong previous.
	bogusPrev := "%bogus.sha256"
	m2fork := signedMessage(t, pub, priv, 2, &bogusPrev, "fork")
	if _, err := s.Append(m2fork); err != ErrForkDetected {
		t.Errorf("Append fork returned %v, want ErrForkDetected", err)
	}
}

func TestAppendIdempotent(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	m1 := signedMessage(t, pub, priv, 1, nil, "one")
	ref1, err := s.Append(m1)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	ref1Again, err := s.Append(m1)
	if err != nil {
		t.Fatalf("re-Append of identical message failed: %v", err)
	}
	if ref1 != ref1Again {
		t.Errorf("re-Append returned different ref: %s != %s", ref1, ref1Again)
	}
}

func TestAppendSignatureInvalid(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	m := signedMessage(t, pub, priv, 1, nil, "hello")
	m.Content = json.RawMessage(`{"type":"test","body":"tampered"}`)

	if _, err := s.Append(m); err != ErrSignatureInvalid {
		t.Errorf("Append returned %v, want ErrSignatureInvalid", err)
	}
}

func TestRange(t *testing.T) {
	s := testStore(t)
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	var prev *string
	for i := int64(1); i <= 5; i++ {
		m := signedMessage(t, pub, priv, i, prev, "msg")
		ref, err := s.Append(m)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		s := string(ref)
		prev = &s
	}

	var seqs []int64
	err := s.Range(identity.FeedID(pub), 2, 4, func(m *codec.Message) (bool, error) {
		seqs = append(seqs, m.Sequence)
		return true, nil
	})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 2 || seqs[2] != 4 {
		t.Errorf("Range returned %v, want [2 3 4]", seqs)
	}
}

func TestRangeDoesNotLeakOtherAuthors(t *testing.T) {
	s := testStore(t)
	pubA, privA, _ := ed25519.GenerateKey(rand.Reader)
	pubB, privB, _ := ed25519.GenerateKey(rand.Reader)

	if _, err := s.Append(signedMessage(t, pubA, privA, 1, nil, "a")); err != nil {
		t.Fatalf("Append A failed: %v", err)
	}
	if _, err := s.Append(signedMessage(t, pubB, privB, 1, nil, "b")); err != nil {
		t.Fatalf("Append B failed: %v", err)
	}

	var count int
	err := s.Range(identity.FeedID(pubA), 1, 0, func(m *codec.Message) (bool, error) {
		count++
		if m.Author != identity.FeedID(pubA) {
			t.Errorf("Range leaked message from author %s", m.Author)
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Range returned %d messages, want 1", count)
	}
}
