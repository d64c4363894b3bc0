package codec

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/ssbc/solar/internal/identity"
)

func newTestMessage(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, seq int64, prev *string) *Message {
	t.Helper()
	m := &Message{
		Previous:  prev,
		Author:    identity.FeedID(pub),
		Sequence:  seq,
		Timestamp: 1000 * seq,
		Content:   json.RawMessage(`{"type":"about","name":"x"}`),
	}
	if err := Sign(m, priv); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return m
}

func TestSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m := newTestMessage(t, pub, priv, 1, nil)

	if err := Verify(m); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m := newTestMessage(t, pub, priv, 1, nil)
	m.Content = json.RawMessage(`{"type":"about","name":"tampered"}`)

	if err := Verify(m); err == nil {
		t.Fatal("Verify succeeded on tampered content, want error")
	}
}

func TestComputeRefIsStable(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m := newTestMessage(t, pub, priv, 1, nil)

	ref1, err := ComputeRef(m)
	if err != nil {
		t.Fatalf("ComputeRef failed: %v", err)
	}
	ref2, err := ComputeRef(m)
	if err != nil {
		t.Fatalf("ComputeRef failed: %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("ComputeRef not stable: %s != %s", ref1, ref2)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m := newTestMessage(t, pub, priv, 1, nil)

	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}

	if string(encoded) != string(reencoded) {
		t.Errorf("round-trip mismatch:\nfirst:  %s\nsecond: %s", encoded, reencoded)
	}

	if err := Verify(decoded); err != nil {
		t.Errorf("Verify on decoded message failed: %v", err)
	}
}

// TestContentKeyOrderPreserved 校验 content 字段内部键顺序在 decode/encode
// 往返中不被打乱：Go 的 map[string]interface{} 会按字节序重排键，而
// "type" 排在 "name" 之前是非字母序，足以暴露这个问题。
func TestContentKeyOrderPreserved(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m := newTestMessage(t, pub, priv, 1, nil)

	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}

	if string(encoded) != string(reencoded) {
		t.Fatalf("round-trip mismatch:\nfirst:  %s\nsecond: %s", encoded, reencoded)
	}

	ref1, err := ComputeRef(m)
	if err != nil {
		t.Fatalf("ComputeRef on original failed: %v", err)
	}
	ref2, err := ComputeRef(decoded)
	if err != nil {
		t.Fatalf("ComputeRef on decoded failed: %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("ref changed across decode/re-encode: %s != %s", ref1, ref2)
	}
}

func TestFeedChaining(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	m1 := newTestMessage(t, pub, priv, 1, nil)
	ref1, err := ComputeRef(m1)
	if err != nil {
		t.Fatalf("ComputeRef failed: %v", err)
	}

	refStr := string(ref1)
	m2 := newTestMessage(t, pub, priv, 2, &refStr)

	if err := Verify(m2); err != nil {
		t.Fatalf("Verify m2 failed: %v", err)
	}
	if m2.Previous == nil || *m2.Previous != refStr {
		t.Errorf("m2.Previous = %v, want %s", m2.Previous, refStr)
	}
}
