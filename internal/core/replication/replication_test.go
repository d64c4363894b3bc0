package replication

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssbc/solar/internal/config"
	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/core/muxrpc"
	"github.com/ssbc/solar/internal/core/storage/engine"
	"github.com/ssbc/solar/internal/core/storage/engine/badger"
	"github.com/ssbc/solar/internal/core/store"
	"github.com/ssbc/solar/internal/identity"
)

func testStoreAt(t *testing.T, dir string) *store.Store {
	t.Helper()
	cfg := engine.DefaultConfig(filepath.Join(dir, "test.db"))
	eng, err := badger.New(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("failed to close engine: %v", err)
		}
	})
	return store.New(eng)
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

func appendChain(t *testing.T, st *store.Store, pub ed25519.PublicKey, priv ed25519.PrivateKey, n int) {
	t.Helper()
	var prev *string
	for i := 1; i <= n; i++ {
		m := signedMessage(t, pub, priv, int64(i), prev, "msg")
		ref, err := st.Append(m)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		s := string(ref)
		prev = &s
	}
}

func newLocalIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return &identity.Identity{Public: pub, Private: priv}
}

func TestTwoNodeReplication(t *testing.T) {
	aDir, bDir := t.TempDir(), t.TempDir()
	aStore := testStoreAt(t, aDir)
	bStore := testStoreAt(t, bDir)

	aPub, aPriv, _ := ed25519.GenerateKey(rand.Reader)
	appendChain(t, aStore, aPub, aPriv, 3)
	aFeedID := identity.FeedID(aPub)

	aLocal := &identity.Identity{Public: aPub, Private: aPriv}
	bLocal := newLocalIdentity(t)

	aRepl := config.NewReplicationConfig()
	bRepl := config.NewReplicationConfig()

	aCtrl := New(aStore, aLocal, aRepl, false)
	bCtrl := New(bStore, bLocal, bRepl, false)

	pipeA, pipeB := net.Pipe()
	connA := muxrpc.New(pipeA, pipeA)
	connB := muxrpc.New(pipeB, pipeB)
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})

	aCtrl.RegisterHandlers(connA)
	bCtrl.RegisterHandlers(connB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := bCtrl.RunOutbound(ctx, "a-to-b", connB, []string{aFeedID})
	go func() {
		for err := range errCh {
			if err != nil {
				t.Errorf("outbound replication reported error: %v", err)
			}
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		seq, _, ok, err := bStore.Head(aFeedID)
		if err != nil {
			t.Fatalf("Head failed: %v", err)
		}
		if ok && seq == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("replication did not complete in time, last seq=%d ok=%v", seq, ok)
		case <-time.After(20 * time.Millisecond):
		}
	}

	var gotContents []string
	err := bStore.Range(aFeedID, 1, 3, func(m *codec.Message) (bool, error) {
		var content struct {
			Body string `json:"body"`
		}
		if err := json.Unmarshal(m.Content, &content); err != nil {
			return false, err
		}
		gotContents = append(gotContents, content.Body)
		return true, nil
	})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(gotContents) != 3 {
		t.Errorf("got %d messages, want 3", len(gotContents))
	}
}

func TestResyncRecoversLocalFeed(t *testing.T) {
	peerDir := t.TempDir()
	peerStore := testStoreAt(t, peerDir)

	localPub, localPriv, _ := ed25519.GenerateKey(rand.Reader)
	appendChain(t, peerStore, localPub, localPriv, 5)
	localFeedID := identity.FeedID(localPub)

	emptyDir := t.TempDir()
	emptyStore := testStoreAt(t, emptyDir)

	local := &identity.Identity{Public: localPub, Private: localPriv}
	repl := config.NewReplicationConfig()

	recoveringCtrl := New(emptyStore, local, repl, false)
	peerCtrl := New(peerStore, newLocalIdentity(t), repl, false)

	pipeA, pipeB := net.Pipe()
	connRecovering := muxrpc.New(pipeA, pipeA)
	connPeer := muxrpc.New(pipeB, pipeB)
	t.Cleanup(func() {
		connRecovering.Close()
		connPeer.Close()
	})

	peerCtrl.RegisterHandlers(connPeer)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := recoveringCtrl.MaybeResyncLocalFeed(ctx, connRecovering); err != nil {
		t.Fatalf("MaybeResyncLocalFeed failed: %v", err)
	}

	seq, _, ok, err := emptyStore.Head(localFeedID)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if !ok || seq != 5 {
		t.Fatalf("Head = (%d, %v), want seq 5", seq, ok)
	}
}
