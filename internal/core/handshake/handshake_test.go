package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"sync"
	"testing"

	"github.com/ssbc/solar/internal/crypto"
)

func genIdentity(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return pub, priv
}

func runPair(t *testing.T, networkKeyA, networkKeyB [32]byte, filter PeerFilter) (*Result, *Result, error, error) {
	t.Helper()
	clientPub, clientPriv := genIdentity(t)
	serverPub, serverPriv := genIdentity(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var clientResult, serverResult *Result
	var clientErr, serverErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		clientResult, clientErr = ClientHandshake(clientConn, networkKeyA, clientPub, clientPriv, serverPub)
	}()
	go func() {
		defer wg.Done()
		serverResult, serverErr = ServerHandshake(serverConn, networkKeyB, serverPub, serverPriv, filter)
	}()
	wg.Wait()

	return clientResult, serverResult, clientErr, serverErr
}

func TestHandshakeMirroredKeys(t *testing.T) {
	var networkKey [32]byte
	copy(networkKey[:], []byte("test-network-key-for-unit-tests"))

	clientResult, serverResult, clientErr, serverErr := runPair(t, networkKey, networkKey, nil)
	if clientErr != nil {
		t.Fatalf("client handshake failed: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake failed: %v", serverErr)
	}

	if clientResult.SendKey != serverResult.RecvKey {
		t.Errorf("client SendKey != server RecvKey")
	}
	if clientResult.RecvKey != serverResult.SendKey {
		t.Errorf("client RecvKey != server SendKey")
	}
	if clientResult.SendNonce != serverResult.RecvNonce {
		t.Errorf("client SendNonce != server RecvNonce")
	}
	if clientResult.RecvNonce != serverResult.SendNonce {
		t.Errorf("client RecvNonce != server SendNonce")
	}
}

func TestHandshakeIdentifiesRemotePeer(t *testing.T) {
	var networkKey [32]byte
	copy(networkKey[:], []byte("test-network-key-for-unit-tests"))

	clientResult, serverResult, clientErr, serverErr := runPair(t, networkKey, networkKey, nil)
	if clientErr != nil || serverErr != nil {
		t.Fatalf("handshake failed: client=%v server=%v", clientErr, serverErr)
	}

	if len(serverResult.RemotePublicKey) != ed25519.PublicKeySize {
		t.Fatalf("server did not record a remote public key")
	}
	if len(clientResult.RemotePublicKey) != ed25519.PublicKeySize {
		t.Fatalf("client did not record a remote public key")
	}
}

func TestHandshakeNetworkKeyMismatch(t *testing.T) {
	var networkKeyA, networkKeyB [32]byte
	copy(networkKeyA[:], []byte("network-key-aaaaaaaaaaaaaaaaaaaa"))
	copy(networkKeyB[:], []byte("network-key-bbbbbbbbbbbbbbbbbbbb"))

	_, _, clientErr, serverErr := runPair(t, networkKeyA, networkKeyB, nil)
	if clientErr == nil && serverErr == nil {
		t.Fatalf("expected handshake to fail with mismatched network keys")
	}
	if clientErr != nil && clientErr != crypto.ErrAuthFailed {
		t.Errorf("client error = %v, want ErrAuthFailed", clientErr)
	}
	if serverErr != nil && serverErr != crypto.ErrAuthFailed {
		t.Errorf("server error = %v, want ErrAuthFailed", serverErr)
	}
}

func TestHandshakeSelectiveReplicationRejectsUnknownPeer(t *testing.T) {
	var networkKey [32]byte
	copy(networkKey[:], []byte("test-network-key-for-unit-tests"))

	rejectAll := func(pub ed25519.PublicKey) bool { return false }

	_, _, clientErr, serverErr := runPair(t, networkKey, networkKey, rejectAll)
	if serverErr != crypto.ErrAuthFailed {
		t.Errorf("server error = %v, want ErrAuthFailed", serverErr)
	}
	if clientErr == nil {
		t.Errorf("expected client handshake to also fail when server rejects peer")
	}
}
