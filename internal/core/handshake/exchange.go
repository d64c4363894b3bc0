package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"github.com/ssbc/solar/internal/crypto"
)

// ClientHandshake 以客户端身份在 conn 上执行四消息握手：
//
//  1. client hello  -> server
//  2. server hello  <- server
//  3. client auth   -> server
//  4. server accept <- server
//
// 任何一步失败都返回 crypto.ErrAuthFailed 并关闭 conn（若它实现了 io.Closer），
// 不泄露失败发生在哪一步。
func ClientHandshake(conn io.ReadWriter, networkKey [32]byte, localPub ed25519.PublicKey, localPriv ed25519.PrivateKey, serverLongTermPub ed25519.PublicKey) (res *Result, err error) {
	defer closeOnFailure(conn, &err)
	ephPub, ephPriv, err := crypto.X25519KeyPair(rand.Reader)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	if err := sendHello(conn, networkKey, ephPub); err != nil {
		return nil, crypto.ErrAuthFailed
	}

	serverEphPub, err := recvHello(conn, networkKey)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	serverLongCurve, err := crypto.Ed25519PublicToCurve25519(serverLongTermPub)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	localPrivCurve := crypto.Ed25519PrivateToCurve25519(localPriv)

	// ab = eph_A x eph_B, aB = eph_A x longterm_B, Ab = longterm_A x eph_B.
	ab, err := crypto.X25519Shared(ephPriv, serverEphPub)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	aB, err := crypto.X25519Shared(ephPriv, serverLongCurve)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	Ab, err := crypto.X25519Shared(localPrivCurve, serverEphPub)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	// client auth: secretbox(sig_A(networkKey || pub_B || hash(ab)) || pub_A, key=sha256(networkKey||ab||aB))
	abHash := crypto.SHA256(ab[:])
	sigA := crypto.Sign(localPriv, concatAll(networkKey[:], serverLongTermPub, abHash[:]))

	clientAuthKey := crypto.SHA256(concatAll(networkKey[:], ab[:], aB[:]))
	clientAuthPlain := concatAll(sigA, localPub)
	box := crypto.SecretboxSeal(clientAuthPlain, &zeroNonce24, &clientAuthKey)
	if err := writeExact(conn, box); err != nil {
		return nil, crypto.ErrAuthFailed
	}

	// server accept: secretbox(sig_B(networkKey || sig_A || pub_A || hash(ab)), key=sha256(networkKey||ab||aB||Ab))
	acceptBox, err := readExact(conn, serverAcceptPlainSize+crypto.SecretboxMACSize)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	acceptKey := crypto.SHA256(concatAll(networkKey[:], ab[:], aB[:], Ab[:]))
	acceptPlain, err := crypto.SecretboxOpen(acceptBox, &zeroNonce24, &acceptKey)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	expected := concatAll(networkKey[:], sigA, localPub, abHash[:])
	if !crypto.Verify(serverLongTermPub, expected, acceptPlain) {
		return nil, crypto.ErrAuthFailed
	}

	secrets := sharedSecrets{ab: ab, aB: aB, Ab: Ab}
	material := deriveSessionKeys(networkKey, secrets, ephPub, serverEphPub, localPub, serverLongTermPub)

	return &Result{
		SendKey:         material.clientToServerKey,
		SendNonce:       material.clientToServerNonce,
		RecvKey:         material.serverToClientKey,
		RecvNonce:       material.serverToClientNonce,
		RemotePublicKey: append(ed25519.PublicKey{}, serverLongTermPub...),
	}, nil
}

// ServerHandshake 以服务端身份在 conn 上执行四消息握手，并用 filter
// 决定是否接受对端的长期公钥（选择性复制模式下只接受已知的复制对端）。
//
// 服务端的 Ab 需要客户端的长期公钥，而后者只在解开 client auth 之后才知道，
// 因此 aB（用服务端长期密钥计算）先算，Ab（用客户端长期公钥计算）必须推迟
// 到 client auth 解密之后才能算出。
func ServerHandshake(conn io.ReadWriter, networkKey [32]byte, localPub ed25519.PublicKey, localPriv ed25519.PrivateKey, filter PeerFilter) (res *Result, err error) {
	defer closeOnFailure(conn, &err)
	ephPub, ephPriv, err := crypto.X25519KeyPair(rand.Reader)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	clientEphPub, err := recvHello(conn, networkKey)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	if err := sendHello(conn, networkKey, ephPub); err != nil {
		return nil, crypto.ErrAuthFailed
	}

	localPrivCurve := crypto.Ed25519PrivateToCurve25519(localPriv)

	ab, err := crypto.X25519Shared(ephPriv, clientEphPub)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	aB, err := crypto.X25519Shared(localPrivCurve, clientEphPub)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	clientAuthKey := crypto.SHA256(concatAll(networkKey[:], ab[:], aB[:]))
	authBox, err := readExact(conn, clientAuthPlainSize+crypto.SecretboxMACSize)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	authPlain, err := crypto.SecretboxOpen(authBox, &zeroNonce24, &clientAuthKey)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	sigA := authPlain[:ed25519.SignatureSize]
	clientLongPub := ed25519.PublicKey(authPlain[ed25519.SignatureSize:])

	if filter != nil && !filter(clientLongPub) {
		logger.Warn("rejecting unknown peer in selective replication mode")
		return nil, crypto.ErrAuthFailed
	}

	abHash := crypto.SHA256(ab[:])
	signed := concatAll(networkKey[:], localPub, abHash[:])
	if !crypto.Verify(clientLongPub, signed, sigA) {
		return nil, crypto.ErrAuthFailed
	}

	clientLongCurve, err := crypto.Ed25519PublicToCurve25519(clientLongPub)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}
	Ab, err := crypto.X25519Shared(ephPriv, clientLongCurve)
	if err != nil {
		return nil, crypto.ErrAuthFailed
	}

	acceptPlain := crypto.Sign(localPriv, concatAll(networkKey[:], sigA, clientLongPub, abHash[:]))
	acceptKey := crypto.SHA256(concatAll(networkKey[:], ab[:], aB[:], Ab[:]))
	acceptBox := crypto.SecretboxSeal(acceptPlain, &zeroNonce24, &acceptKey)
	if err := writeExact(conn, acceptBox); err != nil {
		return nil, crypto.ErrAuthFailed
	}

	secrets := sharedSecrets{ab: ab, aB: aB, Ab: Ab}
	material := deriveSessionKeys(networkKey, secrets, clientEphPub, ephPub, clientLongPub, localPub)

	return &Result{
		SendKey:         material.serverToClientKey,
		SendNonce:       material.serverToClientNonce,
		RecvKey:         material.clientToServerKey,
		RecvNonce:       material.clientToServerNonce,
		RemotePublicKey: clientLongPub,
	}, nil
}

// sendHello 发送 hmac(networkKey, ephPub) || ephPub：一条裸消息附带 MAC 标签，
// 不是 secretbox，因为此时双方尚未建立任何共享密钥。
func sendHello(conn io.ReadWriter, networkKey [32]byte, ephPub [32]byte) error {
	tag := crypto.HMACSHA512256(networkKey[:], ephPub[:])
	return writeExact(conn, concatAll(tag, ephPub[:]))
}

func recvHello(conn io.ReadWriter, networkKey [32]byte) ([32]byte, error) {
	var ephPub [32]byte
	msg, err := readExact(conn, helloSize)
	if err != nil {
		return ephPub, err
	}
	tag, pub := msg[:32], msg[32:]
	expected := crypto.HMACSHA512256(networkKey[:], pub)
	if !hmacEqual(tag, expected) {
		return ephPub, crypto.ErrAuthFailed
	}
	copy(ephPub[:], pub)
	return ephPub, nil
}

// closeOnFailure 在握手以错误结束时关闭 conn（若它实现了 io.Closer），
// 让对端等待下一条握手消息的读取立即失败。
func closeOnFailure(conn io.ReadWriter, err *error) {
	if *err == nil {
		return
	}
	if c, ok := conn.(io.Closer); ok {
		_ = c.Close()
	}
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
