// Package handshake 实现 §4.4 描述的四消息 Secret Handshake：
// 以一个公开的 32 字节网络密钥为参数的双向身份认证，
// 成功后双方各自推导出一对会话密钥和一对会话 nonce。
//
// 任何失败——MAC 不匹配、签名无效、选择性复制模式下的未知对端——
// 都以单一的不透明错误关闭连接；不保留任何部分状态。
package handshake

import (
	"crypto/ed25519"
	"io"

	"github.com/ssbc/solar/internal/crypto"
	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("core/handshake")

const (
	helloSize             = 64 // hmac(32) || ephemeral_pub(32)
	clientAuthPlainSize   = ed25519.PublicKeySize + ed25519.SignatureSize // 96
	serverAcceptPlainSize = ed25519.SignatureSize                         // 64
)

// PeerFilter 在服务端握手时决定是否接受某个客户端的长期公钥，
// 用于实现选择性复制模式（只接受复制配置中列出的对端）。
type PeerFilter func(pub ed25519.PublicKey) bool

// Result 是握手成功后双方各自持有的会话材料。
type Result struct {
	// SendKey/SendNonce 用于加密本端发出的记录；Recv* 用于解密对端发来的记录。
	SendKey   [32]byte
	SendNonce [24]byte
	RecvKey   [32]byte
	RecvNonce [24]byte

	// RemotePublicKey 是已验证的对端长期 Ed25519 公钥。
	RemotePublicKey ed25519.PublicKey
}

// zeroNonce24 是 client auth 与 server accept 两条 secretbox 消息使用的固定
// nonce（hello 是附带 HMAC 标签的明文消息，不用它）；每个密钥只使用一次，
// 因此复用全零 nonce 是安全的。
var zeroNonce24 [24]byte

func writeExact(w io.Writer, p []byte) error {
	_, err := w.Write(p)
	return err
}

func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, crypto.ErrAuthFailed
	}
	return buf, nil
}

// sharedSecrets 是三次 X25519 交换得到的中间材料，握手结束后立即丢弃。
type sharedSecrets struct {
	ab [32]byte // ephemeral-ephemeral
	aB [32]byte // client ephemeral x server long-term
	Ab [32]byte // client long-term x server ephemeral
}

// sessionMaterial 是 §4.4 收尾步骤推导出的、按方向区分的会话密钥与 nonce。
type sessionMaterial struct {
	clientToServerKey   [32]byte
	clientToServerNonce [24]byte
	serverToClientKey   [32]byte
	serverToClientNonce [24]byte
}

// deriveSessionKeys 把网络密钥、三个共享密钥与对端长期公钥混合哈希，
// 推导出两个方向各自的会话密钥与 nonce。
func deriveSessionKeys(networkKey [32]byte, secrets sharedSecrets, aEphPub, bEphPub [32]byte, aLongPub, bLongPub ed25519.PublicKey) sessionMaterial {
	c2s := concatAll(networkKey[:], secrets.ab[:], secrets.aB[:], secrets.Ab[:], bLongPub)
	c2sKey := crypto.SHA256(c2s)

	s2c := concatAll(networkKey[:], secrets.ab[:], secrets.aB[:], secrets.Ab[:], aLongPub)
	s2cKey := crypto.SHA256(s2c)

	var c2sNonce, s2cNonce [24]byte
	copy(c2sNonce[:], crypto.HMACSHA512256(networkKey[:], bEphPub[:]))
	copy(s2cNonce[:], crypto.HMACSHA512256(networkKey[:], aEphPub[:]))

	return sessionMaterial{
		clientToServerKey:   c2sKey,
		clientToServerNonce: c2sNonce,
		serverToClientKey:   s2cKey,
		serverToClientNonce: s2cNonce,
	}
}

func concatAll(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
