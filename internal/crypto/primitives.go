// Package crypto 提供 Solar 节点所需的密码学原语。
//
// 所有涉及密钥的操作都是常量时间的；错误消息不区分具体的失败原因，
// 统一表现为 "authentication failed"，避免向攻击者泄露侧信道信息。
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"io"

	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/crypto/curve25519"
)

// ErrAuthFailed 是唯一对外暴露的密码学失败错误。
//
// 永远不要在它之外附加更具体的原因（签名无效、MAC 不匹配、密钥格式错误……），
// 这些区分只保留在内部日志里。
var ErrAuthFailed = errors.New("authentication failed")

// PublicKeySize 与 PrivateKeySize 是 Ed25519 密钥的原始字节长度。
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// GenerateKeyPair 生成一个新的 Ed25519 长期密钥对。
func GenerateKeyPair(rand io.Reader) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand)
}

// Sign 对消息进行 Ed25519 签名。
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify 验证 Ed25519 签名，失败时不区分原因。
func Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// SHA256 使用 SIMD 加速实现计算摘要，与标准库结果逐字节一致。
func SHA256(data []byte) [32]byte {
	return sha256simd.Sum256(data)
}

// HMACSHA512256 计算 HMAC-SHA-512-256：以 SHA-512 为底层哈希函数，
// 取其输出的前 256 位。这是握手阶段 hello 消息使用的消息认证码。
func HMACSHA512256(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	full := mac.Sum(nil)
	return full[:32]
}

// X25519KeyPair 生成一个新的 Curve25519 临时密钥对，用于握手中的 Diffie-Hellman 交换。
func X25519KeyPair(rand io.Reader) (pub, priv [32]byte, err error) {
	if _, err = io.ReadFull(rand, priv[:]); err != nil {
		return pub, priv, err
	}
	pk, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, err
	}
	copy(pub[:], pk)
	return pub, priv, nil
}

// X25519Shared 计算 Diffie-Hellman 共享密钥。
func X25519Shared(priv, pub [32]byte) ([32]byte, error) {
	var shared [32]byte
	s, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return shared, ErrAuthFailed
	}
	copy(shared[:], s)
	return shared, nil
}
