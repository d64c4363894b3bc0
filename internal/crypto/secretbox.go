package crypto

import (
	"github.com/davidlazar/go-crypto/secretbox"
)

// SecretboxKeySize 与 SecretboxNonceSize 是 XSalsa20-Poly1305 的密钥与 nonce 长度，
// SecretboxMACSize 是 Poly1305 认证标签长度。与 boxstream 包里的 16 保持一致。
const (
	SecretboxKeySize   = 32
	SecretboxNonceSize = 24
	SecretboxMACSize   = 16
)

// SecretboxSeal 使用 XSalsa20-Poly1305 加密并认证 msg，返回 ciphertext||mac。
func SecretboxSeal(msg []byte, nonce *[SecretboxNonceSize]byte, key *[SecretboxKeySize]byte) []byte {
	return secretbox.Seal(nil, msg, nonce, key)
}

// SecretboxOpen 验证并解密一个 secretbox。失败时只返回 ErrAuthFailed，不暴露细节。
func SecretboxOpen(box []byte, nonce *[SecretboxNonceSize]byte, key *[SecretboxKeySize]byte) ([]byte, error) {
	out, ok := secretbox.Open(nil, box, nonce, key)
	if !ok {
		return nil, ErrAuthFailed
	}
	return out, nil
}
