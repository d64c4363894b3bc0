package crypto

import (
	"crypto/sha512"

	"filippo.io/edwards25519"
)

// Ed25519PrivateToCurve25519 将一个 Ed25519 长期私钥（seed 形式的前 32 字节）
// 转换为对应的 Curve25519 私钥，使其能够参与 X25519 Diffie-Hellman 交换。
//
// 遵循 RFC 8032 附录 A 描述的标量推导：对种子做 SHA-512，
// 取前 32 字节并按 RFC 7748 的方式钳制高低位。
func Ed25519PrivateToCurve25519(edPriv []byte) [32]byte {
	seed := edPriv
	if len(seed) > 32 {
		seed = edPriv[:32]
	}
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var out [32]byte
	copy(out[:], h[:32])
	return out
}

// Ed25519PublicToCurve25519 将一个 Ed25519 公钥（扭曲爱德华兹曲线点）
// 转换为其蒙哥马利形式的 Curve25519 公钥。
func Ed25519PublicToCurve25519(edPub []byte) ([32]byte, error) {
	var out [32]byte
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return out, ErrAuthFailed
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}
