package boxstream

import "io"

// NewPair 基于握手产出的会话材料构造一对 Writer/Reader，直接对应 §4.4
// 握手 Result 的 Send/Recv 命名：SendKey/SendNonce 加密出站记录，
// RecvKey/RecvNonce 解密入站记录。
func NewPair(conn io.ReadWriter, sendKey [32]byte, sendNonce [24]byte, recvKey [32]byte, recvNonce [24]byte) (*Writer, *Reader) {
	return NewWriter(conn, sendKey, sendNonce), NewReader(conn, recvKey, recvNonce)
}
