// Package boxstream 实现握手完成后使用的记录层：把一个裸的 io.ReadWriter
// 包装成一对经过认证加密的 Writer/Reader，每个方向使用独立的会话密钥与
// 独立递增的 nonce 计数器。
//
// 每个记录（"box"）在线路上表现为：
//
//	header_box (34 字节) || body_ciphertext (<=4096 字节)
//
// header_box 是对 18 字节明文 (body_length(2, 大端) || body_mac(16)) 的
// secretbox 封装；body_mac 正是 body 自身 secretbox 的认证标签，被提前
// 抽出塞进 header，线路上的 body 部分因此只携带密文，不重复携带标签。
// 一条 body_length == 0 且 body_mac 全零的记录是优雅关闭信号。
package boxstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/davidlazar/go-crypto/secretbox"

	"github.com/ssbc/solar/internal/crypto"
	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("core/boxstream")

const (
	// MaxBodySize 是单条记录 body 的最大长度。
	MaxBodySize = 4096

	headerPlainSize = 2 + 16 // body length || body mac
	headerBoxSize   = headerPlainSize + 16
)

var (
	// ErrClosed 表示在 Writer/Reader 已经发出或收到关闭信号之后继续使用。
	ErrClosed = errors.New("boxstream: closed")

	// ErrMalformedHeader 表示对端发送的 header 无法通过认证或格式不合法。
	ErrMalformedHeader = fmt.Errorf("boxstream: malformed header: %w", crypto.ErrAuthFailed)
)

// incrementNonce 把 24 字节 nonce 当作大端无符号整数原地加一。
func incrementNonce(nonce *[24]byte) {
	for i := len(nonce) - 1; i >= 0; i-- {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}

// nonceCounter 维护一个单调递增、每次使用后自动前进的 nonce。
type nonceCounter struct {
	next [24]byte
}

func newNonceCounter(initial [24]byte) *nonceCounter {
	return &nonceCounter{next: initial}
}

func (c *nonceCounter) take() [24]byte {
	cur := c.next
	incrementNonce(&c.next)
	return cur
}

func putUint16(b []byte, v int) {
	binary.BigEndian.PutUint16(b, uint16(v))
}
