package boxstream

import (
	"io"
	"sync"

	"github.com/davidlazar/go-crypto/secretbox"
)

// Writer 把写入的字节切分成不超过 MaxBodySize 的记录，逐条加密、认证后
// 发往底层连接。对 Write 的一次调用可能产生多条记录；调用方不需要关心
// 分片边界。并发调用是安全的：内部用一个互斥锁序列化对 nonce 计数器与
// 底层连接的访问。
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	key    [32]byte
	nonces *nonceCounter
	closed bool
}

// NewWriter 基于会话密钥与初始 nonce 构造一个 Writer。
func NewWriter(w io.Writer, key [32]byte, initialNonce [24]byte) *Writer {
	return &Writer{w: w, key: key, nonces: newNonceCounter(initialNonce)}
}

// Write 实现 io.Writer：把 p 切分成若干条记录写出。
func (bw *Writer) Write(p []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return 0, ErrClosed
	}

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxBodySize {
			chunk = chunk[:MaxBodySize]
		}
		if err := bw.writeRecord(chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// writeRecord 加密并发出单条记录；调用方必须持有 bw.mu。
func (bw *Writer) writeRecord(body []byte) error {
	headerNonce := bw.nonces.take()
	bodyNonce := bw.nonces.take()
	bodyBox := secretbox.Seal(nil, body, &bodyNonce, &bw.key)
	bodyMAC, bodyCiphertext := bodyBox[:16], bodyBox[16:]

	var headerPlain [headerPlainSize]byte
	putUint16(headerPlain[:2], len(body))
	copy(headerPlain[2:], bodyMAC)

	headerBox := secretbox.Seal(nil, headerPlain[:], &headerNonce, &bw.key)

	if _, err := bw.w.Write(headerBox); err != nil {
		return err
	}
	if _, err := bw.w.Write(bodyCiphertext); err != nil {
		return err
	}
	return nil
}

// Close 发出优雅关闭信号（长度为零、MAC 全零的记录）。底层连接本身
// 不会被关闭，由调用方决定连接的生命周期。
func (bw *Writer) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true

	var headerPlain [headerPlainSize]byte // all zero: length 0, mac 0
	headerNonce := bw.nonces.take()
	headerBox := secretbox.Seal(nil, headerPlain[:], &headerNonce, &bw.key)

	_, err := bw.w.Write(headerBox)
	return err
}
