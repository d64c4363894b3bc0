package boxstream

import (
	"io"
	"sync"

	"github.com/davidlazar/go-crypto/secretbox"

	"github.com/ssbc/solar/internal/crypto"
)

// Reader 从底层连接解密并校验一条条记录，对外呈现为一个普通的
// io.Reader。遇到优雅关闭信号时返回 io.EOF；头部认证失败或长度非法时返回
// ErrMalformedHeader，正文认证失败时返回 crypto.ErrAuthFailed，正文被截断时
// 返回 io.ErrUnexpectedEOF，此后的所有调用都返回同一个错误——已经认证失败过一次
// 的流不再可信，不会尝试"跳过坏记录继续读"。
type Reader struct {
	mu      sync.Mutex
	r       io.Reader
	key     [32]byte
	nonces  *nonceCounter
	pending []byte
	eof     bool
	fatal   error
}

// NewReader 基于会话密钥与初始 nonce 构造一个 Reader。
func NewReader(r io.Reader, key [32]byte, initialNonce [24]byte) *Reader {
	return &Reader{r: r, key: key, nonces: newNonceCounter(initialNonce)}
}

// Read 实现 io.Reader。
func (br *Reader) Read(p []byte) (int, error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.fatal != nil {
		return 0, br.fatal
	}
	if len(br.pending) == 0 {
		if br.eof {
			return 0, io.EOF
		}
		body, err := br.readRecord()
		if err != nil {
			if err == io.EOF {
				br.eof = true
			} else {
				br.fatal = err
			}
			return 0, err
		}
		if body == nil {
			br.eof = true
			return 0, io.EOF
		}
		br.pending = body
	}

	n := copy(p, br.pending)
	br.pending = br.pending[n:]
	return n, nil
}

// readRecord 读取并解密一条完整记录；返回 (nil, nil) 永远不会发生——
// 优雅关闭信号直接以 (nil, io.EOF) 表示。
func (br *Reader) readRecord() ([]byte, error) {
	headerBox := make([]byte, headerBoxSize)
	if _, err := io.ReadFull(br.r, headerBox); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	headerNonce := br.nonces.take()
	headerPlain, ok := secretbox.Open(nil, headerBox, &headerNonce, &br.key)
	if !ok || len(headerPlain) != headerPlainSize {
		return nil, ErrMalformedHeader
	}

	bodyLen := int(headerPlain[0])<<8 | int(headerPlain[1])
	bodyMAC := headerPlain[2:]

	if bodyLen == 0 && isAllZero(bodyMAC) {
		return nil, io.EOF
	}
	if bodyLen <= 0 || bodyLen > MaxBodySize {
		return nil, ErrMalformedHeader
	}

	bodyCiphertext := make([]byte, bodyLen)
	if _, err := io.ReadFull(br.r, bodyCiphertext); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	bodyBox := append(append([]byte{}, bodyMAC...), bodyCiphertext...)
	bodyNonce := br.nonces.take()
	body, ok := secretbox.Open(nil, bodyBox, &bodyNonce, &br.key)
	if !ok {
		return nil, crypto.ErrAuthFailed
	}
	return body, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
