// Package muxrpc 实现握手与记录层之上的多路复用 RPC 子层：在单一有序
// 字节流上承载任意多个并发的 async/source/sink/duplex 调用，按 9 字节
// 包头里的请求号把入站数据分派回各自的调用。
package muxrpc

import (
	"encoding/binary"
	"errors"
	"io"
)

// headerSize 是每个 muxrpc 包的包头长度：1 字节 flags + 4 字节 body
// 长度（大端）+ 4 字节请求号（大端，有符号）。
const headerSize = 9

// MaxBodyLength 是单个包 body 的最大字节数；更大的负载需要调用方自行分片
// 成多个流式包（每个包仍然带着同一个 stream 标志）。
const MaxBodyLength = 1 << 20

// BodyType 标识包体的编码方式，供接收端在没有额外上下文的情况下解释
// body 字节。
type BodyType uint8

const (
	BodyBinary BodyType = 0
	BodyUTF8   BodyType = 1
	BodyJSON   BodyType = 2
)

const (
	flagStream   = 0x08
	flagEndErr   = 0x04
	bodyTypeMask = 0x03
)

var (
	// ErrMalformedPacket 表示包头或包体无法被正确解析。
	ErrMalformedPacket = errors.New("muxrpc: malformed packet")
)

// Packet 是 muxrpc 线路上的最小传输单元。
type Packet struct {
	// Stream 为 true 表示这是 source/sink/duplex 调用里的一个分片；
	// 为 false 表示这是一次性的 async 请求或响应。
	Stream bool

	// EndErr 为 true 表示这是某个流的最后一个包，或者这是一次调用的
	// 错误响应（具体含义取决于 RequestNumber 的符号与调用的类型）。
	EndErr bool

	BodyType BodyType

	// RequestNumber 为正表示这是己方发起的调用；为负表示这是对某次
	// 入站调用（其请求号为 -RequestNumber）的响应。请求号永不为零。
	RequestNumber int32

	Body []byte
}

func (p *Packet) flags() byte {
	var f byte
	if p.Stream {
		f |= flagStream
	}
	if p.EndErr {
		f |= flagEndErr
	}
	f |= byte(p.BodyType) & bodyTypeMask
	return f
}

// Encode 把包写出到 w：先写 9 字节包头，再写 body。
func (p *Packet) Encode(w io.Writer) error {
	if len(p.Body) > MaxBodyLength {
		return ErrMalformedPacket
	}
	if p.RequestNumber == 0 {
		return ErrMalformedPacket
	}

	var header [headerSize]byte
	header[0] = p.flags()
	binary.BigEndian.PutUint32(header[1:5], uint32(len(p.Body)))
	binary.BigEndian.PutUint32(header[5:9], uint32(p.RequestNumber))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(p.Body) == 0 {
		return nil
	}
	_, err := w.Write(p.Body)
	return err
}

// DecodePacket 从 r 读取并解析下一个包。一个全零的 9 字节包头是连接的
// goodbye 信号，返回 io.EOF。
func DecodePacket(r io.Reader) (*Packet, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	if isAllZero(header[:]) {
		return nil, io.EOF
	}

	bodyLen := binary.BigEndian.Uint32(header[1:5])
	if bodyLen > MaxBodyLength {
		return nil, ErrMalformedPacket
	}
	reqNum := int32(binary.BigEndian.Uint32(header[5:9]))
	if reqNum == 0 {
		return nil, ErrMalformedPacket
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, ErrMalformedPacket
		}
	}

	flags := header[0]
	return &Packet{
		Stream:        flags&flagStream != 0,
		EndErr:        flags&flagEndErr != 0,
		BodyType:      BodyType(flags & bodyTypeMask),
		RequestNumber: reqNum,
		Body:          body,
	}, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Goodbye 向 w 写出一个全零包头，表示本端不再发起或响应任何调用。
func Goodbye(w io.Writer) error {
	var header [headerSize]byte
	_, err := w.Write(header[:])
	return err
}
