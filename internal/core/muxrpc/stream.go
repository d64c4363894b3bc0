package muxrpc

import (
	"sync"

	"github.com/benbjohnson/clock"
)

// Stream 表示一次调用里，单个方向上的一串包。入站的一侧由 Connection
// 的分派循环喂给它；出站的一侧由调用方或 Handler 通过 Send/End 写出，
// Connection 负责把它们序列化成 Packet 发到线路上。
//
// async 调用的响应只是单独一个非 stream 包，不是一条"长度为一"的流；
// kind 字段记录了这个区别，Send/End/CloseWithError 据此选择 Stream
// 标志位应该怎么置。
type Stream struct {
	conn   *Connection
	reqNum int32 // 写出时使用的请求号（带符号）
	kind   CallType

	mu    sync.Mutex
	items chan []byte
	errCh chan error
	ended bool
	// closed 表示本端已经对这个方向写出了结束包（或 async 的单次回复）。
	closed bool

	// idleTimer 在超过 conn.idleTimeout 没有收到入站包时把流标记为超时
	// 结束；每次 deliver 成功喂入一条数据都会把它重置。nil 表示超时被禁用。
	idleTimer *clock.Timer
}

func newStream(conn *Connection, reqNum int32, kind CallType) *Stream {
	s := &Stream{
		conn:   conn,
		reqNum: reqNum,
		kind:   kind,
		items:  make(chan []byte, 64),
		errCh:  make(chan error, 1),
	}
	if conn.idleTimeout > 0 {
		s.idleTimer = conn.clk.AfterFunc(conn.idleTimeout, s.expireIdle)
	}
	return s
}

// expireIdle 由 conn.clk 在空闲超时到期时调用：把流标记为已结束，
// 投递 ErrStreamIdleTimeout，关闭 items 通道唤醒阻塞在 Next 上的调用者。
func (s *Stream) expireIdle() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	select {
	case s.errCh <- ErrStreamIdleTimeout:
	default:
	}
	close(s.items)
}

// Next 阻塞直到下一条数据到达，或流结束（ok=false）。
func (s *Stream) Next() (body []byte, ok bool) {
	body, ok = <-s.items
	return body, ok
}

// Err 返回流以错误结束时的错误；流正常结束或尚未结束时返回 nil。
func (s *Stream) Err() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

// Send 写出一条数据。对 async 调用，这就是唯一的、也是最后的响应包；
// 对 source/duplex 调用，这是流里的下一条 item。
func (s *Stream) Send(body []byte, bodyType BodyType) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if s.kind == CallAsync {
		s.closed = true
	}
	s.mu.Unlock()

	return s.conn.writePacket(&Packet{
		Stream:        s.kind != CallAsync,
		EndErr:        false,
		BodyType:      bodyType,
		RequestNumber: s.reqNum,
		Body:          body,
	})
}

// End 写出流的结束包，标志该方向正常完成。对已经通过 Send 回复过的
// async 调用，End 是空操作。
func (s *Stream) End() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	isAsync := s.kind == CallAsync
	s.mu.Unlock()

	return s.conn.writePacket(&Packet{
		Stream:        !isAsync,
		EndErr:        true,
		BodyType:      BodyJSON,
		RequestNumber: s.reqNum,
		Body:          []byte("true"),
	})
}

// CloseWithError 写出一个错误包，结束流（或作为 async 调用的错误响应）。
func (s *Stream) CloseWithError(errBody []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	isAsync := s.kind == CallAsync
	s.mu.Unlock()

	return s.conn.writePacket(&Packet{
		Stream:        !isAsync,
		EndErr:        true,
		BodyType:      BodyJSON,
		RequestNumber: s.reqNum,
		Body:          errBody,
	})
}

// deliver 由分派循环调用，把一条入站包塞进该流。
func (s *Stream) deliver(p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if p.EndErr {
		s.ended = true
		if len(p.Body) > 0 && !isJSONTrue(p.Body) {
			s.errCh <- &callError{body: p.Body}
		}
		close(s.items)
		return
	}
	s.items <- p.Body
	if s.kind == CallAsync {
		s.ended = true
		close(s.items)
		return
	}
	if s.conn.idleTimeout > 0 {
		s.idleTimer = s.conn.clk.AfterFunc(s.conn.idleTimeout, s.expireIdle)
	}
}

func isJSONTrue(body []byte) bool {
	return string(body) == "true"
}

type callError struct {
	body []byte
}

func (e *callError) Error() string {
	return "muxrpc: remote error: " + string(e.body)
}
