package muxrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("core/muxrpc")

// DefaultIdleTimeout 是 §5 所说的"可配置的单流空闲超时"的默认值：一个流
// 超过这个时长没有收到任何入站包，就会被关闭并报 ErrStreamIdleTimeout。
const DefaultIdleTimeout = 5 * time.Minute

// Option 配置一个 Connection。
type Option func(*Connection)

// WithClock 替换连接使用的时钟，测试用来让空闲超时在虚拟时间里推进。
func WithClock(clk clock.Clock) Option {
	return func(c *Connection) { c.clk = clk }
}

// WithIdleTimeout 覆盖默认的单流空闲超时；传 0 禁用超时。
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Connection) { c.idleTimeout = d }
}

// Handler 处理入站调用。out 是响应该次调用要写出的流：async 调用只
// 应该对 out 调用一次 Send 后跟 End（或直接 CloseWithError）；
// source/duplex 调用可以多次 Send。
type Handler interface {
	HandleCall(ctx context.Context, req *Request, out *Stream) error
}

// HandlerFunc 把普通函数适配成 Handler。
type HandlerFunc func(ctx context.Context, req *Request, out *Stream) error

func (f HandlerFunc) HandleCall(ctx context.Context, req *Request, out *Stream) error {
	return f(ctx, req, out)
}

// Connection 是单条底层连接（通常是 boxstream 包装后的 Writer/Reader 对）
// 上的 muxrpc 多路复用层：既可以发起调用，也可以分派入站调用给已注册的
// Handler。
type Connection struct {
	r io.Reader
	w io.Writer

	writeMu sync.Mutex // 每个包的写入都持有它，天然实现了包粒度的公平交织

	reqCounter int32 // 原子递增，本端发起调用时分配的下一个正请求号

	mu       sync.Mutex
	pending  map[int32]chan *Packet // 本端发起、等待 async 响应的调用
	inbound  map[int32]*Stream      // 入站调用对应的出站流（响应侧）
	outbound map[int32]*Stream      // 本端发起的 source/duplex 调用的接收流
	handlers map[string]Handler

	closed   bool
	closeErr error
	done     chan struct{}

	ctx       context.Context
	cancelCtx context.CancelFunc

	clk         clock.Clock
	idleTimeout time.Duration
}

// New 基于一个已经过认证加密的 Writer/Reader 对构造 muxrpc 连接，并
// 立即启动分派循环。调用方应该在不再需要连接时调用 Close。
func New(r io.Reader, w io.Writer, opts ...Option) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		r:           r,
		w:           w,
		ctx:         ctx,
		cancelCtx:   cancel,
		pending:     make(map[int32]chan *Packet),
		inbound:     make(map[int32]*Stream),
		outbound:    make(map[int32]*Stream),
		handlers:    make(map[string]Handler),
		done:        make(chan struct{}),
		clk:         clock.New(),
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.dispatchLoop()
	return c
}

// Handle 为一个方法名（以 "." 连接，如 "createHistoryStream"）注册处理器。
func (c *Connection) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

func (c *Connection) nextRequestNumber() int32 {
	return atomic.AddInt32(&c.reqCounter, 1)
}

func (c *Connection) writePacket(p *Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return p.Encode(c.w)
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Call 发起一次 async 调用，阻塞直到收到响应或 ctx 取消。
func (c *Connection) Call(ctx context.Context, req *Request) ([]byte, error) {
	reqNum := c.nextRequestNumber()
	respCh := make(chan *Packet, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[reqNum] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, reqNum)
		c.mu.Unlock()
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.writePacket(&Packet{RequestNumber: reqNum, BodyType: BodyJSON, Body: body}); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if resp.EndErr {
			return nil, &callError{body: resp.Body}
		}
		return resp.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

// Source 发起一次 source 调用，返回一个用于读取响应方推送数据的流。
func (c *Connection) Source(req *Request) (*Stream, error) {
	reqNum := c.nextRequestNumber()
	stream := newStream(c, reqNum, CallSource)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.outbound[reqNum] = stream
	c.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := c.writePacket(&Packet{RequestNumber: reqNum, BodyType: BodyJSON, Body: body}); err != nil {
		c.mu.Lock()
		delete(c.outbound, reqNum)
		c.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

// dispatchLoop 读取并路由入站包，直到连接关闭或线路出错。
func (c *Connection) dispatchLoop() {
	for {
		p, err := DecodePacket(c.r)
		if err != nil {
			c.closeWithError(err)
			return
		}

		if !p.Stream && p.RequestNumber > 0 {
			// 入站的新调用请求。
			go c.handleIncomingCall(p)
			continue
		}

		if p.RequestNumber < 0 {
			c.routeToPending(p)
			continue
		}

		c.routeToInbound(p)
	}
}

func (c *Connection) routeToPending(p *Packet) {
	c.mu.Lock()
	ch, ok := c.pending[-p.RequestNumber]
	stream, hasStream := c.outbound[-p.RequestNumber]
	c.mu.Unlock()

	if ok {
		select {
		case ch <- p:
		default:
		}
		return
	}
	if hasStream {
		stream.deliver(p)
	}
}

func (c *Connection) routeToInbound(p *Packet) {
	c.mu.Lock()
	stream, ok := c.inbound[p.RequestNumber]
	c.mu.Unlock()
	if ok {
		stream.deliver(p)
	}
}

func (c *Connection) handleIncomingCall(p *Packet) {
	var req Request
	if err := json.Unmarshal(p.Body, &req); err != nil {
		logger.Warn("discarding malformed call request", "error", err)
		return
	}

	c.mu.Lock()
	handler, ok := c.handlers[req.MethodString()]
	c.mu.Unlock()

	out := newStream(c, -p.RequestNumber, req.Type)
	if req.Type == CallSource || req.Type == CallDuplex {
		c.mu.Lock()
		c.inbound[p.RequestNumber] = out
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.inbound, p.RequestNumber)
			c.mu.Unlock()
		}()
	}

	if !ok {
		c.respondMethodNotSupported(out, req.MethodString())
		return
	}

	if err := handler.HandleCall(c.ctx, &req, out); err != nil {
		body, _ := json.Marshal(ErrorResponse{Message: err.Error(), Name: "Error"})
		_ = out.CloseWithError(body)
	}
}

func (c *Connection) respondMethodNotSupported(out *Stream, method string) {
	body, _ := json.Marshal(ErrorResponse{
		Message: fmt.Sprintf("method %q not supported", method),
		Name:    ErrMethodNotSupported.Error(),
	})
	_ = out.CloseWithError(body)
}

func (c *Connection) closeWithError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	c.cancelCtx()
	pending := c.pending
	outbound := c.outbound
	c.pending = make(map[int32]chan *Packet)
	c.outbound = make(map[int32]*Stream)
	c.mu.Unlock()

	close(c.done)
	for _, ch := range pending {
		close(ch)
	}
	for _, s := range outbound {
		s.mu.Lock()
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		if !s.ended {
			s.ended = true
			close(s.items)
		}
		s.mu.Unlock()
	}
}

// Close 优雅关闭连接：发出 goodbye 包，释放所有挂起的调用，并且如果
// 底层的 Reader/Writer 实现了 io.Closer，顺带关闭它以唤醒阻塞在
// DecodePacket 里的分派循环。
func (c *Connection) Close() error {
	_ = Goodbye(c.w)
	c.closeWithError(ErrConnectionClosed)
	if closer, ok := c.r.(io.Closer); ok {
		_ = closer.Close()
	}
	if closer, ok := c.w.(io.Closer); ok && interface{}(closer) != interface{}(c.r) {
		_ = closer.Close()
	}
	return nil
}

// Done 返回一个连接关闭后会被关闭的 channel，供调用方等待连接结束。
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err 返回导致连接关闭的错误（正常关闭时是 ErrConnectionClosed）。
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}
