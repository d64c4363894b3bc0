package muxrpc

import "errors"

var (
	// ErrConnectionClosed 表示连接已经关闭；所有挂起的调用都会收到它。
	ErrConnectionClosed = errors.New("muxrpc: connection closed")

	// ErrMethodNotSupported 对应 §6/§7 里对 blobs.*、ebt.* 等未实现方法
	// 的统一响应：明确拒绝而不是静默忽略或挂起调用方。
	ErrMethodNotSupported = errors.New("muxrpc: method not supported")

	// ErrStreamClosed 表示在流已经结束之后继续读写。
	ErrStreamClosed = errors.New("muxrpc: stream closed")

	// ErrDuplicateRequestNumber 表示对端复用了一个仍在处理中的请求号，
	// 这违反了协议的基本约定。Connection 不检测这种情况，没有代码路径返回此错误。
	ErrDuplicateRequestNumber = errors.New("muxrpc: duplicate request number")

	// ErrStreamIdleTimeout 表示一个流超过了配置的空闲超时没有收到任何
	// 入站包，已被单独关闭；连接本身和其余流不受影响。
	ErrStreamIdleTimeout = errors.New("muxrpc: stream idle timeout")
)
