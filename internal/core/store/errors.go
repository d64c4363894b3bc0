package store

import "errors"

// 按 §4.2/§7 要求区分的错误种类；控制器据此决定是否放弃连接、放弃某个
// feed，还是仅仅终止当前操作。这些错误从不跨边界泄露更多细节。
var (
	// ErrGapDetected 表示待追加消息的 sequence 跳过了中间的序号。
	ErrGapDetected = errors.New("gap detected")

	// ErrForkDetected 表示同一 sequence 出现了不同的 previous/引用。
	ErrForkDetected = errors.New("fork detected")

	// ErrSignatureInvalid 表示消息未通过签名或哈希校验。
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrStorageError 包装底层 KV 引擎返回的不可恢复错误。
	ErrStorageError = errors.New("storage error")

	// ErrNotFound 表示请求的引用或 feed 不存在。
	ErrNotFound = errors.New("not found")

	// ErrResyncNotAllowed 表示尝试对非本地身份的 feed 执行 resync。
	ErrResyncNotAllowed = errors.New("resync only allowed for local identity")
)
