package replication

import "errors"

var (
	// ErrByzantinePeer 表示对端发来了签名或哈希不合法的消息；§7 要求
	// 把这种情况当作拜占庭行为处理，断开整条连接。
	ErrByzantinePeer = errors.New("replication: peer sent an invalid message, disconnecting")

	// ErrResyncDiverged 表示某个对端持有的本地 feed 前缀与本地存活的
	// 前缀不一致；该对端被忽略，不会用于恢复。
	ErrResyncDiverged = errors.New("replication: peer's copy of local feed diverges from local data")
)
