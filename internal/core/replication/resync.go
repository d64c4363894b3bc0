package replication

import (
	"context"
	"encoding/json"

	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/core/muxrpc"
)

// MaybeResyncLocalFeed 实现 §4.7 的"本地 feed 重同步"：向刚刚建立的
// 连接请求本地身份自己的 feed（从 sequence 1 开始，不要 live 推送），
// 如果对端持有的前缀比本地更长，校验它与任何存活的本地消息逐字节一致
// 之后，用它恢复本地 feed。如果对端的版本在某处分叉，忽略这个对端，
// 记录一条警告，绝不覆盖本地数据。
func (c *Controller) MaybeResyncLocalFeed(ctx context.Context, conn *muxrpc.Connection) error {
	localID := c.local.ID()

	localSeq, _, hasHead, err := c.store.Head(localID)
	if err != nil {
		return err
	}

	args, _ := json.Marshal(historyStreamArgs{ID: localID, Seq: 1, Live: false, Old: true, Keys: false})
	var rawArgs interface{}
	_ = json.Unmarshal(args, &rawArgs)

	stream, err := conn.Source(&muxrpc.Request{
		Name: []string{"createHistoryStream"},
		Type: muxrpc.CallSource,
		Args: []interface{}{rawArgs},
	})
	if err != nil {
		return err
	}

	var provisional []*codec.Message
	for {
		body, ok := stream.Next()
		if !ok {
			break
		}
		msg, err := codec.Decode(body)
		if err != nil {
			logger.Warn("peer sent malformed message during resync, ignoring peer", "error", err)
			return ErrResyncDiverged
		}
		provisional = append(provisional, msg)
	}
	if err := stream.Err(); err != nil {
		return err
	}

	if len(provisional) == 0 {
		return nil
	}
	peerHeadSeq := provisional[len(provisional)-1].Sequence
	if hasHead && peerHeadSeq <= localSeq {
		// 对端并不比本地更新，没有恢复的必要。
		return nil
	}

	if err := c.store.Resync(localID, provisional); err != nil {
		logger.Warn("local feed resync rejected this peer's copy", "error", err)
		return ErrResyncDiverged
	}

	logger.Info("resynced local feed from peer", "sequence", peerHeadSeq)
	return nil
}
