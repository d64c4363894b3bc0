package replication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/core/muxrpc"
	"github.com/ssbc/solar/internal/core/store"
)

// gapRetryBackoff 是 GapDetected 之后重新打开 createHistoryStream 前的
// 等待时长，避免对一直汇报同一个 gap 的对端忙等。
const gapRetryBackoff = 500 * time.Millisecond

// historyStreamArgs 是 createHistoryStream 调用唯一的位置参数。
type historyStreamArgs struct {
	ID   string `json:"id"`
	Seq  int64  `json:"seq"`
	Live bool   `json:"live"`
	Old  bool   `json:"old"`
	Keys bool   `json:"keys"`
}

// RunOutbound 为 feeds 里的每一个 feed 打开一条 createHistoryStream，
// 并把收到的消息校验后写入 store。每个 feed 独立运行，互不阻塞；某个
// feed 因 GapDetected 中止时会在短暂退避后重新打开，ForkDetected 则永久
// 放弃该 feed（仅针对这条连接），SignatureInvalid 按 §7 视为拜占庭行为，
// 通过 errCh 上报给调用方以便整条连接被关闭。
func (c *Controller) RunOutbound(ctx context.Context, connID string, conn *muxrpc.Connection, feeds []string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for _, feed := range feeds {
			feed := feed
			go c.runFeedOutbound(ctx, connID, conn, feed, errCh)
		}
		<-ctx.Done()
	}()
	return errCh
}

func (c *Controller) runFeedOutbound(ctx context.Context, connID string, conn *muxrpc.Connection, feedID string, errCh chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}
		if c.hasAbandoned(connID, feedID) {
			return
		}

		seq, _, ok, err := c.store.Head(feedID)
		if err != nil {
			logger.Warn("failed to read local head before replicating", "feed", feedID, "error", err)
			return
		}
		from := int64(1)
		if ok {
			from = seq + 1
		}

		if err := c.pullFeedOnce(ctx, connID, conn, feedID, from); err != nil {
			switch err {
			case store.ErrGapDetected:
				logger.Warn("gap detected replicating feed, will retry after backoff", "feed", feedID)
				select {
				case <-c.clk.After(gapRetryBackoff):
				case <-ctx.Done():
					return
				}
				continue
			case store.ErrForkDetected:
				logger.Warn("fork detected replicating feed, abandoning for this connection", "feed", feedID)
				c.abandonFeed(connID, feedID)
				return
			case store.ErrSignatureInvalid:
				select {
				case errCh <- ErrByzantinePeer:
				default:
				}
				return
			default:
				logger.Warn("history stream ended", "feed", feedID, "error", err)
				return
			}
		}
		return
	}
}

// pullFeedOnce 打开一条 createHistoryStream，逐条校验并追加，直到流结束
// 或出现一个需要上层决定如何处理的错误。
func (c *Controller) pullFeedOnce(ctx context.Context, connID string, conn *muxrpc.Connection, feedID string, from int64) error {
	args, err := json.Marshal(historyStreamArgs{ID: feedID, Seq: from, Live: true, Old: true, Keys: false})
	if err != nil {
		return err
	}
	var rawArgs interface{}
	if err := json.Unmarshal(args, &rawArgs); err != nil {
		return err
	}

	stream, err := conn.Source(&muxrpc.Request{
		Name: []string{"createHistoryStream"},
		Type: muxrpc.CallSource,
		Args: []interface{}{rawArgs},
	})
	if err != nil {
		return err
	}

	for {
		body, ok := stream.Next()
		if !ok {
			return stream.Err()
		}

		msg, err := codec.Decode(body)
		if err != nil {
			return store.ErrSignatureInvalid
		}

		if _, err := c.store.Append(msg); err != nil {
			return err
		}
	}
}
