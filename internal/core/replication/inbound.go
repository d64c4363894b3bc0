package replication

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/core/muxrpc"
)

// liveTailInterval 是 live=true 时轮询 store 是否出现新消息的周期。真实
// 的实时推送需要 store 提供一个订阅/唤醒机制；轮询是目前最简单、足够
// 正确的替代，换成推送不会改变这个 handler 的外部行为。
const liveTailInterval = 500 * time.Millisecond

// RegisterHandlers 把入站复制相关的 RPC 方法挂到 conn 上。任何未注册的
// 方法（blobs.*、ebt.* 等）由 muxrpc.Connection 自己统一回应
// "method not supported"，这里不需要重复处理。
func (c *Controller) RegisterHandlers(conn *muxrpc.Connection) {
	conn.Handle("createHistoryStream", muxrpc.HandlerFunc(c.handleCreateHistoryStream))
}

func (c *Controller) handleCreateHistoryStream(ctx context.Context, req *muxrpc.Request, out *muxrpc.Stream) error {
	args, err := parseHistoryStreamArgs(req)
	if err != nil {
		return err
	}

	from := args.Seq
	if from < 1 {
		from = 1
	}

	last := from - 1
	err = c.store.Range(args.ID, from, 0, func(msg *codec.Message) (bool, error) {
		body, err := codec.Encode(msg)
		if err != nil {
			return false, err
		}
		if err := out.Send(body, muxrpc.BodyJSON); err != nil {
			return false, err
		}
		last = msg.Sequence
		return true, nil
	})
	if err != nil {
		return err
	}

	if !args.Live {
		return out.End()
	}

	ticker := time.NewTicker(liveTailInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return out.End()
		case <-ticker.C:
			err := c.store.Range(args.ID, last+1, 0, func(msg *codec.Message) (bool, error) {
				body, err := codec.Encode(msg)
				if err != nil {
					return false, err
				}
				if err := out.Send(body, muxrpc.BodyJSON); err != nil {
					return false, err
				}
				last = msg.Sequence
				return true, nil
			})
			if err != nil {
				return err
			}
		}
	}
}

func parseHistoryStreamArgs(req *muxrpc.Request) (*historyStreamArgs, error) {
	if len(req.Args) == 0 {
		return &historyStreamArgs{Seq: 1}, nil
	}
	raw, err := json.Marshal(req.Args[0])
	if err != nil {
		return nil, err
	}
	var args historyStreamArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return &args, nil
}
