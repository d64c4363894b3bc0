package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/identity"
)

func errUnknownMethod(method string) error {
	return fmt.Errorf("jsonrpc: unknown method %q", method)
}

// KVT 是一条消息对外呈现的三元组：引用、内容、时间戳。Timestamp 取自消息
// 自身的 timestamp 字段（作者提供的值），不是本节点接收该消息的时间。
type KVT struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

func toKVT(msg *codec.Message) (KVT, error) {
	ref, err := codec.ComputeRef(msg)
	if err != nil {
		return KVT{}, err
	}
	return KVT{Key: string(ref), Value: msg.Content, Timestamp: msg.Timestamp}, nil
}

type feedParams struct {
	PubKey string `json:"pub_key"`
}

func (s *Server) feed(params json.RawMessage) ([]KVT, error) {
	var p feedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if _, err := identity.ParseFeedID(p.PubKey); err != nil {
		return nil, err
	}

	var out []KVT
	err := s.store.Range(p.PubKey, 1, 0, func(msg *codec.Message) (bool, error) {
		kvt, err := toKVT(msg)
		if err != nil {
			return false, err
		}
		out = append(out, kvt)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type messageParams struct {
	MsgRef string `json:"msg_ref"`
}

func (s *Server) message(params json.RawMessage) (*KVT, error) {
	var p messageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	msg, err := s.store.GetByRef(codec.Ref(p.MsgRef))
	if err != nil {
		return nil, err
	}
	kvt, err := toKVT(msg)
	if err != nil {
		return nil, err
	}
	return &kvt, nil
}

// peerStatus 是 peers() 方法里每一项的形状。
type peerStatus struct {
	PubKey string `json:"pub_key"`
	SeqNum int64  `json:"seq_num"`
}

func (s *Server) peers() ([]peerStatus, error) {
	feeds := s.repl.Feeds()
	out := make([]peerStatus, 0, len(feeds))
	for _, feedID := range feeds {
		seq, _, ok, err := s.store.Head(feedID)
		if err != nil {
			return nil, err
		}
		if !ok {
			seq = 0
		}
		out = append(out, peerStatus{PubKey: feedID, SeqNum: seq})
	}
	return out, nil
}

type publishResult struct {
	MsgRef string `json:"msg_ref"`
	SeqNum int64  `json:"seq_num"`
}

// publish 把 params 原样当作消息内容，接到本地 feed 末尾。content 以
// json.RawMessage 形式保留调用方写入的原始字节（键顺序、间距），而不是
// 解析成 map 再重新序列化，这样本地发布的消息与之后任何一次重新编码都
// 逐字节一致。
func (s *Server) publish(params json.RawMessage) (*publishResult, error) {
	if !json.Valid(params) {
		return nil, fmt.Errorf("jsonrpc: invalid content")
	}
	content := json.RawMessage(params)

	localID := s.local.ID()
	seq, headRef, hasHead, err := s.store.Head(localID)
	if err != nil {
		return nil, err
	}

	msg := &codec.Message{
		Author:    localID,
		Sequence:  1,
		Timestamp: nowMillis(),
		Content:   content,
	}
	if hasHead {
		msg.Sequence = seq + 1
		prev := string(headRef)
		msg.Previous = &prev
	}

	if err := codec.Sign(msg, s.local.Private); err != nil {
		return nil, err
	}

	ref, err := s.store.Append(msg)
	if err != nil {
		return nil, err
	}
	return &publishResult{MsgRef: string(ref), SeqNum: msg.Sequence}, nil
}

func (s *Server) whoami() (string, error) {
	return s.local.ID(), nil
}
