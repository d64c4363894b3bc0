// Package store 实现 Feed Store：append-only 的签名消息持久化，
// 按作者与按消息引用建立索引，提供原子批量写入与前缀迭代。
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ssbc/solar/internal/core/codec"
	"github.com/ssbc/solar/internal/core/storage"
	"github.com/ssbc/solar/internal/core/storage/engine"
	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("core/store")

// headRecord 是 h/<author> 键下存储的值。
type headRecord struct {
	Sequence int64  `json:"sequence"`
	Ref      string `json:"ref"`
}

// Store 是 Feed Store 的句柄，可以安全地在多个 goroutine 间共享：
// 并发读者看到某一时刻的一致快照，写者按作者序列化。
//
// 读路径（Head/GetByRef/Range）经由三个带命名空间隔离的 kv.Store 访问；
// 写路径（Append/Resync）需要跨 m/、f/、h/ 三个前缀原子写入一个批次，
// kv.Store 的批量操作绑定单一前缀做不到这一点，因此直接对底层引擎
// 发起一次 engine.Batch——只要 keys.go 里的前缀常量和下面三个
// kv.Store 的前缀保持一致，两条路径看到的就是同一份键空间。
type Store struct {
	eng engine.InternalEngine

	msgs  *storage.KVStore
	feeds *storage.KVStore
	heads *storage.KVStore

	authorLocks sync.Map // author (string) -> *sync.Mutex
}

// New 基于给定的存储引擎构造 Feed Store。
func New(eng engine.InternalEngine) *Store {
	return &Store{
		eng:   eng,
		msgs:  storage.NewKVStore(eng, []byte(msgPrefix)),
		feeds: storage.NewKVStore(eng, []byte(feedPrefix)),
		heads: storage.NewKVStore(eng, []byte(headPrefix)),
	}
}

func (s *Store) lockAuthor(author string) func() {
	muAny, _ := s.authorLocks.LoadOrStore(author, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Head 返回某 feed 当前已知的最新序号与引用；feed 不存在时 ok 为 false。
func (s *Store) Head(author string) (seq int64, ref codec.Ref, ok bool, err error) {
	ab, err := authorBytes(author)
	if err != nil {
		return 0, "", false, fmt.Errorf("store: %w", err)
	}

	var hr headRecord
	err = s.heads.GetJSON(ab, &hr)
	if engine.IsNotFound(err) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("%w: decoding head record: %v", ErrStorageError, err)
	}
	return hr.Sequence, codec.Ref(hr.Ref), true, nil
}

// GetByRef 按引用查找一条已存储的消息。
func (s *Store) GetByRef(ref codec.Ref) (*codec.Message, error) {
	raw, err := s.msgs.Get([]byte(ref))
	if engine.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return codec.Decode(raw)
}

// Append 校验 §3 描述的五个不变式并原子地写入一条新消息。
func (s *Store) Append(msg *codec.Message) (codec.Ref, error) {
	if err := codec.Verify(msg); err != nil {
		return "", ErrSignatureInvalid
	}

	ref, err := codec.ComputeRef(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	unlock := s.lockAuthor(msg.Author)
	defer unlock()

	ab, err := authorBytes(msg.Author)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}

	headSeq, headRef, hasHead, err := s.Head(msg.Author)
	if err != nil {
		return "", err
	}

	if !hasHead {
		if msg.Sequence != 1 || msg.Previous != nil {
			return "", ErrGapDetected
		}
	} else {
		switch {
		case msg.Sequence == headSeq:
			// 重放同一条消息：幂等，不是错误。
			if ref == headRef {
				return ref, nil
			}
			return "", ErrForkDetected
		case msg.Sequence != headSeq+1:
			return "", ErrGapDetected
		case msg.Previous == nil || codec.Ref(*msg.Previous) != headRef:
			return "", ErrForkDetected
		}
	}

	body, err := codec.Encode(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	hr := headRecord{Sequence: msg.Sequence, Ref: string(ref)}
	hrBytes, err := json.Marshal(hr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	batch := s.eng.NewBatch()
	batch.Put(msgKey(string(ref)), body)
	batch.Put(feedKey(ab, msg.Sequence), []byte(ref))
	batch.Put(headKey(ab), hrBytes)

	if err := s.eng.Write(batch); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	logger.Debug("appended message", "author", msg.Author, "sequence", msg.Sequence, "ref", ref)
	return ref, nil
}

// Range 以升序遍历某个 feed 从 from 到 to（含端点）的消息，对每条消息调用
// fn；fn 返回 false 时提前停止。to <= 0 表示没有上限，直到遍历到当前头部。
func (s *Store) Range(author string, from, to int64, fn func(*codec.Message) (bool, error)) error {
	ab, err := authorBytes(author)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	var rangeErr error
	scanErr := s.feeds.PrefixScan(ab, func(key, value []byte) bool {
		seq := seqFromFeedKey(key)
		if seq < from {
			return true
		}
		if to > 0 && seq > to {
			return false
		}

		ref := codec.Ref(value)
		msg, err := s.GetByRef(ref)
		if err != nil {
			rangeErr = fmt.Errorf("%w: loading %s: %v", ErrStorageError, ref, err)
			return false
		}

		cont, err := fn(msg)
		if err != nil {
			rangeErr = err
			return false
		}
		return cont
	})
	if rangeErr != nil {
		return rangeErr
	}
	return scanErr
}

// Resync 仅允许对本地身份执行：用来自某个对端的 provisional 前缀恢复本地
// feed。验证 provisional 序列自身的完整性，并与任何存活的本地消息逐字节
// 比对；一旦出现分歧立即以 ErrForkDetected 拒绝，不做部分恢复。
func (s *Store) Resync(localIdentity string, provisional []*codec.Message) error {
	unlock := s.lockAuthor(localIdentity)
	defer unlock()

	ab, err := authorBytes(localIdentity)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	var prevRef *string
	for i, msg := range provisional {
		if msg.Author != localIdentity {
			return ErrResyncNotAllowed
		}
		if int64(i+1) != msg.Sequence {
			return ErrGapDetected
		}
		if err := codec.Verify(msg); err != nil {
			return ErrSignatureInvalid
		}
		if i == 0 {
			if msg.Previous != nil {
				return ErrForkDetected
			}
		} else if msg.Previous == nil || *msg.Previous != *prevRef {
			return ErrForkDetected
		}

		ref, err := codec.ComputeRef(msg)
		if err != nil {
			return ErrSignatureInvalid
		}
		refStr := string(ref)
		prevRef = &refStr

		// 与任何存活的本地记录逐字节比对。
		existing, err := s.GetByRef(ref)
		if err == nil {
			existingCanon, _ := codec.Encode(existing)
			newCanon, _ := codec.Encode(msg)
			if string(existingCanon) != string(newCanon) {
				return ErrForkDetected
			}
		} else if existingRef, hasExisting := s.feedRefAt(ab, msg.Sequence); hasExisting && existingRef != ref {
			return ErrForkDetected
		}
	}

	batch := s.eng.NewBatch()
	for _, msg := range provisional {
		ref, err := codec.ComputeRef(msg)
		if err != nil {
			return ErrSignatureInvalid
		}
		body, err := codec.Encode(msg)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		batch.Put(msgKey(string(ref)), body)
		batch.Put(feedKey(ab, msg.Sequence), []byte(ref))
	}

	if len(provisional) > 0 {
		last := provisional[len(provisional)-1]
		ref, _ := codec.ComputeRef(last)
		hr := headRecord{Sequence: last.Sequence, Ref: string(ref)}
		hrBytes, err := json.Marshal(hr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		batch.Put(headKey(ab), hrBytes)
	}

	if err := s.eng.Write(batch); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	logger.Info("resync complete", "author", localIdentity, "count", len(provisional))
	return nil
}

// feedRefAt 返回某个 author 在给定 sequence 处已存储的引用（若存在）。
func (s *Store) feedRefAt(author []byte, seq int64) (codec.Ref, bool) {
	raw, err := s.feeds.Get(feedSubKey(author, seq))
	if err != nil {
		return "", false
	}
	return codec.Ref(raw), true
}
