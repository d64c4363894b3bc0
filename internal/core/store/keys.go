package store

import (
	"encoding/binary"

	"github.com/ssbc/solar/internal/identity"
)

// Feed Store 的键空间按 §4.2 划分为三个前缀：
//
//	m/<ref>              -> 消息记录（规范序列化字节）
//	f/<author>/<be_u64>  -> 该序号处消息的引用
//	h/<author>           -> 头部记录（最新序号与引用）
//
// 这三类键共享同一个底层引擎，以便一次原子批量写入覆盖全部三处更新。
const (
	msgPrefix  = "m/"
	feedPrefix = "f/"
	headPrefix = "h/"
)

// authorBytes 把 feed identity 字符串还原成紧凑的原始公钥字节。
func authorBytes(feedID string) ([]byte, error) {
	pub, err := identity.ParseFeedID(feedID)
	if err != nil {
		return nil, err
	}
	return []byte(pub), nil
}

// msgKey 构造 m/<ref> 键。
func msgKey(ref string) []byte {
	return append([]byte(msgPrefix), []byte(ref)...)
}

// feedKey 构造 f/<author>/<be_u64_seq> 键：author 原始字节、一个 '/' 分隔符、
// 8 字节大端序号依次拼接，天然支持按 author 做前缀扫描、按 seq 做范围扫描。
func feedKey(author []byte, seq int64) []byte {
	key := make([]byte, len(feedPrefix)+len(author)+1+8)
	n := copy(key, feedPrefix)
	n += copy(key[n:], author)
	key[n] = '/'
	n++
	binary.BigEndian.PutUint64(key[n:], uint64(seq))
	return key
}

// feedSubKey 构造 feeds 命名空间下去掉 f/ 前缀的子键：<author>/<be_u64_seq>。
// 供经 kv.Store 包装、已自动加上 f/ 前缀的读路径使用。
func feedSubKey(author []byte, seq int64) []byte {
	key := make([]byte, len(author)+1+8)
	n := copy(key, author)
	key[n] = '/'
	n++
	binary.BigEndian.PutUint64(key[n:], uint64(seq))
	return key
}

// headKey 构造 h/<author> 键。
func headKey(author []byte) []byte {
	return append([]byte(headPrefix), author...)
}

// seqFromFeedKey 从 f/<author>/<be_u64> 键中取出末尾 8 字节的序号。
func seqFromFeedKey(key []byte) int64 {
	if len(key) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}
