// Package codec 实现 SSB 消息的规范序列化、哈希、签名与校验。
//
// 规范序列化必须与现存 SSB 实现逐字节一致：字段按固定顺序排列，
// 以两空格缩进的类 JSON 编码呈现。任何偏差都会改变哈希值，破坏复制。
package codec

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ssbc/solar/internal/crypto"
	"github.com/ssbc/solar/internal/identity"
)

// HashAlgorithm 是 §3 中固定字面量 "sha256"。
const HashAlgorithm = "sha256"

// signatureSuffix 是 SSB 约定的签名字符串后缀。
const signatureSuffix = ".sig.ed25519"

// Message 是一条 SSB 消息的内存表示，字段顺序与规范序列化的字段顺序一致。
type Message struct {
	Previous  *string         `json:"previous"`
	Author    string          `json:"author"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
	Hash      string          `json:"hash"`
	Content   json.RawMessage `json:"content"`
	Signature string          `json:"signature,omitempty"`
}

// Ref 是消息引用的字符串表示：`%<base64>.sha256`。
type Ref string

// NewRef 根据摘要构造一个消息引用。
func NewRef(digest [32]byte) Ref {
	return Ref("%" + base64.StdEncoding.EncodeToString(digest[:]) + ".sha256")
}

// fields 按规范顺序返回消息的字段，includeSignature 控制是否附带签名字段
// （签名计算时必须省略该字段，哈希/存储时必须包含）。
func (m *Message) fields(includeSignature bool) []orderedField {
	fields := []orderedField{
		{"previous", m.Previous},
		{"author", m.Author},
		{"sequence", m.Sequence},
		{"timestamp", m.Timestamp},
		{"hash", m.Hash},
		{"content", m.Content},
	}
	if includeSignature {
		fields = append(fields, orderedField{"signature", m.Signature})
	}
	return fields
}

// signingBytes 返回用于签名/验签的规范字节：前六个字段，不含 signature 键。
func (m *Message) signingBytes() ([]byte, error) {
	return encodeCanonical(m.fields(false))
}

// CanonicalBytes 返回完整已签名消息的规范字节，用于计算引用和落盘。
func (m *Message) CanonicalBytes() ([]byte, error) {
	if m.Signature == "" {
		return nil, fmt.Errorf("codec: message has no signature")
	}
	return encodeCanonical(m.fields(true))
}

// Sign 使用长期私钥对消息签名，写入 m.Signature。
func Sign(m *Message, priv ed25519.PrivateKey) error {
	m.Hash = HashAlgorithm
	signing, err := m.signingBytes()
	if err != nil {
		return err
	}
	sig := crypto.Sign(priv, signing)
	m.Signature = base64.StdEncoding.EncodeToString(sig) + signatureSuffix
	return nil
}

// ComputeRef 计算消息的 SHA-256 规范引用。
func ComputeRef(m *Message) (Ref, error) {
	canon, err := m.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return NewRef(crypto.SHA256(canon)), nil
}

// Verify 校验消息的 Ed25519 签名。作者标识无法解析、签名编码错误或签名不匹配
// 时一律返回 ErrSignatureInvalid（部分情况带 "codec: " 前缀包装），不区分具体原因。
func Verify(m *Message) error {
	pub, err := identity.ParseFeedID(m.Author)
	if err != nil {
		return fmt.Errorf("codec: %w", ErrSignatureInvalid)
	}

	sigBytes, err := decodeSignature(m.Signature)
	if err != nil {
		return fmt.Errorf("codec: %w", ErrSignatureInvalid)
	}

	signing, err := m.signingBytes()
	if err != nil {
		return fmt.Errorf("codec: %w", ErrSignatureInvalid)
	}

	if !crypto.Verify(pub, signing, sigBytes) {
		return ErrSignatureInvalid
	}
	return nil
}

func decodeSignature(sig string) ([]byte, error) {
	if len(sig) <= len(signatureSuffix) || sig[len(sig)-len(signatureSuffix):] != signatureSuffix {
		return nil, fmt.Errorf("codec: malformed signature suffix")
	}
	return base64.StdEncoding.DecodeString(sig[:len(sig)-len(signatureSuffix)])
}

// Decode 将线上字节解析为 Message。Content 保留为 json.RawMessage，即输入中
// 该字段的原始字节切片，键顺序与间距与对端写入的完全一致；如果改用
// map[string]interface{}，encoding/json 会丢弃原始键顺序，破坏 Encode
// 往返时的字节一致性（well-formed 输入的 round-trip 不变式），也会让
// 重新计算的哈希与对端的原始引用对不上。
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("codec: decoding message: %w", err)
	}
	return &m, nil
}

// Encode 将消息渲染为规范字节。
func Encode(m *Message) ([]byte, error) {
	return m.CanonicalBytes()
}
