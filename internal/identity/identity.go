// Package identity 管理节点的长期身份：一个 Ed25519 密钥对，
// 外部表示为 feed identity（`@<base64>.ed25519`）。
//
// 身份在首次启动时创建并持久化到 secret.toml，此后永不轮换；
// 加载之后是不可变的，可以安全地在多个 goroutine 间共享。
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("identity")

// Identity 是节点的长期密钥对及其 feed 标识符。
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// secretFile 镜像 secret.toml 的磁盘格式。
//
// Secret 字段是 64 字节 Ed25519 私钥（seed+pub）的 base64 编码，
// Id 字段是对应的 feed identity 字符串，冗余存储以便人工检查配置文件。
type secretFile struct {
	ID     string `toml:"id"`
	Secret string `toml:"secret"`
}

// FeedID 将一个 Ed25519 公钥渲染为 `@<base64>.ed25519` 格式的外部标识符。
func FeedID(pub ed25519.PublicKey) string {
	return "@" + base64.StdEncoding.EncodeToString(pub) + ".ed25519"
}

// ParseFeedID 解析 `@<base64>.ed25519` 形式的标识符，返回其中的公钥。
func ParseFeedID(id string) (ed25519.PublicKey, error) {
	rest := id
	if len(rest) > 0 && rest[0] == '@' {
		rest = rest[1:]
	}
	const suffix = ".ed25519"
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return nil, fmt.Errorf("identity: malformed feed id %q", id)
	}
	rest = rest[:len(rest)-len(suffix)]
	pub, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("identity: malformed feed id %q: %w", id, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: feed id %q has wrong key length", id)
	}
	return ed25519.PublicKey(pub), nil
}

// ID 返回此身份的外部标识符。
func (i *Identity) ID() string {
	return FeedID(i.Public)
}

// secretPath 返回 <data_dir>/secret.toml 的路径。
func secretPath(dataDir string) string {
	return filepath.Join(dataDir, "secret.toml")
}

// LoadOrCreate 从 <data_dir>/secret.toml 加载身份；文件不存在时生成新的密钥对并持久化。
func LoadOrCreate(dataDir string) (*Identity, error) {
	path := secretPath(dataDir)

	data, err := os.ReadFile(path)
	if err == nil {
		return decodeSecretFile(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating keypair: %w", err)
	}
	id := &Identity{Public: pub, Private: priv}

	if err := persist(dataDir, id); err != nil {
		return nil, err
	}
	logger.Info("created new identity", "id", id.ID())
	return id, nil
}

func decodeSecretFile(data []byte) (*Identity, error) {
	var sf secretFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("identity: parsing secret.toml: %w", err)
	}

	secret, err := base64.StdEncoding.DecodeString(sf.Secret)
	if err != nil || len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: malformed secret.toml: bad secret field")
	}
	priv := ed25519.PrivateKey(secret)
	pub := priv.Public().(ed25519.PublicKey)

	id := &Identity{Public: pub, Private: priv}
	if sf.ID != "" && sf.ID != id.ID() {
		return nil, fmt.Errorf("identity: secret.toml id field %q does not match embedded key", sf.ID)
	}
	return id, nil
}

// persist 将身份原子地写入 secret.toml，权限 0600。
func persist(dataDir string, id *Identity) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("identity: creating data dir: %w", err)
	}

	sf := secretFile{
		ID:     id.ID(),
		Secret: base64.StdEncoding.EncodeToString(id.Private),
	}

	var buf []byte
	enc, err := toml.Marshal(sf)
	if err != nil {
		return fmt.Errorf("identity: encoding secret.toml: %w", err)
	}
	buf = enc

	return atomicWriteFile(secretPath(dataDir), buf, 0600)
}

// atomicWriteFile 先写入临时文件再原子重命名，避免写入中途崩溃留下半截文件。
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("identity: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("identity: renaming temp file: %w", err)
	}
	return nil
}
