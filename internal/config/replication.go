package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// ReplicationConfig 是 `<data_dir>/replication.toml` 的内存镶像：
// 一张从 feed identity 到可选拨号地址的表。
//
// 它是 read-mostly 的：复制控制器、发现子系统与 JSON-RPC 管理面共享同一个
// 实例，读操作持读锁；AddPeer/SetAddress 持写锁原地更新这张表，不返回新实例。
type ReplicationConfig struct {
	mu    sync.RWMutex
	peers map[string]string // bare base64 pubkey -> "host:port" (空字符串=地址未知)
}

// replicationFile 镜像 replication.toml 的磁盘格式。
type replicationFile struct {
	Peers map[string]string `toml:"peers"`
}

// NewReplicationConfig 返回一个空的复制配置。
func NewReplicationConfig() *ReplicationConfig {
	return &ReplicationConfig{peers: make(map[string]string)}
}

func replicationPath(dataDir string) string {
	return filepath.Join(dataDir, "replication.toml")
}

// LoadReplicationConfig 从 `<data_dir>/replication.toml` 加载复制配置；
// 文件不存在时返回一个空配置（不视为错误）。
func LoadReplicationConfig(dataDir string) (*ReplicationConfig, error) {
	data, err := os.ReadFile(replicationPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return NewReplicationConfig(), nil
		}
		return nil, fmt.Errorf("config: reading replication.toml: %w", err)
	}

	var rf replicationFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parsing replication.toml: %w", err)
	}

	rc := NewReplicationConfig()
	for k, v := range rf.Peers {
		rc.peers[k] = v
	}
	return rc, nil
}

// Save 持久化当前复制配置。
func (rc *ReplicationConfig) Save(dataDir string) error {
	rc.mu.RLock()
	rf := replicationFile{Peers: make(map[string]string, len(rc.peers))}
	for k, v := range rc.peers {
		rf.Peers[k] = v
	}
	rc.mu.RUnlock()

	var buf []byte
	enc, err := toml.Marshal(rf)
	if err != nil {
		return fmt.Errorf("config: encoding replication.toml: %w", err)
	}
	buf = enc

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("config: creating data dir: %w", err)
	}
	return os.WriteFile(replicationPath(dataDir), buf, 0644)
}

// Feeds 返回所有已配置的 feed identity（带 `@...ed25519` 前缀）。
//
// replication.toml 中的键是裸 base64 公钥；成功的复制必须在每次使用时
// 重新拼上 `@`/`.ed25519` 前缀，本方法在这里统一完成，其余代码不应
// 再直接操作裸键。
func (rc *ReplicationConfig) Feeds() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	feeds := make([]string, 0, len(rc.peers))
	for bare := range rc.peers {
		feeds = append(feeds, "@"+bare+".ed25519")
	}
	return feeds
}

// Address 返回给定 feed identity 的已知拨号地址；空字符串表示未知。
func (rc *ReplicationConfig) Address(feedID string) (string, bool) {
	bare := bareKey(feedID)
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	addr, ok := rc.peers[bare]
	return addr, ok
}

// SetAddress 记录或更新一个 feed identity 的拨号地址。
func (rc *ReplicationConfig) SetAddress(feedID, addr string) {
	bare := bareKey(feedID)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.peers[bare] = addr
}

// AddPeer 将一个 feed identity 加入复制配置，地址未知时传入空字符串。
func (rc *ReplicationConfig) AddPeer(feedID, addr string) {
	rc.SetAddress(feedID, addr)
}

// Contains 报告该 feed identity 是否出现在复制配置中，用于选择性复制模式
// 判断是否接受某个对端的握手。
func (rc *ReplicationConfig) Contains(feedID string) bool {
	bare := bareKey(feedID)
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	_, ok := rc.peers[bare]
	return ok
}

// bareKey 去掉 `@`/`.ed25519` 外壳，得到 replication.toml 表中使用的裸键。
// 如果输入已经是裸键（不带外壳），原样返回。
func bareKey(feedID string) string {
	s := feedID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	const suffix = ".ed25519"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		s = s[:len(s)-len(suffix)]
	}
	return s
}
