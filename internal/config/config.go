// Package config 聚合 Solar 节点的外部配置：XDG 数据目录解析、
// 网络参数和存储路径。secret.toml 由 internal/identity 单独管理，
// replication.toml 由本包管理（见 replication.go）。
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultNetworkKeyHex 是 SSB "main net" 的默认网络密钥，十六进制表示。
// 所有未显式配置 --network-key 的节点共享此值，因此可以互相完成握手。
const DefaultNetworkKeyHex = "d4a1cb88a66f02f8db635ce26441cc5dac1b08420ceaac230839b755845a9ffb"

// NetworkKeySize 是握手使用的网络密钥长度。
const NetworkKeySize = 32

// StorageConfig 承载 Feed Store 的落盘位置。
type StorageConfig struct {
	// DataDir 是节点的 XDG 数据目录根路径。
	DataDir string
}

// DBPath 返回 Feed Store 底层 KV 引擎应使用的目录。
//
// 历史上原始实现把 feeds/blobs/ebt 分别存放在数据目录的子目录下；
// Solar 不实现 blobs 与 ebt（见 Non-goals），因此只保留 feeds/ 一个子目录。
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.DataDir, "feeds")
}

// NetworkConfig 承载握手与发现相关的网络参数。
type NetworkConfig struct {
	// Key 是握手使用的 32 字节网络密钥。
	Key [NetworkKeySize]byte

	// ListenIP 与 ListenPort 是本节点监听的地址。
	ListenIP   string
	ListenPort uint16

	// LANDiscovery 控制是否在本地网络上广播/监听发现包。
	LANDiscovery bool

	// Selective 为 true 时握手拒绝不在复制配置中的对端（选择性复制模式）。
	Selective bool

	// StreamIdleTimeout 是 §5 所说的单流空闲超时：一个 muxrpc 流超过
	// 这个时长没有收到任何入站包就会被关闭。0 表示禁用。
	StreamIdleTimeout time.Duration
}

// JSONRPCConfig 承载管理用 JSON-RPC over HTTP 端点的监听参数。
type JSONRPCConfig struct {
	Port int
}

// Config 是节点启动时装配的统一配置对象。
//
// 它本身不拥有任何 I/O；加载与持久化逻辑在 LoadReplicationConfig、identity.LoadOrCreate 等
// 独立函数中完成，Config 只是装配结果的载体，便于通过 fx.Supply 注入。
type Config struct {
	BasePath string
	Storage  StorageConfig
	Network  NetworkConfig
	JSONRPC  JSONRPCConfig
}

// NewConfig 返回带有默认值的配置，数据目录解析自 XDG 环境变量。
func NewConfig() *Config {
	base := DataDir()
	key, _ := hex.DecodeString(DefaultNetworkKeyHex)
	var netKey [NetworkKeySize]byte
	copy(netKey[:], key)

	return &Config{
		BasePath: base,
		Storage:  StorageConfig{DataDir: base},
		Network: NetworkConfig{
			Key:               netKey,
			ListenIP:          "0.0.0.0",
			ListenPort:        8008,
			LANDiscovery:      true,
			StreamIdleTimeout: 5 * time.Minute,
		},
		JSONRPC: JSONRPCConfig{Port: 3030},
	}
}

// DataDir 解析 XDG Base Directory 规范下 Solar 的数据目录：
// `$XDG_DATA_HOME/solar`，未设置时回退到 `~/.local/share/solar`。
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "solar")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "solar")
	}
	return filepath.Join(home, ".local", "share", "solar")
}

// ParseNetworkKey 解析 --network-key 传入的十六进制字符串。
func ParseNetworkKey(hexKey string) ([NetworkKeySize]byte, error) {
	var key [NetworkKeySize]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, fmt.Errorf("config: invalid network key: %w", err)
	}
	if len(raw) != NetworkKeySize {
		return key, fmt.Errorf("config: network key must be %d bytes, got %d", NetworkKeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
