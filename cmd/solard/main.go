// Package main 提供 solard 命令行入口：一个可嵌入网络的 Secure
// Scuttlebutt gossip 节点。
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ssbc/solar/internal/config"
	"github.com/ssbc/solar/internal/node"
	"github.com/ssbc/solar/pkg/lib/log"
)

var (
	lan        = flag.Bool("lan", true, "启用局域网发现（广播/监听 UDP 8008）")
	ip         = flag.String("ip", "0.0.0.0", "监听地址")
	port       = flag.Uint("port", 8008, "监听端口")
	connect    = flag.String("connect", "", "启动时主动拨号的 multiserver URI（tcp://host:port?shs=<base64-pubkey>）")
	replicate  = flag.String("replicate", "", "复制模式：connect（仅复制配置里登记的对端）或留空（混杂模式）")
	networkKey = flag.String("network-key", config.DefaultNetworkKeyHex, "十六进制编码的 32 字节网络密钥")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "solard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	setupLogging()

	cfg := config.NewConfig()
	cfg.Network.ListenIP = *ip
	cfg.Network.ListenPort = uint16(*port)
	cfg.Network.LANDiscovery = *lan
	cfg.Network.Selective = strings.EqualFold(*replicate, "connect")

	key, err := config.ParseNetworkKey(*networkKey)
	if err != nil {
		return err
	}
	cfg.Network.Key = key

	var connectTo *config.MultiserverAddress
	if *connect != "" {
		connectTo, err = config.ParseMultiserverURI(*connect)
		if err != nil {
			return fmt.Errorf("parsing --connect: %w", err)
		}
	}

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("assembling node: %w", err)
	}
	fmt.Printf("solard starting, id=%s\n", n.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()

	return n.Run(ctx, connectTo)
}

// setupLogging 根据 RUST_LOG 环境变量设置日志级别（沿用本项目其余部分
// 的惯例，即使这是一个 Go 节点：RUST_LOG 是 Solar 规范约定的环境变量
// 名，不是某种 Rust 残留）。未设置或值不认识时默认为 info。
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("RUST_LOG")) {
	case "debug", "trace":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "info", "":
		level = slog.LevelInfo
	}
	log.SetLevel(level)
}
