// Package discovery 实现 §6 描述的局域网发现：在 UDP 广播域里周期性
// 宣告本节点的连接信息，并监听其他节点的同类宣告，把发现的候选地址
// 灌入复制配置。
package discovery

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ssbc/solar/internal/config"
	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("discovery")

// Port 是 LAN 发现使用的 UDP 广播端口。
const Port = 8008

// AnnounceInterval 是本节点重复广播自己地址的周期。
const AnnounceInterval = 1 * time.Second

// Announcement 是一条已解析的发现报文。
type Announcement struct {
	Host      string
	Port      uint16
	PublicKey ed25519.PublicKey
}

// formatPayload 编码 "net:<ip>:<port>~shs:<base64-long-pk>" 格式的广播负载。
func formatPayload(host string, port uint16, pub ed25519.PublicKey) string {
	return fmt.Sprintf("net:%s:%d~shs:%s", host, port, base64.StdEncoding.EncodeToString(pub))
}

// parsePayload 解析一条广播负载；格式不合法时返回 nil。
func parsePayload(payload string) *Announcement {
	netPart, shsPart, ok := strings.Cut(payload, "~shs:")
	if !ok {
		return nil
	}
	netPart = strings.TrimPrefix(netPart, "net:")

	lastColon := strings.LastIndex(netPart, ":")
	if lastColon < 0 {
		return nil
	}
	host := netPart[:lastColon]
	portStr := netPart[lastColon+1:]

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil
	}

	pub, err := base64.StdEncoding.DecodeString(shsPart)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil
	}

	return &Announcement{Host: host, Port: uint16(port), PublicKey: ed25519.PublicKey(pub)}
}

// Announce 周期性地向 255.255.255.255:Port 广播本节点的连接信息，
// 直到 ctx 被取消。
func Announce(ctx context.Context, host string, port uint16, pub ed25519.PublicKey) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("discovery: opening broadcast socket: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}
	payload := []byte(formatPayload(host, port, pub))

	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()

	for {
		if _, err := conn.WriteTo(payload, dst); err != nil {
			logger.Warn("failed to send discovery broadcast", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Listen 监听 LAN 发现广播，直到 ctx 被取消；每条成功解析的公告通过
// onAnnounce 回调上报。收到的不合法报文静默丢弃——发现是最佳努力，
// 格式错误的邻居广播不应该让这个节点的发现循环崩溃。
func Listen(ctx context.Context, onAnnounce func(*Announcement)) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return fmt.Errorf("discovery: listening on port %d: %w", Port, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 512)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery: reading broadcast: %w", err)
		}
		ann := parsePayload(string(buf[:n]))
		if ann == nil {
			continue
		}
		onAnnounce(ann)
	}
}

// RecordAnnouncement 把发现到的公告接入复制配置：已经在配置里的 feed 获得
// 一个新的候选地址；未配置过的对端在混杂模式下也值得记录下来，但这里
// 只负责搬运数据，混杂/选择性的取舍留给调用方。
func RecordAnnouncement(repl *config.ReplicationConfig, ann *Announcement, feedID string) {
	addr := net.JoinHostPort(ann.Host, strconv.Itoa(int(ann.Port)))
	repl.SetAddress(feedID, addr)
}
