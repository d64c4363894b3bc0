// Package replication 实现 §4.7 的复制控制器：每条连接一个出站调度器
// （为配置里的每个 feed 打开一条 createHistoryStream）加一个入站分派器
// （响应对端的 createHistoryStream 请求，对其余方法统一拒绝）。
package replication

import (
	"crypto/ed25519"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/ssbc/solar/internal/config"
	"github.com/ssbc/solar/internal/core/handshake"
	"github.com/ssbc/solar/internal/core/muxrpc"
	"github.com/ssbc/solar/internal/core/store"
	"github.com/ssbc/solar/internal/identity"
	"github.com/ssbc/solar/pkg/lib/log"
)

var logger = log.Logger("core/replication")

// Controller 是复制控制器的句柄：store、本地身份与复制配置的组合，
// 在每条新连接上都要重新绑定一次（§9 把它们作为显式的上下文传递，
// 不依赖任何环境状态）。
type Controller struct {
	store      *store.Store
	local      *identity.Identity
	repl       *config.ReplicationConfig
	selective  bool
	clk        clock.Clock

	mu       sync.Mutex
	abandons map[string]map[string]bool // connID -> feedID -> 是否已在该连接上放弃
}

// New 构造一个复制控制器。selective 为 true 时启用选择性复制：握手阶段
// 拒绝不在复制配置里的对端。
func New(st *store.Store, local *identity.Identity, repl *config.ReplicationConfig, selective bool) *Controller {
	return &Controller{
		store:     st,
		local:     local,
		repl:      repl,
		selective: selective,
		clk:       clock.New(),
		abandons:  make(map[string]map[string]bool),
	}
}

// WithClock 替换控制器使用的时钟，供测试注入 clock.Mock 以便在不等待
// 真实时间的情况下推进 GapDetected 重试退避。
func (c *Controller) WithClock(clk clock.Clock) *Controller {
	c.clk = clk
	return c
}

// ReplicationConfig 返回底层的复制配置，供发现子系统把新发现的候选
// 地址写回去。
func (c *Controller) ReplicationConfig() *config.ReplicationConfig {
	return c.repl
}

// ConfiguredFeeds 返回复制配置里登记的所有 feed identity：出站调度器
// 为其中的每一个都打开一条 createHistoryStream。
func (c *Controller) ConfiguredFeeds() []string {
	return c.repl.Feeds()
}

// PeerFilter 返回握手阶段使用的 PeerFilter：选择性模式下只接受复制配置
// 里已登记的对端；混杂模式下接受所有人，但出站调度器仍然只为配置里的
// feed 打开流。
func (c *Controller) PeerFilter() handshake.PeerFilter {
	if !c.selective {
		return nil
	}
	return func(pub ed25519.PublicKey) bool {
		return c.repl.Contains(identity.FeedID(pub))
	}
}

func (c *Controller) abandonFeed(connID, feedID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandons[connID] == nil {
		c.abandons[connID] = make(map[string]bool)
	}
	c.abandons[connID][feedID] = true
}

func (c *Controller) hasAbandoned(connID, feedID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandons[connID][feedID]
}

func (c *Controller) forgetConnection(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.abandons, connID)
}
