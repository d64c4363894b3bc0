// Package node 把各个独立的包（identity、store、handshake、boxstream、
// muxrpc、replication、discovery、jsonrpc）装配成一个可运行的 Solar 节点：
// 一个监听 TCP 连接的服务端、一个按需拨号的客户端，外加一个后台的
// 发现循环和管理面 HTTP 服务器。
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ssbc/solar/internal/config"
	"github.com/ssbc/solar/internal/core/boxstream"
	"github.com/ssbc/solar/internal/core/handshake"
	"github.com/ssbc/solar/internal/core/muxrpc"
	"github.com/ssbc/solar/internal/core/replication"
	"github.com/ssbc/solar/internal/core/storage"
	"github.com/ssbc/solar/internal/core/storage/engine"
	"github.com/ssbc/solar/internal/core/store"
	"github.com/ssbc/solar/internal/discovery"
	"github.com/ssbc/solar/internal/identity"
	"github.com/ssbc/solar/internal/jsonrpc"
	"github.com/ssbc/solar/pkg/lib/log"
)

// fxStartStopTimeout 限制存储模块的 fx 生命周期钩子允许运行的时间。
const fxStartStopTimeout = 15 * time.Second

var logger = log.Logger("node")

// Node 是一个已装配完毕、可以运行的 Solar 节点实例。
type Node struct {
	cfg   *config.Config
	local *identity.Identity
	fxApp *fx.App
	eng   engine.InternalEngine
	store *store.Store
	repl  *replication.Controller
	rpc   *jsonrpc.Server
}

// New 按照 cfg 装配一个节点：打开存储引擎、加载/创建身份、加载复制配置，
// 构造复制控制器与管理面服务器。不启动任何网络 I/O。
func New(cfg *config.Config) (*Node, error) {
	local, err := identity.LoadOrCreate(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: loading identity: %w", err)
	}
	logger.Info("loaded identity", "id", local.ID())

	// 存储引擎通过 storage.Module() 装配：它的生命周期钩子（打开 BadgerDB、
	// 启动 GC、关闭时落盘）由 fx 驱动，而不是在这里手写一遍 open/close。
	var eng engine.InternalEngine
	fxApp := fx.New(
		fx.Supply(cfg),
		storage.Module(),
		fx.Populate(&eng),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
	if err := fxApp.Err(); err != nil {
		return nil, fmt.Errorf("node: assembling storage module: %w", err)
	}
	startCtx, cancel := context.WithTimeout(context.Background(), fxStartStopTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return nil, fmt.Errorf("node: starting storage module: %w", err)
	}

	st := store.New(eng)

	replCfg, err := config.LoadReplicationConfig(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: loading replication config: %w", err)
	}

	ctrl := replication.New(st, local, replCfg, cfg.Network.Selective)
	rpc := jsonrpc.New(st, local, replCfg)

	return &Node{cfg: cfg, local: local, fxApp: fxApp, eng: eng, store: st, repl: ctrl, rpc: rpc}, nil
}

// ID 返回本节点的外部 feed identity。
func (n *Node) ID() string {
	return n.local.ID()
}

// Run 启动 TCP 监听、管理面 HTTP 服务器与（可选的）LAN 发现，阻塞直到
// ctx 被取消，随后有序关闭所有子系统。
func (n *Node) Run(ctx context.Context, connectTo *config.MultiserverAddress) error {
	listenAddr := fmt.Sprintf("%s:%d", n.cfg.Network.ListenIP, n.cfg.Network.ListenPort)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("node: listening on %s: %w", listenAddr, err)
	}
	logger.Info("listening for peers", "addr", listenAddr)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.cfg.JSONRPC.Port),
		Handler: n.rpc.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.acceptLoop(gCtx, ln)
		return nil
	})

	g.Go(func() error {
		logger.Info("admin JSON-RPC listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})

	if n.cfg.Network.LANDiscovery {
		g.Go(func() error {
			n.runDiscovery(gCtx)
			return nil
		})
	}

	if connectTo != nil {
		g.Go(func() error {
			if err := n.dial(gCtx, connectTo); err != nil {
				logger.Warn("outbound connection failed", "addr", connectTo.String(), "error", err)
			}
			return nil
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")

	_ = ln.Close()
	_ = httpSrv.Close()
	runErr := g.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fxStartStopTimeout)
	defer cancelStop()
	stopErr := n.fxApp.Stop(stopCtx)

	return multierr.Combine(runErr, stopErr)
}

func (n *Node) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logger.Warn("accept failed", "error", err)
				return
			}
		}
		go n.handleInbound(ctx, conn)
	}
}

func (n *Node) handleInbound(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	result, err := handshake.ServerHandshake(raw, n.cfg.Network.Key, n.local.Public, n.local.Private, n.repl.PeerFilter())
	if err != nil {
		logger.Warn("inbound handshake failed", "remote", raw.RemoteAddr(), "error", err)
		return
	}

	n.serveConnection(ctx, raw, result)
}

func (n *Node) dial(ctx context.Context, addr *config.MultiserverAddress) error {
	target := net.JoinHostPort(addr.Host, fmt.Sprintf("%d", addr.Port))
	raw, err := net.Dial("tcp", target)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", target, err)
	}

	result, err := handshake.ClientHandshake(raw, n.cfg.Network.Key, n.local.Public, n.local.Private, ed25519.PublicKey(addr.LongTermPubKey))
	if err != nil {
		raw.Close()
		return fmt.Errorf("handshake with %s: %w", target, err)
	}

	n.serveConnection(ctx, raw, result)
	return nil
}

// serveConnection 把一次成功的握手结果装配成加密的 muxrpc 连接，注册
// 入站复制处理器，运行本地 feed 重同步，再启动出站复制调度器，
// 阻塞直到连接关闭。
func (n *Node) serveConnection(ctx context.Context, raw net.Conn, hs *handshake.Result) {
	writer, reader := boxstream.NewPair(raw, hs.SendKey, hs.SendNonce, hs.RecvKey, hs.RecvNonce)

	conn := muxrpc.New(reader, writer, muxrpc.WithIdleTimeout(n.cfg.Network.StreamIdleTimeout))
	n.repl.RegisterHandlers(conn)

	connID := uuid.NewString()
	peerID := identity.FeedID(hs.RemotePublicKey)
	logger.Info("connection established", "peer", peerID, "conn", connID)

	if err := n.repl.MaybeResyncLocalFeed(ctx, conn); err != nil {
		logger.Warn("local feed resync skipped", "peer", peerID, "error", err)
	}

	errCh := n.repl.RunOutbound(ctx, connID, conn, n.repl.ConfiguredFeeds())

	select {
	case err := <-errCh:
		if err != nil {
			logger.Warn("connection torn down after replication error", "peer", peerID, "error", err)
		}
	case <-ctx.Done():
	case <-conn.Done():
	}

	_ = conn.Close()
	_ = raw.Close()
}

// runDiscovery 在局域网广播域里宣告本节点，同时监听其他节点的宣告，
// 把发现的候选地址灌入复制配置（未附带的候选，地址已知但尚未拨号）。
func (n *Node) runDiscovery(ctx context.Context) {
	go func() {
		if err := discovery.Announce(ctx, n.cfg.Network.ListenIP, n.cfg.Network.ListenPort, n.local.Public); err != nil {
			logger.Warn("discovery announce loop stopped", "error", err)
		}
	}()

	err := discovery.Listen(ctx, func(ann *discovery.Announcement) {
		feedID := identity.FeedID(ann.PublicKey)
		if feedID == n.local.ID() {
			return
		}
		discovery.RecordAnnouncement(n.repl.ReplicationConfig(), ann, feedID)
		logger.Debug("recorded discovery candidate", "peer", feedID, "host", ann.Host, "port", ann.Port)
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("discovery listen loop stopped", "error", err)
	}
}

