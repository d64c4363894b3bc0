// Package storage 提供统一的持久化存储服务
//
// Storage 模块基于 BadgerDB 实现，为节点提供统一的键值存储后端：
// 一个 fx 模块负责打开/关闭底层引擎，一个带前缀隔离的 KVStore 抽象
// 让使用方（尤其是 Feed Store，见 internal/core/store）在共享的引擎上
// 划出互不冲突的键空间。
//
// # 架构
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                      使用方模块                              │
//	│              Feed Store（m/、f/、h/ 三个命名空间）           │
//	└─────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────┐
//	│                     storage (本包)                          │
//	│  ┌─────────────────────────────────────────────────────┐   │
//	│  │                    KVStore                          │   │
//	│  │              带前缀隔离的 KV 抽象                    │   │
//	│  └─────────────────────────────────────────────────────┘   │
//	│                              │                              │
//	│  ┌─────────────────────────────────────────────────────┐   │
//	│  │                  engine/badger                      │   │
//	│  │                  BadgerDB 实现                       │   │
//	│  └─────────────────────────────────────────────────────┘   │
//	└─────────────────────────────────────────────────────────────┘
//
// # 使用示例
//
// 使用 Fx 依赖注入（节点启动路径，见 internal/node）：
//
//	app := fx.New(
//	    fx.Supply(cfg),
//	    storage.Module(),
//	    fx.Populate(&eng),
//	)
//
// 手动创建：
//
//	cfg := storage.DefaultConfig()
//	cfg.Path = "/data/solar/feeds"
//	eng, err := storage.NewEngine(cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	// 创建带前缀的 KVStore
//	msgs := storage.NewKVStore(eng, []byte("m/"))
//
// # 线程安全
//
// 除批量写入对象（Batch）外，所有公开的类型和方法都是线程安全的。
package storage
