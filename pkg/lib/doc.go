// Package lib 包含与具体协议组件无关的基础设施工具库。
//
// 目前只有一个子包：
//
//   - log: 基于 slog 的日志封装，见 pkg/lib/log。
//
// # 使用示例
//
//	import "github.com/ssbc/solar/pkg/lib/log"
//
//	var logger = log.Logger("core/store")
//	logger.Info("appended message", "author", author, "sequence", seq)
package lib
