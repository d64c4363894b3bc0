// Package log 提供节点统一日志接口。
//
// 基于 log/slog 封装一个按组件打标签的 LazyLogger：每次调用都从
// slog.Default() 取当前的 handler，而不是在构造时固定下来，这样
// SetLevel 在运行时调整级别会对已经创建好的 LazyLogger 也生效。
package log

import (
	"log/slog"
	"os"
)

// LazyLogger 在每次日志调用时都从 slog.Default() 取 handler，
// 附带一个固定的 component 标签。
type LazyLogger struct {
	component string
}

// Logger 返回一个绑定了 component 标签的 LazyLogger。
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) Debug(msg string, args ...any) {
	slog.Default().With("component", l.component).Debug(msg, args...)
}

func (l *LazyLogger) Info(msg string, args ...any) {
	slog.Default().With("component", l.component).Info(msg, args...)
}

func (l *LazyLogger) Warn(msg string, args ...any) {
	slog.Default().With("component", l.component).Warn(msg, args...)
}

func (l *LazyLogger) Error(msg string, args ...any) {
	slog.Default().With("component", l.component).Error(msg, args...)
}

// SetLevel 重新创建默认 logger，写到 stderr，使用指定的日志级别。
// cmd/solard 在启动时根据 RUST_LOG 调用一次。
func SetLevel(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}
