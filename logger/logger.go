/*
 * @module logger
 * @description 全局结构化日志：JSON 输出到 stdout，级别由 LOG_LEVEL 环境变量控制
 * @architecture 基础设施层 - 进程级单例
 * @documentReference ai_docs/backend_requirements.md
 * @rules 业务代码一律经 slog 默认记录器输出，不直接写 stdout
 * @dependencies log/slog
 * @refs main.go
 */

package logger

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger 初始化全局日志记录器
// JSON 格式输出到 stdout，未设置 LOG_LEVEL 时默认 debug
func InitLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFromEnv(),
	})
	slog.SetDefault(slog.New(handler))
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
