package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig 日志文件轮转参数
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel 未知级别按 info 处理
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewWriter 控制台输出；file.Path 非空时同时写入轮转的 JSON 日志文件。
func NewWriter(console io.Writer, file FileConfig) io.Writer {
	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	if file.Path == "" {
		return cw
	}
	if file.MaxSizeMB <= 0 {
		file.MaxSizeMB = 100
	}
	rotating := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
	return zerolog.MultiLevelWriter(cw, rotating)
}

// Setup 设置全局 logger 与日志级别
func Setup(level string, file FileConfig) {
	log.Logger = zerolog.New(NewWriter(os.Stdout, file)).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(level))
}
