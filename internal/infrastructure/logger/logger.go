package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志输出配置。零值可用：info 级别、JSON 编码、写 stdout。
type Config struct {
	Level      string // debug / info / warn / error，空或非法回退 info
	Format     string // json（默认）或 console
	OutputPath string // stdout、stderr 或文件路径
}

// NewLogger 按配置构建 zap 实例。
// 管线各组件共享同一个根 logger，按需 With 出带字段的子 logger。
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}

	console := cfg.Format == "console"
	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if console {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		// 采集侧按 timestamp 字段对齐日志流
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      console,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
}
