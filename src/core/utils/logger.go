package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vqa-server-go/src/configs"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Logger 日志记录器，文件写JSON行，控制台输出可读格式
type Logger struct {
	zl      *zap.Logger
	logFile *os.File
}

// NewLogger 创建新的日志记录器
func NewLogger(config *configs.Config) (*Logger, error) {
	// 确保日志目录存在
	if err := os.MkdirAll(config.Log.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %v", err)
	}

	logPath := filepath.Join(config.Log.LogDir, config.Log.LogFile)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %v", err)
	}

	level := parseLevel(config.Log.LogLevel)
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.MessageKey = "message"
	encoderConfig.NameKey = "tag"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	var fileEncoder zapcore.Encoder
	if strings.ToLower(config.Log.LogFormat) == "text" {
		fileEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		fileEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), level),
	)

	return &Logger{
		zl:      zap.New(core),
		logFile: file,
	}, nil
}

// NewZapLogger 用已有的zap.Logger构造日志记录器，测试中配合zaptest使用
func NewZapLogger(zl *zap.Logger) *Logger {
	return &Logger{zl: zl}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close 刷新缓冲并关闭日志文件
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// log 通用日志记录函数
// fields为单个map时作为结构化字段输出，否则按msg格式化
func (l *Logger) log(level LogLevel, msg string, fields ...interface{}) {
	var zapFields []zap.Field
	if len(fields) == 1 {
		if m, ok := fields[0].(map[string]interface{}); ok {
			zapFields = make([]zap.Field, 0, len(m))
			for k, v := range m {
				zapFields = append(zapFields, zap.Any(k, v))
			}
			fields = nil
		}
	}
	if len(fields) > 0 {
		if strings.Contains(msg, "%") {
			msg = fmt.Sprintf(msg, fields...)
		} else {
			msg = strings.TrimSpace(msg + " " + fmt.Sprint(fields...))
		}
	}

	switch level {
	case DebugLevel:
		l.zl.Debug(msg, zapFields...)
	case WarnLevel:
		l.zl.Warn(msg, zapFields...)
	case ErrorLevel:
		l.zl.Error(msg, zapFields...)
	default:
		l.zl.Info(msg, zapFields...)
	}
}

// Debug 记录调试级别日志
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log(DebugLevel, msg, fields...)
}

// Info 记录信息级别日志
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log(InfoLevel, msg, fields...)
}

// Warn 记录警告级别日志
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log(WarnLevel, msg, fields...)
}

// Error 记录错误级别日志
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log(ErrorLevel, msg, fields...)
}

// WithTag 创建带标签的日志记录器，共享同一个输出
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{zl: l.zl.Named(tag)}
}
