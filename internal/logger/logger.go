package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置，由 config.LogConfig 实现
type Config interface {
	GetLevel() string
	GetOutput() string
	GetFile() string
}

// Logger 自定义日志器
type Logger struct {
	zapLogger *zap.Logger
}

var defaultLogger = newLogger(zapcore.Lock(os.Stdout), zapcore.InfoLevel)

// encoderConfig 统一的编码配置
func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05"))
	}
	cfg.CallerKey = "caller"
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.MessageKey = "message"
	return cfg
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.Level) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, zap.NewAtomicLevelAt(level))
	// 跳过包级函数与方法两层调用
	return &Logger{zapLogger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))}
}

// rotatingFile 按大小轮转的日志文件
func rotatingFile(filename string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // 天
		Compress:   true,
	})
}

// ParseLevel 解析日志级别，无法识别时为 info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewFromConfig 按配置创建日志器
func NewFromConfig(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.GetLevel())

	switch strings.ToLower(cfg.GetOutput()) {
	case "file":
		if cfg.GetFile() == "" {
			return nil, fmt.Errorf("log output is file but no file path configured")
		}
		return newLogger(rotatingFile(cfg.GetFile()), level), nil
	case "stderr":
		return newLogger(zapcore.Lock(os.Stderr), level), nil
	case "", "stdout":
		return newLogger(zapcore.Lock(os.Stdout), level), nil
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.GetOutput())
	}
}

// Init 用配置替换默认日志器
func Init(cfg Config) error {
	l, err := NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defaultLogger.Sync()
	defaultLogger = l
	return nil
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zapLogger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zapLogger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zapLogger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zapLogger.Error(fmt.Sprintf(format, args...))
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.zapLogger.Fatal(fmt.Sprintf(format, args...))
}

// Sync 同步日志
func (l *Logger) Sync() {
	_ = l.zapLogger.Sync()
}

// With 附带结构化字段，返回的日志器只跳过方法一层调用
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zapLogger: l.zapLogger.With(fields...).WithOptions(zap.AddCallerSkip(-1))}
}

// Enabled 判断级别是否输出
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zapLogger.Core().Enabled(level)
}

// 全局函数

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatal(format, args...)
}

func Sync() {
	defaultLogger.Sync()
}

func With(fields ...zap.Field) *Logger {
	return defaultLogger.With(fields...)
}
