// Package logging 提供统一的日志接口抽象
package logging

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger 日志接口
type Logger interface {
	// Debug 调试日志
	Debug(ctx context.Context, msg string, fields ...Field)

	// Info 信息日志
	Info(ctx context.Context, msg string, fields ...Field)

	// Warn 警告日志
	Warn(ctx context.Context, msg string, fields ...Field)

	// Error 错误日志
	Error(ctx context.Context, msg string, fields ...Field)

	// WithFields 添加字段，返回新的Logger
	WithFields(fields ...Field) Logger
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

// 字段构造函数
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration 以 time.Duration 作为字段值，格式化输出
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// StdLogger 标准库log实现
//
// 支持最低输出级别过滤：低于 minLevel 的日志直接丢弃
type StdLogger struct {
	prefix   string
	fields   []Field
	minLevel atomic.Int32
}

// NewStdLogger 创建标准库Logger（默认级别 Debug，即全部输出）
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{
		prefix: prefix,
		fields: make([]Field, 0),
	}
}

// SetLevel 设置最低输出级别
func (l *StdLogger) SetLevel(level Level) {
	l.minLevel.Store(int32(level))
}

func (l *StdLogger) enabled(level Level) bool {
	return int32(level) >= l.minLevel.Load()
}

func (l *StdLogger) format(msg string, fields ...Field) string {
	result := l.prefix + " " + msg
	allFields := append(l.fields, fields...)
	for _, f := range allFields {
		result += " " + f.Key + "=" + formatValue(f.Value)
	}
	return result
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprint(val)
	}
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	if l.enabled(DebugLevel) {
		log.Println("[DEBUG]", l.format(msg, fields...))
	}
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	if l.enabled(InfoLevel) {
		log.Println("[INFO]", l.format(msg, fields...))
	}
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	if l.enabled(WarnLevel) {
		log.Println("[WARN]", l.format(msg, fields...))
	}
}

func (l *StdLogger) Error(ctx context.Context, msg string, fields ...Field) {
	if l.enabled(ErrorLevel) {
		log.Println("[ERROR]", l.format(msg, fields...))
	}
}

func (l *StdLogger) WithFields(fields ...Field) Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)
	child := &StdLogger{
		prefix: l.prefix,
		fields: newFields,
	}
	child.minLevel.Store(l.minLevel.Load())
	return child
}

// NoopLogger 空日志实现（用于测试）
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) WithFields(fields ...Field) Logger                      { return l }

// loggerHolder 包装接口值，保证 atomic.Value 存储的具体类型一致
type loggerHolder struct {
	logger Logger
}

// 全局Logger
var globalLogger atomic.Value

func init() {
	globalLogger.Store(loggerHolder{logger: NewStdLogger("")})
}

// SetLogger 设置全局Logger
func SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	globalLogger.Store(loggerHolder{logger: logger})
}

// GetLogger 获取全局Logger
func GetLogger() Logger {
	return globalLogger.Load().(loggerHolder).logger
}
