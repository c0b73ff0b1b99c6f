package auditlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"netsentry/pkg/model"
)

// zap 编码器自带 level 键，审计级别用单独的键
const auditLevelKey = "audit_level"

// Sink 是审计日志的持久化端，只写不读。
type Sink interface {
	InsertLog(ctx context.Context, entry *model.LogEntry) error
}

// Logger 同时写 zap 日志和 logs 表。持久化失败只记 zap，不会递归写审计日志。
type Logger struct {
	sink         Sink
	log          *zap.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

func New(sink Sink, log *zap.Logger, writeTimeout time.Duration) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &Logger{
		sink:         sink,
		log:          log.With(zap.String("component", "audit")),
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.Record(ctx, model.LevelInfo, msg)
}

func (l *Logger) Warning(ctx context.Context, msg string) {
	l.Record(ctx, model.LevelWarning, msg)
}

func (l *Logger) Error(ctx context.Context, msg string) {
	l.Record(ctx, model.LevelError, msg)
}

func (l *Logger) Critical(ctx context.Context, msg string) {
	l.Record(ctx, model.LevelCritical, msg)
}

func (l *Logger) AI(ctx context.Context, msg string) {
	l.Record(ctx, model.LevelAI, msg)
}

func (l *Logger) Record(ctx context.Context, level, msg string) {
	entry := &model.LogEntry{
		Timestamp: l.now(),
		Message:   msg,
		Level:     level,
	}

	switch level {
	case model.LevelCritical:
		l.log.Error(msg, zap.String(auditLevelKey, level))
	case model.LevelError:
		l.log.Error(msg)
	case model.LevelWarning:
		l.log.Warn(msg)
	default:
		l.log.Info(msg, zap.String(auditLevelKey, level))
	}

	if l.sink == nil {
		return
	}
	// 调用方的 ctx 可能已取消（例如退出时的最后一条日志），这里只继承值不继承取消。
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if err := l.sink.InsertLog(wctx, entry); err != nil {
		l.log.Error("写入审计日志失败", zap.Error(err), zap.String("message", msg))
	}
}
