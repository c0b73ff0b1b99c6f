package escalate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/summarizer"
	"netsentry/internal/collector/telemetry"
)

const (
	DefaultQueueSize = 32
	DefaultTimeout   = 10 * time.Second

	alertMaxTokens = 100
	aiReplyRunes   = 250
)

// Dispatcher 是 AI 分析请求的有界队列，由单个 worker 消费。
// 队列满时直接丢弃并记 WARNING，调用方永远不会被阻塞。
type Dispatcher struct {
	sum     summarizer.Summarizer
	audit   *auditlog.Logger
	metrics *telemetry.Metrics
	log     *zap.Logger
	timeout time.Duration
	queue   chan string
}

func NewDispatcher(sum summarizer.Summarizer, audit *auditlog.Logger, m *telemetry.Metrics, log *zap.Logger, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = telemetry.New()
	}
	return &Dispatcher{
		sum:     sum,
		audit:   audit,
		metrics: m,
		log:     log.With(zap.String("component", "ai-dispatch")),
		timeout: timeout,
		queue:   make(chan string, queueSize),
	}
}

// Submit 非阻塞投递，返回是否成功入队。
func (d *Dispatcher) Submit(ctx context.Context, alert string) bool {
	select {
	case d.queue <- alert:
		return true
	default:
		d.metrics.SummariesDropped.Inc()
		d.audit.Warning(ctx, "AI analysis queue full, dropping: "+alert)
		return false
	}
}

// Run 持续消费队列直到 ctx 取消。
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			d.handle(ctx, alert)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, alert string) {
	// summarizer 内部的 panic 也不能拖垮 worker
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("AI 分析 panic", zap.Any("panic", r))
			d.audit.Error(ctx, fmt.Sprintf("AI notification failed: %v", r))
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reply, err := d.sum.Complete(cctx, alert+analysisSuffix, alertMaxTokens)
	switch {
	case errors.Is(err, summarizer.ErrNotConfigured):
		d.log.Debug("未配置 AI 凭据，跳过分析")
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		d.log.Error("AI 分析失败", zap.Error(err))
		d.audit.Error(ctx, fmt.Sprintf("AI notification failed: %v", err))
	default:
		d.audit.AI(ctx, "AI: "+summarizer.Truncate(reply, aiReplyRunes))
	}
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
