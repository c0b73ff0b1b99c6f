package sampler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/livestate"
	"netsentry/internal/collector/telemetry"
	"netsentry/pkg/model"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultThreshold = 90.0
)

type MetricsStore interface {
	InsertMetrics(ctx context.Context, m *model.MetricsSample) error
}

type Config struct {
	Interval     time.Duration
	Threshold    float64
	WriteTimeout time.Duration
}

// Sampler 按固定周期采样主机指标，写入 metrics 表并覆盖实时状态。
// 只有 Run 所在的 goroutine 会调用 Cycle，上一轮的计数器不需要加锁。
type Sampler struct {
	provider Provider
	store    MetricsStore
	state    *livestate.State
	audit    *auditlog.Logger
	metrics  *telemetry.Metrics
	log      *zap.Logger
	cfg      Config
	now      func() time.Time

	primed   bool
	lastSent uint64
	lastRecv uint64
	// 上一轮的样本，单项读取失败时沿用其中的旧值
	prev model.MetricsSample
}

func New(cfg Config, provider Provider, store MetricsStore, state *livestate.State, audit *auditlog.Logger, m *telemetry.Metrics, log *zap.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = telemetry.New()
	}
	return &Sampler{
		provider: provider,
		store:    store,
		state:    state,
		audit:    audit,
		metrics:  m,
		log:      log.With(zap.String("component", "sampler")),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Sampler) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	s.log.Info("开始采样主机指标", zap.Duration("interval", s.cfg.Interval))
	for {
		s.Cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Cycle 执行一轮采样并返回写入的样本。第一轮只记录网络计数基线，增量为 0。
// 网卡计数读取失败的一轮增量为 0，且不推进基线；其余单项失败时沿用上一轮的值。
func (s *Sampler) Cycle(ctx context.Context) *model.MetricsSample {
	hs, err := s.provider.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("主机指标读取不完整", zap.Error(err))
	}

	var sent, recv uint64
	if hs.OK(FieldIO) {
		if s.primed {
			sent = delta(hs.BytesSent, s.lastSent)
			recv = delta(hs.BytesRecv, s.lastRecv)
		}
		s.primed = true
		s.lastSent, s.lastRecv = hs.BytesSent, hs.BytesRecv
	}

	sample := &model.MetricsSample{
		Timestamp:         s.now(),
		CPUPercent:        pick(hs, FieldCPU, hs.CPUPercent, s.prev.CPUPercent),
		MemoryPercent:     pick(hs, FieldMemory, hs.MemoryPercent, s.prev.MemoryPercent),
		DiskPercent:       pick(hs, FieldDisk, hs.DiskPercent, s.prev.DiskPercent),
		NetworkSent:       sent,
		NetworkRecv:       recv,
		ActiveConnections: pick(hs, FieldConns, hs.Established, s.prev.ActiveConnections),
		PacketsCaptured:   s.state.PacketsCaptured(),
	}
	s.prev = *sample

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	err = s.store.InsertMetrics(wctx, sample)
	cancel()
	if err != nil {
		s.metrics.StoreErrors.WithLabelValues("metrics").Inc()
		s.log.Error("写入指标失败", zap.Error(err))
		s.audit.Error(ctx, fmt.Sprintf("Failed to save metrics sample: %v", err))
	}

	s.state.UpdateHost(*sample)
	s.checkThresholds(ctx, sample)
	return sample
}

func (s *Sampler) checkThresholds(ctx context.Context, m *model.MetricsSample) {
	checks := []struct {
		name  string
		value float64
	}{
		{"CPU", m.CPUPercent},
		{"memory", m.MemoryPercent},
		{"disk", m.DiskPercent},
	}
	for _, c := range checks {
		if c.value > s.cfg.Threshold {
			s.audit.Warning(ctx, fmt.Sprintf("High %s usage: %.1f%%", c.name, c.value))
		}
	}
}

func pick[T any](hs HostSample, f Field, cur, prev T) T {
	if hs.OK(f) {
		return cur
	}
	return prev
}

// 计数器回绕或网卡重置时增量按 0 处理
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
