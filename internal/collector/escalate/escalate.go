package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/livestate"
	"netsentry/internal/collector/telemetry"
	"netsentry/pkg/model"
)

const analysisSuffix = "\nProvide a brief security analysis in 1-2 sentences."

type ThreatStore interface {
	InsertThreat(ctx context.Context, t *model.ThreatRecord) error
}

type Publisher interface {
	PublishThreat(ctx context.Context, t *model.ThreatRecord) error
}

// Escalator 把被拉黑的 Observation 升级为威胁。四个副作用相互独立，
// 任何一个失败都不影响其余几个。
type Escalator struct {
	store        ThreatStore
	state        *livestate.State
	audit        *auditlog.Logger
	publisher    Publisher
	dispatcher   *Dispatcher
	metrics      *telemetry.Metrics
	log          *zap.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

type Options struct {
	Store      ThreatStore
	State      *livestate.State
	Audit      *auditlog.Logger
	Dispatcher *Dispatcher
	// Publisher 可为空，为空时不转发。
	Publisher    Publisher
	Metrics      *telemetry.Metrics
	Log          *zap.Logger
	WriteTimeout time.Duration
}

func New(opts Options) *Escalator {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = telemetry.New()
	}
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = 2 * time.Second
	}
	return &Escalator{
		store:        opts.Store,
		state:        opts.State,
		audit:        opts.Audit,
		publisher:    opts.Publisher,
		dispatcher:   opts.Dispatcher,
		metrics:      m,
		log:          log.With(zap.String("component", "escalate")),
		writeTimeout: wt,
		now:          time.Now,
	}
}

// Escalate 处理一条被判定为拉黑的 Observation。logLine 是该 Observation 的日志行，
// 升级后以 CRITICAL 级别写入审计日志（替代普通的 INFO 行）。
func (e *Escalator) Escalate(ctx context.Context, obs *model.Observation, logLine string) *model.ThreatRecord {
	rec := NewThreatRecord(obs, e.now())

	wctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	err := e.store.InsertThreat(wctx, rec)
	cancel()
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("threats").Inc()
		e.log.Error("写入威胁记录失败", zap.String("ip", rec.RemoteAddress), zap.Error(err))
		e.audit.Error(ctx, fmt.Sprintf("Failed to save threat record for %s: %v", rec.RemoteAddress, err))
	}

	e.state.IncThreatsDetected()
	e.metrics.ThreatsTotal.Inc()

	e.audit.Critical(ctx, logLine+" THREAT DETECTED")

	if e.publisher != nil {
		if err := e.publisher.PublishThreat(ctx, rec); err != nil {
			e.metrics.NatsPublishErrors.Inc()
			e.log.Error("转发威胁记录失败", zap.String("threat_id", rec.ID), zap.Error(err))
		}
	}

	if e.dispatcher != nil {
		e.dispatcher.Submit(ctx, AlertPrompt(obs))
	}
	return rec
}

func NewThreatRecord(obs *model.Observation, now time.Time) *model.ThreatRecord {
	rec := &model.ThreatRecord{
		ID:                uuid.NewString(),
		Timestamp:         now,
		RemoteAddress:     obs.RemoteAddress,
		Severity:          model.SeverityHigh,
		ObservationSource: obs.Source,
	}
	if obs.Source == model.SourceConnection {
		rec.ThreatType = model.ThreatBlacklistedConnection
		rec.Description = "Connection to known malicious IP"
	} else {
		rec.ThreatType = model.ThreatBlacklistedIP
		rec.Description = obs.ActivityLabel + " from known malicious source"
	}
	return rec
}

func AlertPrompt(obs *model.Observation) string {
	if obs.Source == model.SourceConnection {
		return "Security Alert: Connection to blacklisted IP " + obs.RemoteAddress
	}
	return fmt.Sprintf("Security Alert: %s from blacklisted IP %s", obs.ActivityLabel, obs.RemoteAddress)
}
