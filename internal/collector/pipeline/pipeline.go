package pipeline

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/capture"
	"netsentry/internal/collector/classify"
	"netsentry/internal/collector/dedup"
	"netsentry/internal/collector/enrich"
	"netsentry/internal/collector/livestate"
	"netsentry/internal/collector/telemetry"
	"netsentry/pkg/model"
)

type ObservationStore interface {
	InsertObservation(ctx context.Context, obs *model.Observation) error
}

type Enricher interface {
	Enrich(ctx context.Context, ip string) enrich.Result
}

type Escalator interface {
	Escalate(ctx context.Context, obs *model.Observation, logLine string) *model.ThreatRecord
}

type PIDResolver interface {
	Lookup(src netip.Addr, srcPort int, dst netip.Addr, dstPort int) int
}

type Options struct {
	Store     ObservationStore
	Window    *dedup.Window
	Enricher  Enricher
	Escalator Escalator
	State     *livestate.State
	Audit     *auditlog.Logger
	Metrics   *telemetry.Metrics
	// PIDs 可为空，为空时 Observation.PID 为 0。
	PIDs         PIDResolver
	Log          *zap.Logger
	WriteTimeout time.Duration
}

// Pipeline 把采集事件变成 Observation：去重、分类、富化、落库，命中黑名单时升级。
// 同一个采集循环内串行调用 Handle，事件按到达顺序处理。
type Pipeline struct {
	store        ObservationStore
	window       *dedup.Window
	enricher     Enricher
	escalator    Escalator
	state        *livestate.State
	audit        *auditlog.Logger
	metrics      *telemetry.Metrics
	pids         PIDResolver
	log          *zap.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

func New(opts Options) *Pipeline {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = telemetry.New()
	}
	w := opts.Window
	if w == nil {
		w = dedup.NewWindow(dedup.DefaultCapacity)
	}
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = 2 * time.Second
	}
	return &Pipeline{
		store:        opts.Store,
		window:       w,
		enricher:     opts.Enricher,
		escalator:    opts.Escalator,
		state:        opts.State,
		audit:        opts.Audit,
		metrics:      m,
		pids:         opts.PIDs,
		log:          log.With(zap.String("component", "pipeline")),
		writeTimeout: wt,
		now:          time.Now,
	}
}

// Handle 的签名与 capture.EmitFunc 一致，可以直接交给 Source.Run。
func (p *Pipeline) Handle(ctx context.Context, ev capture.Event) {
	p.Process(ctx, ev)
}

// Process 处理一个采集事件并返回生成的 Observation；两端都是内网或重复事件时返回 nil。
// 落库失败不影响返回值和后续升级。
func (p *Pipeline) Process(ctx context.Context, ev capture.Event) *model.Observation {
	remote, ok := ev.Resolve()
	if !ok {
		return nil
	}
	addr := remote.Addr.String()
	if p.window.Seen(dedup.Key(addr, remote.Port)) {
		p.metrics.DuplicatesTotal.Inc()
		return nil
	}
	p.state.AddPacketsCaptured(1)
	p.metrics.EventsTotal.WithLabelValues(ev.Origin).Inc()

	label := classify.Classify(ev.Protocol, ev.SrcPort, ev.DstPort)

	start := time.Now()
	res := p.enricher.Enrich(ctx, addr)
	p.metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())

	obs := &model.Observation{
		Timestamp:     p.now(),
		RemoteAddress: addr,
		Protocol:      ev.Protocol,
		LocalPort:     remote.LocalPort,
		RemotePort:    remote.Port,
		ActivityLabel: label,
		CountryCity:   res.CountryCity,
		Blacklisted:   res.Blacklisted,
		AttackCount:   res.Attacks,
		ReportCount:   res.Reports,
		Source:        ev.Origin,
		Summary:       summary(ev, label, addr),
	}
	if p.pids != nil && ev.Protocol == model.ProtocolTCP {
		obs.PID = p.pids.Lookup(ev.SrcIP, ev.SrcPort, ev.DstIP, ev.DstPort)
	}

	wctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	err := p.store.InsertObservation(wctx, obs)
	cancel()
	if err != nil {
		p.metrics.StoreErrors.WithLabelValues("observations").Inc()
		p.log.Error("写入观测记录失败", zap.String("ip", addr), zap.Error(err))
		p.audit.Error(ctx, fmt.Sprintf("Failed to save observation for %s: %v", addr, err))
	}

	line := logLine(ev, obs)
	if obs.Blacklisted {
		p.escalator.Escalate(ctx, obs, line)
	} else {
		p.audit.Info(ctx, line)
	}
	return obs
}

func summary(ev capture.Event, label, remote string) string {
	if ev.Origin == model.SourceConnection {
		return fmt.Sprintf("%s to %s", label, remote)
	}
	return fmt.Sprintf("%s %s:%s → %s:%s", label, ev.SrcIP, portText(ev, ev.SrcPort), ev.DstIP, portText(ev, ev.DstPort))
}

func portText(ev capture.Event, port int) string {
	if ev.Protocol != model.ProtocolTCP && ev.Protocol != model.ProtocolUDP {
		return "N/A"
	}
	return strconv.Itoa(port)
}

func logLine(ev capture.Event, obs *model.Observation) string {
	if ev.Origin == model.SourceConnection {
		return fmt.Sprintf("%s: %s (%s)", obs.ActivityLabel, obs.RemoteAddress, obs.CountryCity)
	}
	return fmt.Sprintf("%s: %s → %s (%s)", obs.ActivityLabel, ev.SrcIP, ev.DstIP, obs.CountryCity)
}
