package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/capture"
	"netsentry/internal/collector/dedup"
	"netsentry/internal/collector/enrich"
	"netsentry/internal/collector/escalate"
	"netsentry/internal/collector/forward"
	"netsentry/internal/collector/livestate"
	"netsentry/internal/collector/pidmap"
	"netsentry/internal/collector/pipeline"
	"netsentry/internal/collector/sampler"
	"netsentry/internal/collector/summarizer"
	"netsentry/internal/collector/telemetry"
	"netsentry/internal/config"
	"netsentry/internal/server/chat"
	serverapp "netsentry/internal/server/app"
	"netsentry/internal/server/storage"
)

const shutdownTimeout = 10 * time.Second

// Run 启动采集、采样、AI 分析和 HTTP 服务，阻塞直到 ctx 取消或 HTTP 服务异常退出。
// 退出顺序：HTTP 服务 -> 后台循环 -> 外部连接 -> 存储。
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := storage.Open(cfg.DB.Driver, cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("打开存储失败：%w", err)
	}
	defer store.Close()

	m := telemetry.New()
	state := livestate.New()
	audit := auditlog.New(store, log, cfg.DB.WriteTimeout)

	sum := summarizer.New(summarizer.Config{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.ChatTimeout,
	})
	if !sum.Configured() {
		log.Warn("未配置 AI 凭据，威胁分析与对话将使用模板回复")
	}

	enricher, closeGeo, err := buildEnricher(cfg.Enrich, m, log)
	if err != nil {
		return err
	}
	defer closeGeo()

	var publisher escalate.Publisher
	if cfg.NATS.URL != "" {
		p, err := forward.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			log.Warn("NATS 不可用，威胁记录不转发", zap.Error(err))
		} else {
			defer p.Close()
			publisher = p
		}
	}

	var pids pipeline.PIDResolver
	if cfg.EBPF.Enable {
		r, err := pidmap.NewResolver(log)
		if err != nil {
			log.Warn("eBPF 进程归属不可用", zap.Error(err))
		} else {
			defer r.Close()
			pids = r
		}
	}

	dispatcher := escalate.NewDispatcher(sum, audit, m, log, cfg.AI.QueueSize, cfg.AI.AlertTimeout)
	esc := escalate.New(escalate.Options{
		Store:        store,
		State:        state,
		Audit:        audit,
		Dispatcher:   dispatcher,
		Publisher:    publisher,
		Metrics:      m,
		Log:          log,
		WriteTimeout: cfg.DB.WriteTimeout,
	})
	pipe := pipeline.New(pipeline.Options{
		Store:        store,
		Window:       dedup.NewWindow(cfg.Capture.DedupCapacity),
		Enricher:     enricher,
		Escalator:    esc,
		State:        state,
		Audit:        audit,
		Metrics:      m,
		PIDs:         pids,
		Log:          log,
		WriteTimeout: cfg.DB.WriteTimeout,
	})

	host := sampler.NewHostProvider()
	smp := sampler.New(sampler.Config{
		Interval:     cfg.Sampler.Interval,
		Threshold:    cfg.Sampler.AlertThreshold,
		WriteTimeout: cfg.DB.WriteTimeout,
	}, host, store, state, audit, m, log)

	capRunner := &captureRunner{
		probe: func() (capture.Source, error) {
			raw, err := capture.Probe(cfg.Capture.Interface, capture.DefaultSnaplen, log)
			if err != nil {
				return nil, err
			}
			return raw, nil
		},
		poll: func() capture.Source {
			return capture.NewPollSource(cfg.Capture.PollInterval, nil, state, log)
		},
		emit:  pipe.Handle,
		state: state,
		audit: audit,
		log:   log.With(zap.String("component", "capture")),
		delay: cfg.Capture.StartupDelay,
	}

	srv := serverapp.NewServer(serverapp.Config{ListenAddr: cfg.Listen}, serverapp.Deps{
		Store:   store,
		State:   state,
		Info:    host,
		Chat:    chat.New(sum, store, state, audit, log, cfg.AI.ChatTimeout),
		Metrics: m.Handler(),
		Log:     log,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){dispatcher.Run, smp.Run, capRunner.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(runCtx)
		}(loop)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP 服务监听", zap.String("addr", srv.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	audit.Info(ctx, "NetSentry collector started")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP 服务运行失败：%w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP 服务关闭超时", zap.Error(err))
	}
	cancel()
	wg.Wait()
	audit.Info(context.WithoutCancel(ctx), "NetSentry collector stopped")
	return runErr
}

func buildEnricher(cfg config.EnrichConfig, m *telemetry.Metrics, log *zap.Logger) (*enrich.Enricher, func(), error) {
	closer := func() {}

	var geo enrich.Geolocator
	if cfg.GeoIPDB != "" {
		g, err := enrich.OpenGeoIP(cfg.GeoIPDB, log)
		if err != nil {
			return nil, nil, err
		}
		closer = func() { g.Close() }
		geo = g
	} else {
		g := enrich.NewHTTPGeolocator(cfg.GeoURL, cfg.Timeout, log)
		g.OnFailure = m.EnrichFailed("geo")
		geo = g
	}

	rep := enrich.NewHTTPReputation(cfg.ReputationURL, cfg.Timeout, log)
	rep.OnFailure = m.EnrichFailed("reputation")

	if cfg.CacheTTL <= 0 || cfg.CacheSize <= 0 {
		return enrich.NewEnricher(geo, rep), closer, nil
	}
	return enrich.NewEnricher(
		enrich.NewCachedGeolocator(geo, cfg.CacheSize, cfg.CacheTTL),
		enrich.NewCachedReputation(rep, cfg.CacheSize, cfg.CacheTTL),
	), closer, nil
}
