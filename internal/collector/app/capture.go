package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/capture"
	"netsentry/internal/collector/livestate"
)

// captureRunner 在启动时探测一次原始抓包能力，失败则使用连接轮询；
// 原始抓包运行中出错时切换到轮询一次，不再回到原始抓包。
type captureRunner struct {
	probe func() (capture.Source, error)
	poll  func() capture.Source
	emit  capture.EmitFunc
	state *livestate.State
	audit *auditlog.Logger
	log   *zap.Logger
	delay time.Duration
}

func (r *captureRunner) Run(ctx context.Context) {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.delay):
		}
	}

	src := r.selectSource(ctx)
	err := r.run(ctx, src)
	if err == nil || ctx.Err() != nil || src.Mode() == livestate.ModePolling {
		if err != nil && ctx.Err() == nil {
			r.log.Error("连接轮询异常退出", zap.Error(err))
		}
		return
	}

	r.log.Error("原始抓包中断，切换到连接轮询", zap.Error(err))
	r.audit.Error(ctx, fmt.Sprintf("Network monitoring error: %v; falling back to connection monitoring", err))
	if err := r.run(ctx, r.poll()); err != nil && ctx.Err() == nil {
		r.log.Error("连接轮询异常退出", zap.Error(err))
	}
}

func (r *captureRunner) selectSource(ctx context.Context) capture.Source {
	src, err := r.probe()
	if err == nil {
		return src
	}
	if errors.Is(err, capture.ErrPermission) {
		r.log.Warn("没有原始抓包权限，使用连接轮询", zap.Error(err))
		r.audit.Warning(ctx, "Network capture requires root or CAP_NET_RAW; using connection monitoring")
	} else {
		r.log.Error("原始抓包不可用，使用连接轮询", zap.Error(err))
		r.audit.Error(ctx, fmt.Sprintf("Network monitoring error: %v; falling back to connection monitoring", err))
	}
	return r.poll()
}

func (r *captureRunner) run(ctx context.Context, src capture.Source) error {
	r.state.SetCaptureMode(src.Mode())
	if src.Mode() == livestate.ModeRaw {
		r.audit.Info(ctx, "Real-time network monitoring started")
	} else {
		r.audit.Info(ctx, "Connection monitoring active (fallback mode)")
	}
	return src.Run(ctx, r.emit)
}
