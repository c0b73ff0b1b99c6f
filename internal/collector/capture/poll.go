package capture

import (
	"context"
	"net/netip"
	"syscall"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"netsentry/internal/collector/iputil"
	"netsentry/internal/collector/livestate"
	"netsentry/pkg/model"
)

const DefaultPollInterval = 2 * time.Second

// ConnLister 列出当前的 inet 连接，默认实现基于 gopsutil。
type ConnLister func(ctx context.Context) ([]psnet.ConnectionStat, error)

func ListInetConnections(ctx context.Context) ([]psnet.ConnectionStat, error) {
	return psnet.ConnectionsWithContext(ctx, "inet")
}

// PollSource 定时列出已建立的连接，副作用是刷新活跃连接数。
// 去重交给下游的去重窗口，这里每轮都会把所有对端为公网的连接发出去。
type PollSource struct {
	interval time.Duration
	list     ConnLister
	state    *livestate.State
	log      *zap.Logger
}

func NewPollSource(interval time.Duration, list ConnLister, state *livestate.State, log *zap.Logger) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if list == nil {
		list = ListInetConnections
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PollSource{
		interval: interval,
		list:     list,
		state:    state,
		log:      log.With(zap.String("component", "poll")),
	}
}

func (s *PollSource) Mode() string { return livestate.ModePolling }

func (s *PollSource) Run(ctx context.Context, emit EmitFunc) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("开始连接轮询", zap.Duration("interval", s.interval))
	for {
		s.poll(ctx, emit)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *PollSource) poll(ctx context.Context, emit EmitFunc) {
	conns, err := s.list(ctx)
	if err != nil {
		s.log.Warn("列出网络连接失败", zap.Error(err))
		return
	}

	now := time.Now()
	established := 0
	var events []Event
	for _, c := range conns {
		if c.Status != "ESTABLISHED" {
			continue
		}
		established++
		if c.Raddr.IP == "" {
			continue
		}
		remote, err := netip.ParseAddr(c.Raddr.IP)
		if err != nil || iputil.IsInternal(remote) {
			continue
		}
		local, _ := netip.ParseAddr(c.Laddr.IP)
		events = append(events, Event{
			Timestamp: now,
			Origin:    model.SourceConnection,
			Protocol:  connProtocol(c.Type),
			SrcIP:     local,
			SrcPort:   int(c.Laddr.Port),
			DstIP:     remote.Unmap(),
			DstPort:   int(c.Raddr.Port),
		})
	}
	if s.state != nil {
		s.state.SetActiveConnections(established)
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		emit(ctx, ev)
	}
}

func connProtocol(sockType uint32) string {
	if sockType == syscall.SOCK_DGRAM {
		return model.ProtocolUDP
	}
	return model.ProtocolTCP
}
