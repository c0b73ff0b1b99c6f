package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/summarizer"
	"netsentry/pkg/model"
)

const (
	DefaultTimeout = 15 * time.Second
	EmptyMessage   = "Please provide a message."

	chatMaxTokens = 150
	replyRunes    = 500
	logRunes      = 50
	contextRows   = 3
)

type History interface {
	RecentThreats(ctx context.Context, limit int) ([]model.ThreatRecord, error)
	RecentObservations(ctx context.Context, limit int) ([]model.Observation, error)
}

type Snapshotter interface {
	Snapshot() model.LiveMetrics
}

// Assistant 回答安全相关的自由提问。AI 不可用时退回到只依赖实时状态拼出来的模板回复。
type Assistant struct {
	sum     summarizer.Summarizer
	history History
	state   Snapshotter
	audit   *auditlog.Logger
	log     *zap.Logger
	timeout time.Duration
}

func New(sum summarizer.Summarizer, history History, state Snapshotter, audit *auditlog.Logger, log *zap.Logger, timeout time.Duration) *Assistant {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Assistant{
		sum:     sum,
		history: history,
		state:   state,
		audit:   audit,
		log:     log.With(zap.String("component", "chat")),
		timeout: timeout,
	}
}

func (a *Assistant) Reply(ctx context.Context, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return EmptyMessage
	}

	snap := a.state.Snapshot()
	threats, observations := a.recent(ctx)
	summary := threatSummary(snap.ThreatsDetected, threats)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		reply     string
		statusErr *summarizer.StatusError
	)
	out, err := a.sum.Complete(cctx, buildPrompt(message, snap, summary, observations), chatMaxTokens)
	switch {
	case errors.Is(err, summarizer.ErrNotConfigured):
		reply = fmt.Sprintf("API key not configured. Status: CPU %.1f%%, Memory %.1f%%. %s.", snap.CPUUsage, snap.MemoryUsage, summary)
	case errors.As(err, &statusErr):
		a.log.Warn("AI 接口返回非 200，使用模板回复", zap.Int("status", statusErr.Code))
		reply = fmt.Sprintf("System: CPU %.1f%%, Memory %.1f%%. %s. %d active connections monitored.",
			snap.CPUUsage, snap.MemoryUsage, summary, snap.ActiveConnections)
	case err != nil:
		a.log.Warn("AI 对话失败，使用模板回复", zap.Error(err))
		reply = fmt.Sprintf("System monitoring active - CPU: %.1f%%, Memory: %.1f%%. %s.", snap.CPUUsage, snap.MemoryUsage, summary)
	default:
		reply = summarizer.Truncate(out, replyRunes)
	}

	a.audit.Info(ctx, "Chat: "+string(firstRunes(message, logRunes))+"...")
	return reply
}

// recent 读取上下文用的最近记录，读不到就当作没有。
func (a *Assistant) recent(ctx context.Context) ([]model.ThreatRecord, []model.Observation) {
	if a.history == nil {
		return nil, nil
	}
	threats, err := a.history.RecentThreats(ctx, contextRows)
	if err != nil {
		a.log.Warn("读取最近威胁失败", zap.Error(err))
		threats = nil
	}
	obs, err := a.history.RecentObservations(ctx, contextRows)
	if err != nil {
		a.log.Warn("读取最近观测失败", zap.Error(err))
		obs = nil
	}
	return threats, obs
}

func threatSummary(total uint64, recent []model.ThreatRecord) string {
	s := fmt.Sprintf("%d threats", total)
	if len(recent) > 0 {
		s += fmt.Sprintf(" (latest: %s from %s)", recent[0].ThreatType, recent[0].RemoteAddress)
	}
	return s
}

func buildPrompt(message string, snap model.LiveMetrics, summary string, recent []model.Observation) string {
	var b strings.Builder
	b.WriteString("You are a cybersecurity AI assistant. Answer in 2-3 sentences maximum. Be direct and concise.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", message)
	fmt.Fprintf(&b, "System: CPU %.1f%%, Memory %.1f%%, %d connections, %d packets\n",
		snap.CPUUsage, snap.MemoryUsage, snap.ActiveConnections, snap.PacketsCaptured)
	fmt.Fprintf(&b, "Security: %s", summary)
	for _, o := range recent {
		if o.Blacklisted {
			fmt.Fprintf(&b, "\nRecent threat: %s", o.RemoteAddress)
			break
		}
	}
	return b.String()
}

func firstRunes(s string, n int) []rune {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return r
}
