package escalate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netsentry/internal/collector/auditlog"
	"netsentry/internal/collector/livestate"
	"netsentry/internal/collector/summarizer"
	"netsentry/internal/collector/telemetry"
	"netsentry/pkg/model"
)

type memStore struct {
	mu        sync.Mutex
	threats   []*model.ThreatRecord
	logs      []*model.LogEntry
	threatErr error
}

func (m *memStore) InsertThreat(_ context.Context, t *model.ThreatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threatErr != nil {
		return m.threatErr
	}
	m.threats = append(m.threats, t)
	return nil
}

func (m *memStore) InsertLog(_ context.Context, e *model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *memStore) logsAt(level string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.logs {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func (m *memStore) threatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threats)
}

type stubSummarizer struct {
	reply string
	err   error
	block chan struct{}
}

func (s *stubSummarizer) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.reply, s.err
}

type failingPublisher struct{}

func (failingPublisher) PublishThreat(context.Context, *model.ThreatRecord) error {
	return errors.New("nats down")
}

func blacklistedPacket() *model.Observation {
	return &model.Observation{
		Timestamp:     time.Now(),
		RemoteAddress: "203.0.113.9",
		Protocol:      model.ProtocolTCP,
		RemotePort:    443,
		ActivityLabel: "HTTPS Secure Connection",
		Blacklisted:   true,
		AttackCount:   3,
		ReportCount:   7,
		Source:        model.SourcePacket,
	}
}

func newEscalator(t *testing.T, store *memStore, sum summarizer.Summarizer, pub Publisher) (*Escalator, *livestate.State, *telemetry.Metrics) {
	t.Helper()
	m := telemetry.New()
	state := livestate.New()
	audit := auditlog.New(store, nil, time.Second)
	d := NewDispatcher(sum, audit, m, nil, 4, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	e := New(Options{
		Store:      store,
		State:      state,
		Audit:      audit,
		Dispatcher: d,
		Publisher:  pub,
		Metrics:    m,
	})
	return e, state, m
}

func TestEscalateProducesThreatCounterAndCritical(t *testing.T) {
	store := &memStore{}
	e, state, _ := newEscalator(t, store, &stubSummarizer{err: errors.New("unreachable")}, nil)

	rec := e.Escalate(context.Background(), blacklistedPacket(), "HTTPS Secure Connection: 203.0.113.9 -> 10.0.0.2 (Unknown)")

	require.Equal(t, 1, store.threatCount())
	assert.Equal(t, model.SeverityHigh, rec.Severity)
	assert.Equal(t, model.ThreatBlacklistedIP, rec.ThreatType)
	assert.NotEmpty(t, rec.ID)
	assert.EqualValues(t, 1, state.ThreatsDetected())
	crit := store.logsAt(model.LevelCritical)
	require.Len(t, crit, 1)
	assert.True(t, strings.HasSuffix(crit[0], "THREAT DETECTED"))

	// 分析失败只多一条 ERROR，不影响前面三项
	assert.Eventually(t, func() bool {
		return len(store.logsAt(model.LevelError)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.threatCount())
	assert.EqualValues(t, 1, state.ThreatsDetected())
}

func TestEscalateSideEffectsAreIndependent(t *testing.T) {
	store := &memStore{threatErr: errors.New("disk full")}
	e, state, m := newEscalator(t, store, &stubSummarizer{reply: "ok"}, failingPublisher{})

	e.Escalate(context.Background(), blacklistedPacket(), "line")

	assert.Equal(t, 0, store.threatCount())
	assert.EqualValues(t, 1, state.ThreatsDetected())
	assert.Len(t, store.logsAt(model.LevelCritical), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("threats")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NatsPublishErrors))
	assert.Eventually(t, func() bool {
		return len(store.logsAt(model.LevelAI)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEscalateConcurrentCountsExactly(t *testing.T) {
	store := &memStore{}
	e, state, _ := newEscalator(t, store, &stubSummarizer{err: summarizer.ErrNotConfigured}, nil)

	const workers, each = 16, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				e.Escalate(context.Background(), blacklistedPacket(), "line")
				state.AddPacketsCaptured(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, workers*each, state.ThreatsDetected())
	assert.EqualValues(t, workers*each, state.PacketsCaptured())
	assert.Equal(t, workers*each, store.threatCount())
}

func TestConnectionThreatRecord(t *testing.T) {
	obs := blacklistedPacket()
	obs.Source = model.SourceConnection

	rec := NewThreatRecord(obs, time.Now())
	assert.Equal(t, model.ThreatBlacklistedConnection, rec.ThreatType)
	assert.Equal(t, "Connection to known malicious IP", rec.Description)
	assert.Equal(t, model.SourceConnection, rec.ObservationSource)
	assert.Equal(t, "Security Alert: Connection to blacklisted IP 203.0.113.9", AlertPrompt(obs))
}

func TestPacketAlertPrompt(t *testing.T) {
	assert.Equal(t, "Security Alert: HTTPS Secure Connection from blacklisted IP 203.0.113.9", AlertPrompt(blacklistedPacket()))
	assert.Equal(t, "HTTPS Secure Connection from known malicious source", NewThreatRecord(blacklistedPacket(), time.Now()).Description)
}
