package livestate

import (
	"sync"
	"sync/atomic"
	"time"

	"netsentry/pkg/model"
)

const (
	ModeUnknown = "starting"
	ModeRaw     = "raw"
	ModePolling = "polling"
)

// State 是进程内唯一的实时指标记录。
// 累计计数器用原子操作维护，只增不减；主机指标快照由采样循环整体覆盖，受读写锁保护。
type State struct {
	packets atomic.Uint64
	threats atomic.Uint64
	active  atomic.Int64

	mu        sync.RWMutex
	host      model.MetricsSample
	mode      string
	updatedAt time.Time
}

func New() *State {
	return &State{mode: ModeUnknown}
}

func (s *State) AddPacketsCaptured(n uint64) uint64 {
	return s.packets.Add(n)
}

func (s *State) IncThreatsDetected() uint64 {
	return s.threats.Add(1)
}

func (s *State) PacketsCaptured() uint64 {
	return s.packets.Load()
}

func (s *State) ThreatsDetected() uint64 {
	return s.threats.Load()
}

// SetActiveConnections 由轮询采集和采样循环共同写入，取最近一次的值。
func (s *State) SetActiveConnections(n int) {
	s.active.Store(int64(n))
}

func (s *State) SetCaptureMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

func (s *State) CaptureMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// UpdateHost 覆盖主机指标快照。
func (s *State) UpdateHost(sample model.MetricsSample) {
	s.active.Store(int64(sample.ActiveConnections))
	s.mu.Lock()
	s.host = sample
	s.updatedAt = sample.Timestamp
	s.mu.Unlock()
}

func (s *State) Snapshot() model.LiveMetrics {
	s.mu.RLock()
	host := s.host
	mode := s.mode
	updatedAt := s.updatedAt
	s.mu.RUnlock()

	return model.LiveMetrics{
		CPUUsage:          host.CPUPercent,
		MemoryUsage:       host.MemoryPercent,
		DiskUsage:         host.DiskPercent,
		NetworkSent:       host.NetworkSent,
		NetworkRecv:       host.NetworkRecv,
		ActiveConnections: int(s.active.Load()),
		PacketsCaptured:   s.packets.Load(),
		ThreatsDetected:   s.threats.Load(),
		CaptureMode:       mode,
		UpdatedAt:         updatedAt,
	}
}
