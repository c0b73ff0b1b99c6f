package livestate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"netsentry/pkg/model"
)

func TestState_ConcurrentCounters(t *testing.T) {
	s := New()
	const workers = 16
	const perWorker = 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.AddPacketsCaptured(1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.IncThreatsDetected()
			}
		}()
	}

	// 并发读取期间计数器只能单调不减
	done := make(chan struct{})
	go func() {
		defer close(done)
		var lastP, lastT uint64
		for k := 0; k < 2000; k++ {
			snap := s.Snapshot()
			if snap.PacketsCaptured < lastP || snap.ThreatsDetected < lastT {
				t.Errorf("counter decreased: %d<%d or %d<%d", snap.PacketsCaptured, lastP, snap.ThreatsDetected, lastT)
				return
			}
			lastP, lastT = snap.PacketsCaptured, snap.ThreatsDetected
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, uint64(workers*perWorker), s.PacketsCaptured())
	assert.Equal(t, uint64(workers*perWorker), s.ThreatsDetected())
}

func TestState_UpdateHostOverwrites(t *testing.T) {
	s := New()
	s.AddPacketsCaptured(5)
	now := time.Now()

	s.UpdateHost(model.MetricsSample{Timestamp: now, CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30, ActiveConnections: 4})
	s.UpdateHost(model.MetricsSample{Timestamp: now.Add(time.Second), CPUPercent: 11, MemoryPercent: 21, DiskPercent: 31, NetworkSent: 100, NetworkRecv: 200, ActiveConnections: 7})
	s.SetCaptureMode(ModePolling)

	snap := s.Snapshot()
	assert.Equal(t, 11.0, snap.CPUUsage)
	assert.Equal(t, 21.0, snap.MemoryUsage)
	assert.Equal(t, 31.0, snap.DiskUsage)
	assert.Equal(t, uint64(100), snap.NetworkSent)
	assert.Equal(t, uint64(200), snap.NetworkRecv)
	assert.Equal(t, 7, snap.ActiveConnections)
	assert.Equal(t, uint64(5), snap.PacketsCaptured)
	assert.Equal(t, ModePolling, snap.CaptureMode)
	assert.Equal(t, now.Add(time.Second), snap.UpdatedAt)
}

func TestState_ActiveConnectionsFromPolling(t *testing.T) {
	s := New()
	s.SetActiveConnections(12)
	assert.Equal(t, 12, s.Snapshot().ActiveConnections)
	assert.Equal(t, ModeUnknown, s.CaptureMode())
}
