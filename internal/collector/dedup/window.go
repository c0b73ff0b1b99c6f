package dedup

import (
	"fmt"
	"sync"
)

const DefaultCapacity = 1000

// Window 记录最近出现过的连接标识，用于抑制同一连接的重复上报。
// 超过容量时整体清空，不做 LRU；清空后旧连接会被重新上报一次。
type Window struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	capacity int
	clears   uint64
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Key 由远端地址和远端端口拼接而成。
func Key(remoteAddr string, remotePort int) string {
	return fmt.Sprintf("%s:%d", remoteAddr, remotePort)
}

// Seen 返回 key 是否已出现过；未出现则插入。
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[key]; ok {
		return true
	}
	w.seen[key] = struct{}{}
	if len(w.seen) > w.capacity {
		w.seen = make(map[string]struct{}, w.capacity)
		w.clears++
	}
	return false
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Clears 返回窗口被整体清空的次数。
func (w *Window) Clears() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clears
}
