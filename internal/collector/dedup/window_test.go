package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestWindow_SeenTwice(t *testing.T) {
	w := NewWindow(10)
	key := Key("8.8.8.8", 443)

	if w.Seen(key) {
		t.Fatal("first sighting should not be seen")
	}
	if !w.Seen(key) {
		t.Fatal("second sighting should be seen")
	}
	if w.Seen(Key("8.8.8.8", 80)) {
		t.Fatal("different port is a different key")
	}
}

func TestWindow_ClearsPastCapacity(t *testing.T) {
	w := NewWindow(3)
	first := Key("1.1.1.1", 1)
	w.Seen(first)
	w.Seen(Key("1.1.1.1", 2))
	w.Seen(Key("1.1.1.1", 3))
	if w.Len() != 3 {
		t.Fatalf("len=%d", w.Len())
	}

	// 第 4 个 key 让窗口超过容量，整体清空
	w.Seen(Key("1.1.1.1", 4))
	if w.Len() != 0 {
		t.Fatalf("expected window cleared, len=%d", w.Len())
	}
	if w.Clears() != 1 {
		t.Fatalf("clears=%d", w.Clears())
	}
	if w.Seen(first) {
		t.Fatal("key seen before the clear should be reported again")
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < DefaultCapacity; i++ {
		w.Seen(Key("9.9.9.9", i))
	}
	if w.Len() != DefaultCapacity {
		t.Fatalf("len=%d", w.Len())
	}
	if w.Clears() != 0 {
		t.Fatalf("clears=%d", w.Clears())
	}
}

func TestWindow_Concurrent(t *testing.T) {
	w := NewWindow(100000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if !w.Seen(fmt.Sprintf("k%d", i)) {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if firsts != 500 {
		t.Fatalf("expected each key reported once, got %d", firsts)
	}
}
