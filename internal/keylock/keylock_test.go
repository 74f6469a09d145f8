package keylock

import (
	"sync"
	"testing"
)

func TestKeyLock_Counter(t *testing.T) {
	locks := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func TestKeyLock_Reclaim(t *testing.T) {
	locks := New()

	unlock := locks.Lock(1)
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Errorf("Expected entries to be reclaimed, got %d", len(locks.entries))
	}
}

func TestKeyLock_DistinctKeys(t *testing.T) {
	locks := New()

	// 不同键互不阻塞
	unlock1 := locks.Lock(1)
	unlock2 := locks.Lock(2)
	unlock2()
	unlock1()
}
