package core

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLocksSerializeSharedKeys(t *testing.T) {
	var (
		locks   keyLocks
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(apartmentKey("A-101"), userKey("a@x.com"))
			defer unlock()
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if overlap {
		t.Fatalf("holders of the same key overlapped")
	}
}

func TestKeyLocksOpposingOrderDoesNotDeadlock(t *testing.T) {
	var locks keyLocks
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				locks.lock("x", "y", "x")()
			}()
			go func() {
				defer wg.Done()
				locks.lock("y", "x", "")()
			}()
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("lock ordering deadlocked")
	}
}
