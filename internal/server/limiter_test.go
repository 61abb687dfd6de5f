package server

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestConnectionLimiterCapacity(t *testing.T) {
	l := NewConnectionLimiter(2)

	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatal("acquisitions under the limit failed")
	}
	if l.TryAcquire() {
		t.Error("TryAcquire succeeded at capacity")
	}

	l.Release()
	if !l.TryAcquire() {
		t.Error("TryAcquire after Release failed")
	}
	if got := l.Current(); got != 2 {
		t.Errorf("Current() = %d, want 2", got)
	}
}

func TestConnectionLimiterUnlimited(t *testing.T) {
	l := NewConnectionLimiter(0)

	for i := 0; i < 1000; i++ {
		if !l.TryAcquire() {
			t.Fatalf("unlimited limiter refused connection %d", i)
		}
	}
	if got := l.Current(); got != 1000 {
		t.Errorf("Current() = %d, want 1000", got)
	}
}

func TestConnectionLimiterConcurrent(t *testing.T) {
	l := NewConnectionLimiter(100)

	var wg sync.WaitGroup
	var granted atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 100 {
		t.Errorf("granted = %d, want exactly 100", got)
	}
	if got := l.Current(); got != 100 {
		t.Errorf("Current() = %d, want 100", got)
	}
}

func TestConnectionLimiterChurn(t *testing.T) {
	l := NewConnectionLimiter(10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if l.TryAcquire() {
					l.Release()
				}
			}
		}()
	}
	wg.Wait()

	if got := l.Current(); got != 0 {
		t.Errorf("Current() after churn = %d, want 0", got)
	}
}
