package mining

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestHashRateMeter(t *testing.T) {
	m := NewHashRateMeter()

	m.Observe(2000, 2*time.Second)
	if got := m.Rate(); got != 1000 {
		t.Errorf("Rate() = %v, want 1000 after the first observation", got)
	}

	// Zero durations count hashes without touching the average.
	m.Observe(100, 0)
	if got := m.Rate(); got != 1000 {
		t.Errorf("Rate() = %v, want 1000", got)
	}

	m.ObserveResult(Result{Found: true, Hashes: 1000, Elapsed: time.Second})
	m.ObserveResult(Result{Hashes: 500, Elapsed: 500 * time.Millisecond})

	snap := m.Snapshot()
	if math.Abs(snap.HashRate-1000) > 1e-6 {
		t.Errorf("HashRate = %v, want 1000", snap.HashRate)
	}
	if snap.TotalHashes != 3600 || snap.Jobs != 2 || snap.Solved != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestHashRateMeterConcurrent(t *testing.T) {
	m := NewHashRateMeter()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.Observe(10, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().TotalHashes; got != 8000 {
		t.Errorf("TotalHashes = %d, want 8000", got)
	}
}
