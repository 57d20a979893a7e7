package mining

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"go.uber.org/atomic"
)

// HashRateMeter smooths observed hash rates with an exponentially weighted
// moving average and keeps a running total of attempts.
type HashRateMeter struct {
	mu     sync.Mutex
	avg    ewma.MovingAverage
	total  atomic.Uint64
	jobs   atomic.Uint64
	solved atomic.Uint64
}

// NewHashRateMeter creates a meter whose average is seeded by the first
// observation.
func NewHashRateMeter() *HashRateMeter {
	return &HashRateMeter{avg: ewma.NewMovingAverage()}
}

// Observe records hashes performed over d.
func (m *HashRateMeter) Observe(hashes uint64, d time.Duration) {
	m.total.Add(hashes)
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.avg.Add(float64(hashes) / d.Seconds())
	m.mu.Unlock()
}

// ObserveResult records a completed job.
func (m *HashRateMeter) ObserveResult(r Result) {
	m.jobs.Inc()
	if r.Found {
		m.solved.Inc()
	}
	m.Observe(r.Hashes, r.Elapsed)
}

// Rate is the smoothed hashes per second.
func (m *HashRateMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avg.Value()
}

// Snapshot returns counters for metrics export.
func (m *HashRateMeter) Snapshot() HashRateSnapshot {
	return HashRateSnapshot{
		HashRate:    m.Rate(),
		TotalHashes: m.total.Load(),
		Jobs:        m.jobs.Load(),
		Solved:      m.solved.Load(),
	}
}

// HashRateSnapshot is a point-in-time copy of a HashRateMeter.
type HashRateSnapshot struct {
	HashRate    float64
	TotalHashes uint64
	Jobs        uint64
	Solved      uint64
}
