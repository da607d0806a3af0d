// Package chainclock abstracts the two ways the engines measure elapsed
// time: wall-clock seconds and block height. The daemon runs on a system
// clock with a synthetic height; tests inject a manual clock and advance
// both measures independently to exercise the plausibility cross-checks.
package chainclock

import (
	"sync"
	"time"

	"github.com/claimswap/claimswap/pkg/utils"
)

// Clock supplies the current wall time and chain height.
type Clock interface {
	Now() time.Time
	Height() uint64
}

// System derives height from elapsed wall time at a fixed block interval.
type System struct {
	genesis  time.Time
	interval time.Duration
}

// NewSystem builds a system clock. The block interval comes from
// BLOCK_INTERVAL (default 2s).
func NewSystem() *System {
	return &System{
		genesis:  time.Now(),
		interval: utils.EnvDuration("BLOCK_INTERVAL", 2*time.Second),
	}
}

func (s *System) Now() time.Time { return time.Now() }

func (s *System) Height() uint64 {
	return uint64(time.Since(s.genesis) / s.interval)
}

// Manual is a deterministic clock for tests.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	height uint64
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

// Advance moves wall time forward without touching the height.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// AdvanceBlocks moves the height forward without touching wall time.
func (m *Manual) AdvanceBlocks(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height += n
}

// Tick advances both measures together, n blocks over d of wall time.
func (m *Manual) Tick(d time.Duration, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.height += n
}
