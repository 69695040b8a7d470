package stats

import "sync"

// MockStatsUpdater records increments for assertions without a registry.
// Safe for concurrent use, since counters are bumped from read loops.
type MockStatsUpdater struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *MockStatsUpdater) Incr(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[name]++
}

func (m *MockStatsUpdater) RegisterMetric(name, help string) {}

func (m *MockStatsUpdater) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}
