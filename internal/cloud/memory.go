package cloud

import (
	"context"
	"slices"
	"sync"
)

// MemorySink keeps updates and alerts in memory.
type MemorySink struct {
	mu      sync.Mutex
	updates []ParamUpdate
	alerts  []Alert
	// Err, when set, is returned by every save.
	Err error
}

func (m *MemorySink) SaveParam(_ context.Context, u ParamUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.updates = append(m.updates, u)
	return nil
}

func (m *MemorySink) SaveAlert(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *MemorySink) ListAlerts(_ context.Context, limit int) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.alerts)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Updates returns all saved parameter updates in order.
func (m *MemorySink) Updates() []ParamUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.updates)
}
