package alert

import (
	"context"
	"sync"
)

type Mock struct {
	mu   sync.Mutex
	Sent []Alert
	Err  error
}

func (m *Mock) Notify(ctx context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, a)
	return m.Err
}
