package runstatus

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps the record in-process. Used by tests and one-shot runs
// that don't need a dashboard.
type memoryStore struct {
	mu     sync.Mutex
	rs     RunStatus
	closed bool
	now    func() time.Time
}

// NewMemory returns an in-process Store.
func NewMemory() Store {
	return &memoryStore{rs: idle(), now: time.Now}
}

func (m *memoryStore) with(ctx context.Context, fn func(rs *RunStatus)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	fn(&m.rs)
	return nil
}

func (m *memoryStore) IsRunning(ctx context.Context) (bool, error) {
	var running bool
	err := m.with(ctx, func(rs *RunStatus) { running = rs.IsRunning })
	return running, err
}

func (m *memoryStore) StartExecution(ctx context.Context, total int, executionID string) (bool, error) {
	var started bool
	err := m.with(ctx, func(rs *RunStatus) { started = rs.start(total, executionID, m.now()) })
	return started, err
}

func (m *memoryStore) UpdateCurrentStep(ctx context.Context, step, recipientName string) error {
	return m.with(ctx, func(rs *RunStatus) { rs.setStep(step, recipientName) })
}

func (m *memoryStore) UpdateRecipientStatus(ctx context.Context, key, name, phone string, st Status, detail string) error {
	return m.with(ctx, func(rs *RunStatus) { rs.upsertRecipient(key, name, phone, st, detail, m.now()) })
}

func (m *memoryStore) EndExecution(ctx context.Context) error {
	return m.with(ctx, func(rs *RunStatus) { rs.end(m.now()) })
}

func (m *memoryStore) ResetStatus(ctx context.Context) error {
	return m.with(ctx, func(rs *RunStatus) { *rs = idle() })
}

func (m *memoryStore) Status(ctx context.Context) (RunStatus, error) {
	var out RunStatus
	err := m.with(ctx, func(rs *RunStatus) { out = rs.clone() })
	return out, err
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
