package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing and
// single-process use. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]storedCheckpoint // threadID -> checkpoints ordered by step
	closed  bool
}

// storedCheckpoint holds the encoded checkpoint with its step for ordering.
type storedCheckpoint struct {
	step int
	data []byte
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]storedCheckpoint),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp.ThreadID == "" {
		return ErrThreadIDRequired
	}

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	thread := m.threads[cp.ThreadID]
	if n := len(thread); n > 0 && cp.Step <= thread[n-1].step {
		return fmt.Errorf("%w: step %d, latest %d", ErrStaleStep, cp.Step, thread[n-1].step)
	}

	m.threads[cp.ThreadID] = append(thread, storedCheckpoint{step: cp.Step, data: data})
	return nil
}

// SetNextNode implements Store.
func (m *MemoryStore) SetNextNode(_ context.Context, threadID string, step int, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	thread := m.threads[threadID]
	for i, sc := range thread {
		if sc.step != step {
			continue
		}
		cp, err := Unmarshal(sc.data)
		if err != nil {
			return fmt.Errorf("decode checkpoint %d: %w", step, err)
		}
		cp.NextNode = next
		data, err := cp.Marshal()
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		thread[i].data = data
		return nil
	}
	return ErrNotFound
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	thread := m.threads[threadID]
	if len(thread) == 0 {
		return nil, ErrNotFound
	}
	return Unmarshal(thread[len(thread)-1].data)
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, threadID string, step int) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	for _, sc := range m.threads[threadID] {
		if sc.step == step {
			return Unmarshal(sc.data)
		}
	}
	return nil, ErrNotFound
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	thread := m.threads[threadID]
	infos := make([]Info, 0, len(thread))
	for _, sc := range thread {
		cp, err := Unmarshal(sc.data)
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint %d: %w", sc.step, err)
		}
		infos = append(infos, cp.Info(int64(len(sc.data))))
	}
	return infos, nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, thread := range m.threads {
		count += len(thread)
	}
	return count
}
