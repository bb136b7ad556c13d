package store

import (
	"context"
	"sync"
)

// Slot is a session-scoped location holding the serialized store.
//
// Contract:
//   - Load returns (nil, nil) when the slot has never been written.
//   - Update runs fn against the current blob and persists its result as a
//     single write; concurrent Updates of the same slot must not interleave.
//   - Clear empties the slot. Idempotent.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error
	Clear(ctx context.Context) error
}

// MemorySlot is an in-process Slot. Each instance is an independent session.
type MemorySlot struct {
	mu   sync.Mutex
	blob []byte
}

// NewMemorySlot creates an empty in-process slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

// Load returns a copy of the stored blob.
func (m *MemorySlot) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, nil
	}
	return append([]byte(nil), m.blob...), nil
}

// Update serializes read-modify-write cycles under the slot mutex.
func (m *MemorySlot) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(m.blob)
	if err != nil {
		return err
	}
	m.blob = next
	return nil
}

// Clear drops the stored blob.
func (m *MemorySlot) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = nil
	return nil
}

// Replace overwrites the raw blob. Used to seed or corrupt a slot in tests.
func (m *MemorySlot) Replace(blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = blob
}

var _ Slot = (*MemorySlot)(nil)
