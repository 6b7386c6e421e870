// Package store holds the orchestrator's output. The orchestrator is the
// only writer; everything else reads snapshots.
package store

import (
	"sync"

	"github.com/makeasinger/deckflow/internal/model"
)

// Store is the contract between the orchestrator and whatever holds its
// output. Update calls are serialized by the orchestrator; implementations
// must still make Snapshot safe to call concurrently with Update.
type Store interface {
	// Snapshot returns a copy readers may keep.
	Snapshot() model.State
	// Update applies fn to the held state.
	Update(fn func(*model.State))
	// Reset clears every field.
	Reset()
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	state model.State
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Snapshot() model.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

func (m *Memory) Update(fn func(*model.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = model.State{}
}
