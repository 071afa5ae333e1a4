// internal/store/memory.go
//
// Participant registry persistence.
// The engine keeps the live participant set in memory; a Store lets the
// registry (ids, names, PIN hashes, program text) outlive the process.
// Pieces and board state are never persisted.
//
// Characteristics of the memory implementation:
//   - Records keyed by participant id in a map.
//   - Concurrency-safe via RWMutex.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a participant id is unknown.
var ErrNotFound = errors.New("not found")

// Participant is the persisted shape of a participant.
type Participant struct {
	ID        string
	Name      string
	PinHash   string
	Program   string
	CreatedAt time.Time
}

// Store defines the persistence interface for the participant registry.
type Store interface {
	// SaveParticipant inserts or replaces a record.
	SaveParticipant(ctx context.Context, p Participant) error

	// GetParticipant loads one record by id.
	GetParticipant(ctx context.Context, id string) (Participant, error)

	// ListParticipants returns every record, oldest first.
	ListParticipants(ctx context.Context) ([]Participant, error)

	// DeleteParticipant removes a record. Deleting a missing id is not an error.
	DeleteParticipant(ctx context.Context, id string) error
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu    sync.RWMutex
	items map[string]Participant
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{items: make(map[string]Participant)}
}

func (m *memory) SaveParticipant(ctx context.Context, p Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.ID] = p
	return nil
}

func (m *memory) GetParticipant(ctx context.Context, id string) (Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.items[id]; ok {
		return p, nil
	}
	return Participant{}, ErrNotFound
}

func (m *memory) ListParticipants(ctx context.Context) ([]Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Participant, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memory) DeleteParticipant(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}
