package eventstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
)

// MemoryStore keeps event logs and documents in process memory. It is used
// for tests and for running without Redis.
type MemoryStore struct {
	mu        sync.Mutex
	events    map[string][]Event
	documents map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]Event),
		documents: make(map[string][]byte),
	}
}

func (that *MemoryStore) AppendEvent(_ context.Context, id string, event Event) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events[id] = append(that.events[id], event)

	return nil
}

func (that *MemoryStore) Events(_ context.Context, id string) ([]Event, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return append([]Event(nil), that.events[id]...), nil
}

func (that *MemoryStore) SaveDocument(_ context.Context, id string, document []byte) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.documents[id]; ok {
		return fmt.Errorf("%w: %s", apperror.ErrDocumentAlreadyExists, id)
	}

	that.documents[id] = append([]byte(nil), document...)

	return nil
}

func (that *MemoryStore) Document(_ context.Context, id string) ([]byte, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	document, ok := that.documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrDocumentNotFound, id)
	}

	return append([]byte(nil), document...), nil
}
