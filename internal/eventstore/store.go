package eventstore

import (
	"context"

	"github.com/akbashev/tictacfish-backend/internal/entity"
)

// Event is one persisted state change of a session. There is a single
// variant for now: a move made on the board.
type Event struct {
	Move entity.GameMove `json:"move"`
}

// Store is the minimal persistence surface consumed by sessions. Appends are
// order-preserving per id; Events returns the full ordered log for replay.
// The document half archives opaque snapshots keyed by id.
type Store interface {
	AppendEvent(ctx context.Context, id string, event Event) error
	Events(ctx context.Context, id string) ([]Event, error)

	SaveDocument(ctx context.Context, id string, document []byte) error
	Document(ctx context.Context, id string) ([]byte, error)
}
