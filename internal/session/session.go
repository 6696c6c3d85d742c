package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/eventstore"
)

// PlayerRef is the session's view of a player proxy. It hides whether the
// proxy is local or remote.
type PlayerRef interface {
	Info(ctx context.Context) (entity.Player, error)
	OpponentMoved(ctx context.Context, move entity.GameMove) error
}

// Coordinator hears about a session reaching its terminal state.
type Coordinator interface {
	SessionCompleted(ctx context.Context, session *Session) error
}

// Session owns the authoritative state of one match. All mutations are
// serialized; moves are appended to the event store before they are applied
// in memory, so replaying the log always reproduces the live state.
type Session struct {
	logger *slog.Logger
	lobby  Coordinator
	store  eventstore.Store

	playerOne PlayerRef
	playerTwo PlayerRef

	mu        sync.Mutex
	state     entity.GameState
	completed bool
}

// New creates a session for a freshly paired match. The first mover is
// picked at random between the two players.
func New(
	ctx context.Context,
	logger *slog.Logger,
	lobby Coordinator,
	store eventstore.Store,
	sessionID string,
	playerOne, playerTwo PlayerRef,
) (*Session, error) {
	playerOneInfo, err := playerOne.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player one info: %w", err)
	}

	playerTwoInfo, err := playerTwo.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player two info: %w", err)
	}

	currentPlayerID := playerOneInfo.PlayerID
	if rand.Intn(2) == 1 { //nolint:gosec // not security sensitive
		currentPlayerID = playerTwoInfo.PlayerID
	}

	return &Session{
		logger:    logger.With("component", "session", "sessionID", sessionID),
		lobby:     lobby,
		store:     store,
		playerOne: playerOne,
		playerTwo: playerTwo,
		state:     entity.NewGameState(sessionID, playerOneInfo, playerTwoInfo, currentPlayerID),
	}, nil
}

// Resume rebuilds a session from its persisted event log by replaying every
// move through the same mutation routine used for live moves. With an empty
// log the first mover defaults to player one.
func Resume(
	ctx context.Context,
	logger *slog.Logger,
	lobby Coordinator,
	store eventstore.Store,
	sessionID string,
	playerOne, playerTwo PlayerRef,
) (*Session, error) {
	playerOneInfo, err := playerOne.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player one info: %w", err)
	}

	playerTwoInfo, err := playerTwo.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player two info: %w", err)
	}

	events, err := store.Events(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	state := entity.NewGameState(sessionID, playerOneInfo, playerTwoInfo, playerOneInfo.PlayerID)
	for _, event := range events {
		if err = state.Mark(event.Move); err != nil {
			return nil, fmt.Errorf("failed to replay event: %w", err)
		}
	}

	return &Session{
		logger:    logger.With("component", "session", "sessionID", sessionID),
		lobby:     lobby,
		store:     store,
		playerOne: playerOne,
		playerTwo: playerTwo,
		state:     state,
		completed: state.Result != nil,
	}, nil
}

// PlayerMoved accepts one move from the given player. The move is rejected
// when it is not that player's turn; otherwise it is persisted, applied,
// pushed to the opponent, and the coordinator is told once the result is in.
func (that *Session) PlayerMoved(ctx context.Context, player PlayerRef, move entity.GameMove) error {
	info, err := player.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get player info: %w", err)
	}

	that.mu.Lock()

	if info.PlayerID != that.state.CurrentPlayerID {
		that.mu.Unlock()
		return fmt.Errorf("%w: it is not %s's turn", apperror.ErrIllegalMove, info.PlayerID)
	}

	// Validate against a scratch copy first: an illegal move must never
	// reach the log, and an append failure must never reach memory.
	next := that.state.Clone()
	if err = next.Mark(move); err != nil {
		that.mu.Unlock()
		return err
	}

	if err = that.store.AppendEvent(ctx, that.state.SessionID, eventstore.Event{Move: move}); err != nil {
		that.mu.Unlock()
		return fmt.Errorf("failed to persist move: %w", err)
	}

	that.state = next

	finished := next.Result != nil && !that.completed
	if finished {
		that.completed = true
	}

	opponent := that.playerTwo
	if info.PlayerID == that.state.PlayerTwo.PlayerID {
		opponent = that.playerOne
	}

	that.mu.Unlock()

	go func() {
		if notifyErr := opponent.OpponentMoved(context.WithoutCancel(ctx), move); notifyErr != nil {
			that.logger.Error("failed to forward move to opponent", "error", notifyErr)
		}
	}()

	if finished {
		if completeErr := that.lobby.SessionCompleted(ctx, that); completeErr != nil {
			that.logger.Error("failed to notify lobby about completion", "error", completeErr)
		}
	}

	return nil
}

// GetCurrentInfo returns a read-only snapshot of the game state.
func (that *Session) GetCurrentInfo(_ context.Context) entity.GameState {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.state.Clone()
}

// Players returns the two participants in creation order.
func (that *Session) Players() (PlayerRef, PlayerRef) {
	return that.playerOne, that.playerTwo
}
