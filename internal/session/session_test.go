package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/eventstore"
)

var errStoreDown = errors.New("store is down")

type fakePlayer struct {
	info entity.Player

	mu       sync.Mutex
	received []entity.GameMove
}

func (that *fakePlayer) Info(_ context.Context) (entity.Player, error) {
	return that.info, nil
}

func (that *fakePlayer) OpponentMoved(_ context.Context, move entity.GameMove) error {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.received = append(that.received, move)
	return nil
}

func (that *fakePlayer) receivedMoves() int {
	that.mu.Lock()
	defer that.mu.Unlock()
	return len(that.received)
}

type fakeLobby struct {
	mu          sync.Mutex
	completions int
}

func (that *fakeLobby) SessionCompleted(_ context.Context, _ *Session) error {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.completions++
	return nil
}

func (that *fakeLobby) completed() int {
	that.mu.Lock()
	defer that.mu.Unlock()
	return that.completions
}

type failingStore struct {
	*eventstore.MemoryStore
}

func (that *failingStore) AppendEvent(_ context.Context, _ string, _ eventstore.Event) error {
	return errStoreDown
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestSession(t *testing.T, store eventstore.Store) (*Session, *fakeLobby, *fakePlayer, *fakePlayer) {
	t.Helper()

	playerOne := &fakePlayer{info: entity.Player{PlayerID: "p1", Name: "Alice", Team: entity.TeamA}}
	playerTwo := &fakePlayer{info: entity.Player{PlayerID: "p2", Name: "Bob", Team: entity.TeamB}}
	coordinator := &fakeLobby{}

	instance, err := New(context.Background(), testLogger(), coordinator, store, "session-1", playerOne, playerTwo)
	require.NoError(t, err)

	return instance, coordinator, playerOne, playerTwo
}

// moverAndOpponent orders the fakes so the first return value is whoever has
// the turn right now.
func moverAndOpponent(instance *Session, playerOne, playerTwo *fakePlayer) (*fakePlayer, *fakePlayer) {
	state := instance.GetCurrentInfo(context.Background())
	if state.CurrentPlayerID == playerOne.info.PlayerID {
		return playerOne, playerTwo
	}
	return playerTwo, playerOne
}

func moveAt(player *fakePlayer, position int) entity.GameMove {
	return entity.GameMove{PlayerID: player.info.PlayerID, Position: position, Team: player.info.Team}
}

func TestSession_PlayerMoved(t *testing.T) {
	ctx := context.Background()

	t.Run("Accepts the current player's move and flips the turn", func(t *testing.T) {
		// Given: a fresh session
		store := eventstore.NewMemoryStore()
		instance, _, playerOne, playerTwo := newTestSession(t, store)
		mover, opponent := moverAndOpponent(instance, playerOne, playerTwo)

		// When: the current player marks the center
		err := instance.PlayerMoved(ctx, mover, moveAt(mover, 4))

		// Then: the move is applied, persisted, and pushed to the opponent
		require.NoError(t, err)

		state := instance.GetCurrentInfo(ctx)
		assert.Equal(t, 1, state.MovesMade())
		assert.Equal(t, opponent.info.PlayerID, state.CurrentPlayerID)

		events, err := store.Events(ctx, "session-1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, 4, events[0].Move.Position)

		require.Eventually(t, func() bool {
			return opponent.receivedMoves() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Rejects a move out of turn without side effects", func(t *testing.T) {
		// Given: a fresh session
		store := eventstore.NewMemoryStore()
		instance, _, playerOne, playerTwo := newTestSession(t, store)
		mover, opponent := moverAndOpponent(instance, playerOne, playerTwo)

		// When: the opponent moves although it is not their turn
		err := instance.PlayerMoved(ctx, opponent, moveAt(opponent, 4))

		// Then: the move is rejected, the board and log are unchanged
		assert.ErrorIs(t, err, apperror.ErrIllegalMove)

		state := instance.GetCurrentInfo(ctx)
		assert.Zero(t, state.MovesMade())
		assert.Equal(t, mover.info.PlayerID, state.CurrentPlayerID)

		events, err := store.Events(ctx, "session-1")
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Zero(t, mover.receivedMoves())
	})

	t.Run("Rejects a duplicate position", func(t *testing.T) {
		store := eventstore.NewMemoryStore()
		instance, _, playerOne, playerTwo := newTestSession(t, store)
		mover, opponent := moverAndOpponent(instance, playerOne, playerTwo)

		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 4)))

		err := instance.PlayerMoved(ctx, opponent, moveAt(opponent, 4))

		assert.ErrorIs(t, err, apperror.ErrIllegalMove)
		state := instance.GetCurrentInfo(ctx)
		assert.Equal(t, 1, state.MovesMade())
	})

	t.Run("A failed append never reaches memory", func(t *testing.T) {
		// Given: a store that rejects every append
		store := &failingStore{MemoryStore: eventstore.NewMemoryStore()}
		instance, _, playerOne, playerTwo := newTestSession(t, store)
		mover, _ := moverAndOpponent(instance, playerOne, playerTwo)

		// When: the current player moves
		err := instance.PlayerMoved(ctx, mover, moveAt(mover, 4))

		// Then: the move fails and the in-memory state is untouched
		require.ErrorIs(t, err, errStoreDown)
		state := instance.GetCurrentInfo(ctx)
		assert.Zero(t, state.MovesMade())
		assert.Equal(t, mover.info.PlayerID, state.CurrentPlayerID)
	})

	t.Run("Completion notifies the coordinator exactly once and ends the match", func(t *testing.T) {
		// Given: a session played to a win for the first mover
		store := eventstore.NewMemoryStore()
		instance, coordinator, playerOne, playerTwo := newTestSession(t, store)
		mover, opponent := moverAndOpponent(instance, playerOne, playerTwo)

		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 0)))
		require.NoError(t, instance.PlayerMoved(ctx, opponent, moveAt(opponent, 3)))
		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 1)))
		require.NoError(t, instance.PlayerMoved(ctx, opponent, moveAt(opponent, 4)))

		// When: the winning move lands
		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 2)))

		// Then: the result is a win, reported exactly once
		state := instance.GetCurrentInfo(ctx)
		require.NotNil(t, state.Result)
		require.NotNil(t, state.Result.Winner)
		assert.Equal(t, mover.info.PlayerID, state.Result.Winner.PlayerID)
		assert.Equal(t, 1, coordinator.completed())

		// And: any further move is rejected with the board unchanged
		err := instance.PlayerMoved(ctx, opponent, moveAt(opponent, 8))
		require.Error(t, err)
		finalState := instance.GetCurrentInfo(ctx)
		assert.Equal(t, 5, finalState.MovesMade())
		assert.Equal(t, 1, coordinator.completed())
	})
}

func TestSession_Replay(t *testing.T) {
	ctx := context.Background()

	t.Run("Replaying the log reproduces the live state", func(t *testing.T) {
		// Given: a session with a few accepted moves
		store := eventstore.NewMemoryStore()
		instance, coordinator, playerOne, playerTwo := newTestSession(t, store)
		mover, opponent := moverAndOpponent(instance, playerOne, playerTwo)

		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 4)))
		require.NoError(t, instance.PlayerMoved(ctx, opponent, moveAt(opponent, 0)))
		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 8)))

		// When: a new session is rebuilt from the same log
		resumed, err := Resume(ctx, testLogger(), coordinator, store, "session-1", playerOne, playerTwo)
		require.NoError(t, err)

		// Then: moves, turn, and result all match the live state
		live := instance.GetCurrentInfo(ctx)
		replayed := resumed.GetCurrentInfo(ctx)
		assert.Equal(t, live.Moves, replayed.Moves)
		assert.Equal(t, live.CurrentPlayerID, replayed.CurrentPlayerID)
		assert.Equal(t, live.Result, replayed.Result)
	})

	t.Run("Replaying a finished game restores the result without re-notifying", func(t *testing.T) {
		// Given: a log of a full win
		store := eventstore.NewMemoryStore()
		instance, coordinator, playerOne, playerTwo := newTestSession(t, store)
		mover, opponent := moverAndOpponent(instance, playerOne, playerTwo)

		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 0)))
		require.NoError(t, instance.PlayerMoved(ctx, opponent, moveAt(opponent, 3)))
		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 1)))
		require.NoError(t, instance.PlayerMoved(ctx, opponent, moveAt(opponent, 4)))
		require.NoError(t, instance.PlayerMoved(ctx, mover, moveAt(mover, 2)))

		// When: the session is rebuilt
		resumed, err := Resume(ctx, testLogger(), coordinator, store, "session-1", playerOne, playerTwo)
		require.NoError(t, err)

		// Then: the derived result equals the live one, and replay itself
		// triggered no extra completion
		replayed := resumed.GetCurrentInfo(ctx)
		require.NotNil(t, replayed.Result)
		assert.Equal(t, instance.GetCurrentInfo(ctx).Result, replayed.Result)
		assert.Equal(t, 1, coordinator.completed())

		// And: the resumed session also rejects further moves
		err = resumed.PlayerMoved(ctx, opponent, moveAt(opponent, 8))
		require.Error(t, err)
	})
}
