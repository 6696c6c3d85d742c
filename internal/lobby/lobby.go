package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/eventstore"
	"github.com/akbashev/tictacfish-backend/internal/session"
	"github.com/akbashev/tictacfish-backend/internal/stream"
)

var errNoOpponent = errors.New("no opponent available")

// PlayerRef is the lobby's view of a player proxy. The method set covers
// session.PlayerRef, so a paired player can be handed to a session directly.
type PlayerRef interface {
	Info(ctx context.Context) (entity.Player, error)
	SessionStarted(ctx context.Context, session *session.Session) error
	SessionFinished(ctx context.Context, session *session.Session) error
	OpponentMoved(ctx context.Context, move entity.GameMove) error
	PlayerChangedStatus(ctx context.Context, update entity.PlayerStatusUpdate) error
	SessionStatusChanged(ctx context.Context, update stream.SessionStatusUpdate) error
}

type searchTask struct {
	cancel context.CancelFunc
}

// Lobby is the matchmaking coordinator, one logical instance for the whole
// system. It owns the waiting and ready sets, the in-progress sessions, the
// completed-session history, and one cancellable opponent search per ready
// player.
type Lobby struct {
	logger        *slog.Logger
	store         eventstore.Store
	searchBackoff time.Duration

	// background searches outlive the calls that spawn them, so they hang
	// off the lobby's own context rather than a request context
	ctx context.Context

	mu        sync.Mutex
	waiting   map[string]PlayerRef
	ready     map[string]PlayerRef
	sessions  map[string]*session.Session
	completed []entity.GameState
	searches  map[string]*searchTask
}

func New(ctx context.Context, logger *slog.Logger, store eventstore.Store, searchBackoff time.Duration) *Lobby {
	return &Lobby{
		logger:        logger.With("component", "lobby"),
		store:         store,
		searchBackoff: searchBackoff,
		ctx:           ctx,
		waiting:       make(map[string]PlayerRef),
		ready:         make(map[string]PlayerRef),
		sessions:      make(map[string]*session.Session),
		searches:      make(map[string]*searchTask),
	}
}

// Join admits a player to the waiting set. No-op if already waiting.
func (that *Lobby) Join(ctx context.Context, player PlayerRef) error {
	info, err := player.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get player info: %w", err)
	}

	that.mu.Lock()
	if _, ok := that.waiting[info.PlayerID]; ok {
		that.mu.Unlock()
		that.logger.Debug("player is already waiting", "playerID", info.PlayerID)
		return nil
	}

	delete(that.ready, info.PlayerID)
	that.cancelSearchLocked(info.PlayerID)
	that.waiting[info.PlayerID] = player
	others := that.trackedPlayersLocked(info.PlayerID)
	that.mu.Unlock()

	that.logger.Info("player joined lobby", "playerID", info.PlayerID)
	that.notifyPlayerUpdate(others, entity.PlayerStatusUpdate{Player: info, Status: entity.StatusConnect})

	return nil
}

// SetReady moves a player to the ready set and triggers an opponent search.
// Re-triggering while a search is in flight replaces it instead of spawning
// a duplicate.
func (that *Lobby) SetReady(ctx context.Context, player PlayerRef) error {
	info, err := player.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get player info: %w", err)
	}

	that.mu.Lock()
	if _, ok := that.ready[info.PlayerID]; ok {
		that.mu.Unlock()
		that.logger.Debug("player is already ready", "playerID", info.PlayerID)
		return nil
	}

	delete(that.waiting, info.PlayerID)
	that.ready[info.PlayerID] = player

	that.cancelSearchLocked(info.PlayerID)
	searchCtx, cancel := context.WithCancel(that.ctx)
	task := &searchTask{cancel: cancel}
	that.searches[info.PlayerID] = task

	others := that.trackedPlayersLocked(info.PlayerID)
	that.mu.Unlock()

	that.logger.Info("player is ready", "playerID", info.PlayerID)
	that.notifyPlayerUpdate(others, entity.PlayerStatusUpdate{Player: info, Status: entity.StatusReady})

	go that.findOpponent(searchCtx, task, player, info)

	return nil
}

// Disconnect removes a player from both sets and cancels any in-flight
// search for it.
func (that *Lobby) Disconnect(ctx context.Context, player PlayerRef) error {
	info, err := player.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get player info: %w", err)
	}

	that.mu.Lock()
	delete(that.waiting, info.PlayerID)
	delete(that.ready, info.PlayerID)
	that.cancelSearchLocked(info.PlayerID)
	others := that.trackedPlayersLocked(info.PlayerID)
	that.mu.Unlock()

	that.logger.Info("player disconnected", "playerID", info.PlayerID)
	that.notifyPlayerUpdate(others, entity.PlayerStatusUpdate{Player: info, Status: entity.StatusDisconnect})

	return nil
}

// SessionCompleted archives a finished session and re-admits both players to
// the waiting set. Safe against duplicate notifications.
func (that *Lobby) SessionCompleted(ctx context.Context, finished *session.Session) error {
	state := finished.GetCurrentInfo(ctx)

	that.mu.Lock()
	if _, ok := that.sessions[state.SessionID]; !ok {
		that.mu.Unlock()
		that.logger.Debug("session is not active, skipping", "sessionID", state.SessionID)
		return nil
	}
	delete(that.sessions, state.SessionID)
	that.completed = append(that.completed, state)
	that.mu.Unlock()

	that.archiveSession(ctx, state)

	playerOne, playerTwo := finished.Players()
	for _, player := range []session.PlayerRef{playerOne, playerTwo} {
		ref, ok := player.(PlayerRef)
		if !ok {
			continue
		}

		if err := ref.SessionFinished(ctx, finished); err != nil {
			that.logger.Error("failed to notify player about finished session", "error", err)
		}

		info, err := ref.Info(ctx)
		if err != nil {
			that.logger.Error("failed to get player info", "error", err)
			continue
		}

		that.mu.Lock()
		that.waiting[info.PlayerID] = ref
		others := that.trackedPlayersLocked(info.PlayerID)
		that.mu.Unlock()

		that.notifyPlayerUpdate(others, entity.PlayerStatusUpdate{Player: info, Status: entity.StatusConnect})
	}

	that.notifySessionUpdate(stream.SessionFinished, state)

	that.logger.Info("session completed", "sessionID", state.SessionID)

	return nil
}

// GetCurrentInfo builds a consistent snapshot of the lobby. Player info is
// fetched concurrently; a proxy that fails to respond is excluded rather
// than failing the whole call.
func (that *Lobby) GetCurrentInfo(ctx context.Context) entity.LobbyState {
	that.mu.Lock()
	waiting := make([]PlayerRef, 0, len(that.waiting))
	for _, player := range that.waiting {
		waiting = append(waiting, player)
	}
	ready := make([]PlayerRef, 0, len(that.ready))
	for _, player := range that.ready {
		ready = append(ready, player)
	}
	completed := make([]entity.GameState, len(that.completed))
	copy(completed, that.completed)
	that.mu.Unlock()

	return entity.LobbyState{
		WaitingPlayers:    that.collectInfo(ctx, waiting),
		ReadyPlayers:      that.collectInfo(ctx, ready),
		CompletedSessions: completed,
	}
}

func (that *Lobby) collectInfo(ctx context.Context, players []PlayerRef) []entity.Player {
	var mu sync.Mutex
	infos := make([]entity.Player, 0, len(players))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, player := range players {
		group.Go(func() error {
			info, err := player.Info(groupCtx)
			if err != nil {
				that.logger.Debug("excluding unresponsive player from snapshot", "error", err)
				return nil
			}

			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()

			return nil
		})
	}
	_ = group.Wait()

	return infos
}

// findOpponent keeps looking for an opposite-team ready player, sleeping the
// configured backoff between attempts, until paired or cancelled.
func (that *Lobby) findOpponent(ctx context.Context, task *searchTask, player PlayerRef, info entity.Player) {
	defer func() {
		that.mu.Lock()
		if that.searches[info.PlayerID] == task {
			delete(that.searches, info.PlayerID)
		}
		that.mu.Unlock()
	}()

	operation := func() error {
		opponent, err := that.pickOpponent(ctx, info)
		if err != nil {
			return err
		}

		if err = that.startSession(ctx, player, info, opponent); err != nil {
			if errors.Is(err, errNoOpponent) {
				return err
			}
			return backoff.Permanent(err)
		}

		return nil
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(that.searchBackoff), ctx)
	if err := backoff.Retry(operation, policy); err != nil && !errors.Is(err, context.Canceled) {
		that.logger.Error("opponent search stopped", "playerID", info.PlayerID, "error", err)
	}
}

// pickOpponent fans out over the current ready set, filters for responsive
// opposite-team players still in the set, and picks one at random.
func (that *Lobby) pickOpponent(ctx context.Context, info entity.Player) (PlayerRef, error) {
	that.mu.Lock()
	candidates := make(map[string]PlayerRef, len(that.ready))
	for id, player := range that.ready {
		if id != info.PlayerID {
			candidates[id] = player
		}
	}
	that.mu.Unlock()

	var mu sync.Mutex
	eligible := make([]string, 0, len(candidates))

	group, groupCtx := errgroup.WithContext(ctx)
	for id, candidate := range candidates {
		group.Go(func() error {
			candidateInfo, err := candidate.Info(groupCtx)
			if err != nil || candidateInfo.Team == info.Team {
				return nil
			}

			mu.Lock()
			eligible = append(eligible, id)
			mu.Unlock()

			return nil
		})
	}
	_ = group.Wait()

	that.mu.Lock()
	defer that.mu.Unlock()

	stillReady := make([]PlayerRef, 0, len(eligible))
	for _, id := range eligible {
		if player, ok := that.ready[id]; ok {
			stillReady = append(stillReady, player)
		}
	}

	if len(stillReady) == 0 {
		return nil, errNoOpponent
	}

	return stillReady[rand.Intn(len(stillReady))], nil //nolint:gosec // not security sensitive
}

// startSession pairs the two players: both leave ready-tracking, their
// searches are cancelled, and each gets exactly one sessionStarted notice.
func (that *Lobby) startSession(ctx context.Context, player PlayerRef, info entity.Player, opponent PlayerRef) error {
	opponentInfo, err := opponent.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get opponent info: %w", err)
	}

	sessionID := uuid.NewString()

	newSession, err := session.New(ctx, that.logger, that, that.store, sessionID, player, opponent)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	that.mu.Lock()
	if _, stillReady := that.ready[opponentInfo.PlayerID]; !stillReady {
		that.mu.Unlock()
		return fmt.Errorf("%w: opponent left while pairing", errNoOpponent)
	}
	delete(that.ready, info.PlayerID)
	delete(that.ready, opponentInfo.PlayerID)
	that.cancelSearchLocked(opponentInfo.PlayerID)
	that.sessions[sessionID] = newSession
	that.mu.Unlock()

	if err = player.SessionStarted(ctx, newSession); err != nil {
		that.logger.Error("failed to notify player about session", "playerID", info.PlayerID, "error", err)
	}

	if err = opponent.SessionStarted(ctx, newSession); err != nil {
		that.logger.Error("failed to notify player about session", "playerID", opponentInfo.PlayerID, "error", err)
	}

	that.notifySessionUpdate(stream.SessionStarted, newSession.GetCurrentInfo(ctx))

	that.logger.Info("session started",
		"sessionID", sessionID,
		"playerOne", info.PlayerID,
		"playerTwo", opponentInfo.PlayerID,
	)

	return nil
}

func (that *Lobby) archiveSession(ctx context.Context, state entity.GameState) {
	document, err := json.Marshal(state)
	if err != nil {
		that.logger.Error("failed to marshal session archive", "error", err)
		return
	}

	if err = that.store.SaveDocument(ctx, "session:"+state.SessionID, document); err != nil {
		that.logger.Error("failed to archive session", "sessionID", state.SessionID, "error", err)
	}
}

// notifyPlayerUpdate fans one status change out to every other tracked
// player. Best effort: one failed delivery never blocks the rest.
func (that *Lobby) notifyPlayerUpdate(others []PlayerRef, update entity.PlayerStatusUpdate) {
	go func() {
		var wg sync.WaitGroup
		for _, other := range others {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := other.PlayerChangedStatus(that.ctx, update); err != nil {
					that.logger.Debug("failed to deliver status update", "error", err)
				}
			}()
		}
		wg.Wait()
	}()
}

// notifySessionUpdate tells bystanders a session started or finished.
func (that *Lobby) notifySessionUpdate(status stream.SessionStatus, state entity.GameState) {
	that.mu.Lock()
	others := that.trackedPlayersLocked(state.PlayerOne.PlayerID, state.PlayerTwo.PlayerID)
	that.mu.Unlock()

	update := stream.SessionStatusUpdate{Type: status, Game: state}

	go func() {
		var wg sync.WaitGroup
		for _, other := range others {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := other.SessionStatusChanged(that.ctx, update); err != nil {
					that.logger.Debug("failed to deliver session update", "error", err)
				}
			}()
		}
		wg.Wait()
	}()
}

// trackedPlayersLocked returns waiting+ready players except the given ids.
// Callers must hold the lock.
func (that *Lobby) trackedPlayersLocked(exclude ...string) []PlayerRef {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	others := make([]PlayerRef, 0, len(that.waiting)+len(that.ready))
	for id, player := range that.waiting {
		if !excluded[id] {
			others = append(others, player)
		}
	}
	for id, player := range that.ready {
		if !excluded[id] {
			others = append(others, player)
		}
	}

	return others
}

func (that *Lobby) cancelSearchLocked(playerID string) {
	if task, ok := that.searches[playerID]; ok {
		task.cancel()
		delete(that.searches, playerID)
	}
}
