package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
	"github.com/akbashev/tictacfish-backend/internal/entity"
	"github.com/akbashev/tictacfish-backend/internal/lobby"
	"github.com/akbashev/tictacfish-backend/internal/session"
	"github.com/akbashev/tictacfish-backend/internal/stream"
)

// LobbyChannel and SessionChannel are the two stream slots a proxy can hold.
type (
	LobbyChannel   = stream.Server[stream.PlayerLobbyMessage, stream.LobbyMessage]
	SessionChannel = stream.Server[stream.PlayerSessionMessage, stream.SessionMessage]
)

// Match is the proxy's view of the session it currently plays in.
type Match interface {
	PlayerMoved(ctx context.Context, player session.PlayerRef, move entity.GameMove) error
	GetCurrentInfo(ctx context.Context) entity.GameState
}

// Proxy is the logical, identity-addressed representation of one player. It
// survives reconnects: physical connections come and go, the proxy stays.
// It holds at most one live lobby channel and one live session channel, and
// routes between the channels and the lobby/session on the other side.
type Proxy struct {
	logger *slog.Logger
	info   entity.Player
	lobby  *lobby.Lobby

	mu             sync.Mutex
	joined         bool
	session        Match
	lobbyChannel   *LobbyChannel
	sessionChannel *SessionChannel
}

func newProxy(logger *slog.Logger, info entity.Player, coordinator *lobby.Lobby) *Proxy {
	return &Proxy{
		logger: logger.With("component", "player", "playerID", info.PlayerID),
		info:   info,
		lobby:  coordinator,
	}
}

// Info returns the immutable player record.
func (that *Proxy) Info(_ context.Context) (entity.Player, error) {
	return that.info, nil
}

// JoinLobby registers with the coordinator and pushes a lobby snapshot to
// the attached channel. Idempotent from the caller's perspective.
func (that *Proxy) JoinLobby(ctx context.Context) error {
	that.mu.Lock()
	alreadyJoined := that.joined
	that.joined = true
	that.mu.Unlock()

	if alreadyJoined {
		that.logger.Debug("already registered with the lobby")
		return nil
	}

	if err := that.lobby.Join(ctx, that); err != nil {
		that.mu.Lock()
		that.joined = false
		that.mu.Unlock()
		return fmt.Errorf("failed to join lobby: %w", err)
	}

	snapshot := that.lobby.GetCurrentInfo(ctx)
	that.sendLobbyMessage(stream.LobbyMessage{LobbyState: &snapshot})

	return nil
}

func (that *Proxy) SetReady(ctx context.Context) error {
	that.mu.Lock()
	joined := that.joined
	that.mu.Unlock()

	if !joined {
		return nil
	}

	if err := that.lobby.SetReady(ctx, that); err != nil {
		return fmt.Errorf("failed to set ready: %w", err)
	}

	return nil
}

func (that *Proxy) LeaveLobby(ctx context.Context) error {
	that.mu.Lock()
	joined := that.joined
	that.joined = false
	that.mu.Unlock()

	if !joined {
		return nil
	}

	if err := that.lobby.Disconnect(ctx, that); err != nil {
		return fmt.Errorf("failed to leave lobby: %w", err)
	}

	return nil
}

// MakeMove forwards a move to the attached session, if any.
func (that *Proxy) MakeMove(ctx context.Context, move entity.GameMove) error {
	that.mu.Lock()
	match := that.session
	that.mu.Unlock()

	if match == nil {
		that.logger.Debug("no session attached, dropping move")
		return nil
	}

	move.PlayerID = that.info.PlayerID
	move.Team = that.info.Team

	if err := match.PlayerMoved(ctx, that, move); err != nil {
		return fmt.Errorf("move rejected: %w", err)
	}

	return nil
}

// SessionStarted attaches the session and announces it on the lobby channel.
func (that *Proxy) SessionStarted(ctx context.Context, started *session.Session) error {
	state := started.GetCurrentInfo(ctx)

	that.mu.Lock()
	that.session = started
	that.mu.Unlock()

	that.sendLobbyMessage(stream.LobbyMessage{
		SessionUpdate: &stream.SessionStatusUpdate{Type: stream.SessionStarted, Game: state},
	})

	return nil
}

// SessionFinished detaches the session and announces the final state.
func (that *Proxy) SessionFinished(ctx context.Context, finished *session.Session) error {
	state := finished.GetCurrentInfo(ctx)

	that.mu.Lock()
	that.session = nil
	that.mu.Unlock()

	that.sendLobbyMessage(stream.LobbyMessage{
		SessionUpdate: &stream.SessionStatusUpdate{Type: stream.SessionFinished, Game: state},
	})

	return nil
}

// OpponentMoved streams the opponent's move over the session channel.
func (that *Proxy) OpponentMoved(_ context.Context, move entity.GameMove) error {
	that.sendSessionMessage(stream.SessionMessage{Move: move})
	return nil
}

// PlayerChangedStatus streams another player's status over the lobby channel.
func (that *Proxy) PlayerChangedStatus(_ context.Context, update entity.PlayerStatusUpdate) error {
	that.sendLobbyMessage(stream.LobbyMessage{StatusUpdate: &update})
	return nil
}

// SessionStatusChanged streams a bystander notice about someone else's match.
func (that *Proxy) SessionStatusChanged(_ context.Context, update stream.SessionStatusUpdate) error {
	that.sendLobbyMessage(stream.LobbyMessage{SessionUpdate: &update})
	return nil
}

// ConnectLobby attaches a lobby channel. At most one live channel per slot:
// attaching while the slot is occupied is rejected.
func (that *Proxy) ConnectLobby(channel *LobbyChannel) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.lobbyChannel != nil {
		return fmt.Errorf("%w: lobby", apperror.ErrChannelOccupied)
	}

	that.lobbyChannel = channel
	that.logger.Info("lobby channel attached")

	return nil
}

// ConnectSession attaches a session channel, same single-slot rule.
func (that *Proxy) ConnectSession(channel *SessionChannel) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.sessionChannel != nil {
		return fmt.Errorf("%w: session", apperror.ErrChannelOccupied)
	}

	that.sessionChannel = channel
	that.logger.Info("session channel attached")

	return nil
}

// DisconnectLobby detaches the lobby channel if it is the current one, and
// withdraws the player from the lobby.
func (that *Proxy) DisconnectLobby(channel *LobbyChannel) {
	that.mu.Lock()
	if that.lobbyChannel != channel {
		that.mu.Unlock()
		return
	}
	that.lobbyChannel = nil
	that.mu.Unlock()

	that.logger.Info("lobby channel detached")

	go func() {
		if err := that.LeaveLobby(context.Background()); err != nil {
			that.logger.Error("failed to leave lobby on disconnect", "error", err)
		}
	}()
}

// DisconnectSession detaches the session channel if it is the current one.
func (that *Proxy) DisconnectSession(channel *SessionChannel) {
	that.mu.Lock()
	if that.sessionChannel != channel {
		that.mu.Unlock()
		return
	}
	that.sessionChannel = nil
	that.mu.Unlock()

	that.logger.Info("session channel detached")
}

// LobbyHandler adapts the proxy to the lobby channel's stream callbacks.
func (that *Proxy) LobbyHandler() stream.Handler[stream.PlayerLobbyMessage, stream.LobbyMessage] {
	return lobbyHandler{proxy: that}
}

// SessionHandler adapts the proxy to the session channel's stream callbacks.
func (that *Proxy) SessionHandler() stream.Handler[stream.PlayerSessionMessage, stream.SessionMessage] {
	return sessionHandler{proxy: that}
}

func (that *Proxy) handleLobbyMessage(ctx context.Context, message stream.PlayerLobbyMessage) error {
	if message.StatusUpdate == nil {
		return nil
	}

	switch message.StatusUpdate.Status {
	case entity.StatusConnect:
		return that.JoinLobby(ctx)
	case entity.StatusReady:
		return that.SetReady(ctx)
	case entity.StatusDisconnect:
		return that.LeaveLobby(ctx)
	default:
		that.logger.Warn("unknown status in lobby message", "status", message.StatusUpdate.Status)
		return nil
	}
}

func (that *Proxy) handleSessionMessage(ctx context.Context, message stream.PlayerSessionMessage) error {
	if message.Move == nil {
		return nil
	}

	return that.MakeMove(ctx, *message.Move)
}

// Outbound sends are fire and forget: a failed or missing channel is logged,
// never propagated.
func (that *Proxy) sendLobbyMessage(message stream.LobbyMessage) {
	that.mu.Lock()
	channel := that.lobbyChannel
	that.mu.Unlock()

	if channel == nil {
		that.logger.Debug("no lobby channel attached, dropping message")
		return
	}

	if err := channel.SendMessage(message); err != nil {
		that.logger.Error("failed to send lobby message", "error", err)
	}
}

func (that *Proxy) sendSessionMessage(message stream.SessionMessage) {
	that.mu.Lock()
	channel := that.sessionChannel
	that.mu.Unlock()

	if channel == nil {
		that.logger.Debug("no session channel attached, dropping message")
		return
	}

	if err := channel.SendMessage(message); err != nil {
		that.logger.Error("failed to send session message", "error", err)
	}
}

type lobbyHandler struct {
	proxy *Proxy
}

func (that lobbyHandler) Handle(ctx context.Context, message stream.PlayerLobbyMessage) error {
	return that.proxy.handleLobbyMessage(ctx, message)
}

func (that lobbyHandler) Disconnected(channel *LobbyChannel) {
	that.proxy.DisconnectLobby(channel)
}

type sessionHandler struct {
	proxy *Proxy
}

func (that sessionHandler) Handle(ctx context.Context, message stream.PlayerSessionMessage) error {
	return that.proxy.handleSessionMessage(ctx, message)
}

func (that sessionHandler) Disconnected(channel *SessionChannel) {
	that.proxy.DisconnectSession(channel)
}
