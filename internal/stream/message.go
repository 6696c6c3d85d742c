package stream

import (
	"github.com/akbashev/tictacfish-backend/internal/entity"
)

// Message is implemented by every inbound wire type so the channel can absorb
// heartbeats before dispatching to the handler.
type Message interface {
	IsHeartbeat() bool
}

// Heartbeat is a no-op record proving the channel is alive.
type Heartbeat struct{}

// PlayerLobbyMessage is what a client sends over the lobby channel: exactly
// one of the fields is set.
type PlayerLobbyMessage struct {
	StatusUpdate *entity.PlayerStatusUpdate `json:"statusUpdate,omitempty"`
	Heartbeat    *Heartbeat                 `json:"heartbeat,omitempty"`
}

func (that PlayerLobbyMessage) IsHeartbeat() bool { return that.Heartbeat != nil }

type SessionStatus string

const (
	SessionStarted  SessionStatus = "started"
	SessionFinished SessionStatus = "finished"
)

// SessionStatusUpdate tells a lobby client that a match started or finished.
type SessionStatusUpdate struct {
	Type SessionStatus    `json:"type"`
	Game entity.GameState `json:"game"`
}

// LobbyMessage is what the server sends over the lobby channel: exactly one
// of the fields is set.
type LobbyMessage struct {
	StatusUpdate  *entity.PlayerStatusUpdate `json:"statusUpdate,omitempty"`
	SessionUpdate *SessionStatusUpdate       `json:"sessionUpdate,omitempty"`
	LobbyState    *entity.LobbyState         `json:"lobbyState,omitempty"`
}

// PlayerSessionMessage is what a client sends over the session channel.
type PlayerSessionMessage struct {
	Move      *entity.GameMove `json:"move,omitempty"`
	Heartbeat *Heartbeat       `json:"heartbeat,omitempty"`
}

func (that PlayerSessionMessage) IsHeartbeat() bool { return that.Heartbeat != nil }

// SessionMessage is what the server sends over the session channel.
type SessionMessage struct {
	Move entity.GameMove `json:"move"`
}
