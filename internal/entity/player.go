package entity

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// Player is the immutable description of one human player. The ID is the
// stable identity that survives reconnects and addresses the player's proxy.
type Player struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Team     Team   `json:"team"`
}

type PlayerStatus string

const (
	StatusConnect    PlayerStatus = "connect"
	StatusReady      PlayerStatus = "ready"
	StatusDisconnect PlayerStatus = "disconnect"
)

// PlayerStatusUpdate announces one player's lobby state change to the others.
type PlayerStatusUpdate struct {
	Player Player       `json:"player"`
	Status PlayerStatus `json:"status"`
}

// LobbyState is a snapshot projection of the coordinator's sets, sent to
// clients. It is not authoritative storage.
type LobbyState struct {
	WaitingPlayers    []Player    `json:"waitingPlayers"`
	ReadyPlayers      []Player    `json:"readyPlayers"`
	CompletedSessions []GameState `json:"completedSessions"`
}
