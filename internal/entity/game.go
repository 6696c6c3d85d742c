package entity

import (
	"fmt"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
)

const BoardSize = 9

var WinPatterns = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{6, 4, 2},
}

// GameMove is one cell claim on the 3x3 board. Immutable once created.
type GameMove struct {
	PlayerID    string `json:"playerId"`
	Position    int    `json:"position"`
	Team        Team   `json:"team"`
	CharacterID int    `json:"characterId"`
}

// GameResult is either a win of one player or a draw. It is always derived
// from the moves, never stored alongside them.
type GameResult struct {
	Winner *Player `json:"winner,omitempty"`
	Draw   bool    `json:"draw,omitempty"`
}

// GameState holds everything there is to know about one match. It is always
// reconstructible by replaying the ordered move log from an empty board.
type GameState struct {
	SessionID       string      `json:"sessionId"`
	PlayerOne       Player      `json:"playerOne"`
	PlayerTwo       Player      `json:"playerTwo"`
	CurrentPlayerID string      `json:"currentPlayerId"`
	Moves           []GameMove  `json:"moves"`
	Result          *GameResult `json:"result,omitempty"`
}

func NewGameState(sessionID string, playerOne, playerTwo Player, currentPlayerID string) GameState {
	return GameState{
		SessionID:       sessionID,
		PlayerOne:       playerOne,
		PlayerTwo:       playerTwo,
		CurrentPlayerID: currentPlayerID,
	}
}

// Mark applies one move to the state. It is the single mutation routine used
// both for live moves and for replaying the persisted log, so a replay always
// reproduces the exact live state.
func (that *GameState) Mark(move GameMove) error {
	if that.Result != nil {
		return apperror.ErrSessionFinished
	}

	if move.Position < 0 || move.Position >= BoardSize {
		return fmt.Errorf("%w: position %d is out of range", apperror.ErrIllegalMove, move.Position)
	}

	if taken := that.At(move.Position); taken != nil {
		return fmt.Errorf("%w: position %d is already occupied", apperror.ErrIllegalMove, move.Position)
	}

	that.Moves = append(that.Moves, move)

	if move.PlayerID != that.PlayerOne.PlayerID {
		that.CurrentPlayerID = that.PlayerOne.PlayerID
	} else {
		that.CurrentPlayerID = that.PlayerTwo.PlayerID
	}

	that.Result = that.checkWin()

	return nil
}

// At returns the move occupying the given position, or nil if it is free.
func (that *GameState) At(position int) *GameMove {
	for i := range that.Moves {
		if that.Moves[i].Position == position {
			return &that.Moves[i]
		}
	}
	return nil
}

func (that *GameState) AvailablePositions() []int {
	available := make([]int, 0, BoardSize)
	for position := range BoardSize {
		if that.At(position) == nil {
			available = append(available, position)
		}
	}
	return available
}

func (that *GameState) MovesMade() int {
	return len(that.Moves)
}

// Clone returns a deep copy so snapshots never alias the live move log.
func (that *GameState) Clone() GameState {
	clone := *that
	clone.Moves = append([]GameMove(nil), that.Moves...)
	if that.Result != nil {
		result := *that.Result
		if that.Result.Winner != nil {
			winner := *that.Result.Winner
			result.Winner = &winner
		}
		clone.Result = &result
	}
	return clone
}

func (that *GameState) checkWin() *GameResult {
	if that.HasWin(that.PlayerOne.PlayerID) {
		winner := that.PlayerOne
		return &GameResult{Winner: &winner}
	}

	if that.HasWin(that.PlayerTwo.PlayerID) {
		winner := that.PlayerTwo
		return &GameResult{Winner: &winner}
	}

	if len(that.AvailablePositions()) == 0 {
		return &GameResult{Draw: true}
	}

	return nil
}

// HasWin reports whether the given player occupies all three positions of
// any of the 8 canonical patterns.
func (that *GameState) HasWin(playerID string) bool {
	occupied := make(map[int]bool, len(that.Moves))
	for _, move := range that.Moves {
		if move.PlayerID == playerID {
			occupied[move.Position] = true
		}
	}

	for _, pattern := range WinPatterns {
		if occupied[pattern[0]] && occupied[pattern[1]] && occupied[pattern[2]] {
			return true
		}
	}

	return false
}
