package entity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akbashev/tictacfish-backend/internal/apperror"
)

var (
	testPlayerOne = Player{PlayerID: "p1", Name: "Alice", Team: TeamA}
	testPlayerTwo = Player{PlayerID: "p2", Name: "Bob", Team: TeamB}
)

func newTestState() GameState {
	return NewGameState("session-1", testPlayerOne, testPlayerTwo, testPlayerOne.PlayerID)
}

func moveFor(player Player, position int) GameMove {
	return GameMove{PlayerID: player.PlayerID, Position: position, Team: player.Team}
}

func TestGameState_Mark(t *testing.T) {
	t.Run("Accepts a move on a free position", func(t *testing.T) {
		// Given: a fresh game with playerOne to move
		state := newTestState()

		// When: playerOne marks the center
		err := state.Mark(moveFor(testPlayerOne, 4))

		// Then: the move is recorded and the turn flips
		require.NoError(t, err)
		assert.Equal(t, 1, state.MovesMade())
		assert.Equal(t, testPlayerTwo.PlayerID, state.CurrentPlayerID)
	})

	t.Run("Rejects a move on an occupied position", func(t *testing.T) {
		// Given: a game where the center is taken
		state := newTestState()
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 4)))

		// When: playerTwo marks the same position
		err := state.Mark(moveFor(testPlayerTwo, 4))

		// Then: the move is rejected and the board is unchanged
		assert.ErrorIs(t, err, apperror.ErrIllegalMove)
		assert.Equal(t, 1, state.MovesMade())
	})

	t.Run("Rejects positions outside the board", func(t *testing.T) {
		state := newTestState()

		assert.ErrorIs(t, state.Mark(moveFor(testPlayerOne, -1)), apperror.ErrIllegalMove)
		assert.ErrorIs(t, state.Mark(moveFor(testPlayerOne, 9)), apperror.ErrIllegalMove)
		assert.Zero(t, state.MovesMade())
	})

	t.Run("Rejects any move after the match is terminal", func(t *testing.T) {
		// Given: playerOne has completed the top row
		state := newTestState()
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 0)))
		require.NoError(t, state.Mark(moveFor(testPlayerTwo, 3)))
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 1)))
		require.NoError(t, state.Mark(moveFor(testPlayerTwo, 4)))
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 2)))
		require.NotNil(t, state.Result)

		// When: playerTwo tries to move on a free position
		err := state.Mark(moveFor(testPlayerTwo, 8))

		// Then: the move is rejected and the log is unchanged
		assert.ErrorIs(t, err, apperror.ErrSessionFinished)
		assert.Equal(t, 5, state.MovesMade())
	})

	t.Run("Turn alternates strictly between the two players", func(t *testing.T) {
		state := newTestState()

		// Diagonal-free sequence so the game never finishes early.
		positions := []int{0, 1, 2, 4, 3}
		players := []Player{testPlayerOne, testPlayerTwo}
		for i, position := range positions {
			mover := players[i%2]
			require.Equal(t, mover.PlayerID, state.CurrentPlayerID)
			require.NoError(t, state.Mark(moveFor(mover, position)))
		}
	})

	t.Run("Marking nine distinct positions never rejects", func(t *testing.T) {
		state := newTestState()

		players := []Player{testPlayerOne, testPlayerTwo}
		for i := range BoardSize {
			err := state.Mark(moveFor(players[i%2], i))
			require.NoError(t, err)
			if state.Result != nil {
				break
			}
		}
	})
}

func TestGameState_WinDetection(t *testing.T) {
	t.Run("Each canonical pattern wins for the player occupying it", func(t *testing.T) {
		for _, pattern := range WinPatterns {
			t.Run(fmt.Sprintf("pattern %v", pattern), func(t *testing.T) {
				// Given: a fresh game
				state := newTestState()

				// When: playerOne fills the pattern while playerTwo fills
				// positions off of it
				fillers := fillerPositions(pattern)
				for i, position := range pattern {
					require.NoError(t, state.Mark(moveFor(testPlayerOne, position)))
					if i < len(pattern)-1 {
						require.NoError(t, state.Mark(moveFor(testPlayerTwo, fillers[i])))
					}
				}

				// Then: the result is a win for playerOne
				require.NotNil(t, state.Result)
				require.NotNil(t, state.Result.Winner)
				assert.Equal(t, testPlayerOne.PlayerID, state.Result.Winner.PlayerID)
				assert.False(t, state.Result.Draw)
			})
		}
	})

	t.Run("Full board with no pattern is a draw", func(t *testing.T) {
		// Given/When: a known drawn sequence
		// p1: 0 1 5 6 8, p2: 4 2 3 7
		state := newTestState()
		sequence := []struct {
			player   Player
			position int
		}{
			{testPlayerOne, 0}, {testPlayerTwo, 4},
			{testPlayerOne, 1}, {testPlayerTwo, 2},
			{testPlayerOne, 5}, {testPlayerTwo, 3},
			{testPlayerOne, 6}, {testPlayerTwo, 7},
			{testPlayerOne, 8},
		}
		for _, step := range sequence {
			require.NoError(t, state.Mark(moveFor(step.player, step.position)))
		}

		// Then: the result is a draw
		require.NotNil(t, state.Result)
		assert.True(t, state.Result.Draw)
		assert.Nil(t, state.Result.Winner)
	})

	t.Run("No result while the game is still open", func(t *testing.T) {
		state := newTestState()
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 0)))
		require.NoError(t, state.Mark(moveFor(testPlayerTwo, 4)))

		assert.Nil(t, state.Result)
	})
}

func TestGameState_Inspection(t *testing.T) {
	t.Run("At returns the occupying move or nil", func(t *testing.T) {
		state := newTestState()
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 4)))

		occupied := state.At(4)
		require.NotNil(t, occupied)
		assert.Equal(t, testPlayerOne.PlayerID, occupied.PlayerID)
		assert.Nil(t, state.At(0))
	})

	t.Run("AvailablePositions shrinks as moves are made", func(t *testing.T) {
		state := newTestState()
		assert.Len(t, state.AvailablePositions(), BoardSize)

		require.NoError(t, state.Mark(moveFor(testPlayerOne, 4)))
		available := state.AvailablePositions()
		assert.Len(t, available, BoardSize-1)
		assert.NotContains(t, available, 4)
	})

	t.Run("Clone does not alias the move log", func(t *testing.T) {
		state := newTestState()
		require.NoError(t, state.Mark(moveFor(testPlayerOne, 0)))

		clone := state.Clone()
		require.NoError(t, state.Mark(moveFor(testPlayerTwo, 1)))

		assert.Equal(t, 1, clone.MovesMade())
		assert.Equal(t, 2, state.MovesMade())
	})
}

// fillerPositions returns positions off the given pattern for the opponent,
// chosen so they never complete a line of their own.
func fillerPositions(pattern [3]int) []int {
	onPattern := map[int]bool{pattern[0]: true, pattern[1]: true, pattern[2]: true}

	free := make([]int, 0, BoardSize)
	for position := range BoardSize {
		if !onPattern[position] {
			free = append(free, position)
		}
	}

	// Two filler moves can only win with a pattern of their own if they plus
	// a third aligned; with two moves that cannot happen.
	return free[:2]
}
