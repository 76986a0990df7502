package session

import (
	"sync"

	"github.com/veddev/chessmate-live/internal/board"
)

// Coordinator tracks whose turn it is and gates move submission before a
// proposal reaches the applier. The applier revalidates; this only keeps
// obviously out-of-turn proposals from producing a round trip.
type Coordinator struct {
	mu       sync.Mutex
	turn     board.Color
	terminal bool
	status   board.Status
}

// NewCoordinator starts with the given side to move.
func NewCoordinator(start board.Color) *Coordinator {
	return &Coordinator{turn: start, status: board.StatusInProgress}
}

// CanSubmit reports whether the given side may currently propose a move.
func (c *Coordinator) CanSubmit(side board.Color) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.terminal && c.turn == side
}

// Gate returns nil when the side may submit, a GameOverError once the game
// ended, or a Rejection when it is the opponent's turn.
func (c *Coordinator) Gate(side board.Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return &GameOverError{Status: c.status}
	}
	if c.turn != side {
		return &Rejection{Reason: "not " + string(side) + "'s turn"}
	}
	return nil
}

// Advance transitions on an accepted move: flips the side unless the new
// status is terminal, in which case all further submissions are rejected.
func (c *Coordinator) Advance(status board.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	if status.Terminal() {
		c.terminal = true
		return
	}
	c.turn = c.turn.Opponent()
}

// Turn returns the side to move; meaningless once terminal.
func (c *Coordinator) Turn() board.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// Terminal reports whether the coordinator reached its end state.
func (c *Coordinator) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}
