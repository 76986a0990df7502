package session

import (
	"fmt"
	"time"

	"github.com/veddev/chessmate-live/internal/board"
)

// Origin tags where a move proposal came from. All origins pass through the
// same applier; the tag only drives feedback and logging.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginEngine Origin = "engine"
)

// Move is a proposed transition. Ephemeral; consumed by the applier.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Origin    Origin `json:"origin,omitempty"`
}

// UCI renders the move in coordinate notation.
func (m Move) UCI() string { return m.From + m.To + m.Promotion }

// LedgerEntry is one applied move: append-only, owned by the session.
type LedgerEntry struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Promotion string       `json:"promotion,omitempty"`
	SAN       string       `json:"san"`
	Origin    Origin       `json:"origin,omitempty"`
	PlayedAt  time.Time    `json:"played_at"`
	Status    board.Status `json:"status"`
}

// Events are the observational side effects of an accepted move, used to
// trigger feedback. They are not owned state.
type Events struct {
	Moved     bool
	Captured  bool
	Check     bool
	Checkmate bool
	Stalemate bool
}

// State is the session lifecycle, distinct from the game status.
type State string

const (
	StateWaiting   State = "WAITING"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
)

// Session pairs 1-2 human participants (plus an optional engine participant)
// over one position timeline. It exclusively owns its position and ledger;
// all mutation goes through the applier's accept path.
type Session struct {
	ID        string        `json:"id"`
	StartFEN  string        `json:"start_fen"`
	MovesUCI  []string      `json:"moves_uci"`
	Ledger    []LedgerEntry `json:"ledger"`
	Turn      board.Color   `json:"turn"`
	Status    board.Status  `json:"status"`
	State     State         `json:"state"`
	WhiteID   string        `json:"white_id"`
	WhiteName string        `json:"white_name"`
	BlackID   string        `json:"black_id"`
	BlackName string        `json:"black_name"`
	Winner    string        `json:"winner,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Position rebuilds the current position value.
func (s *Session) Position() (board.Position, error) {
	return board.Resume(s.StartFEN, s.MovesUCI)
}

// SideOf returns the side the participant plays, or "" when not in the
// session. An empty id never matches a vacant seat.
func (s *Session) SideOf(participantID string) board.Color {
	if participantID == "" {
		return ""
	}
	switch participantID {
	case s.WhiteID:
		return board.White
	case s.BlackID:
		return board.Black
	default:
		return ""
	}
}

// OpponentOf returns the other participant's id, or "".
func (s *Session) OpponentOf(participantID string) string {
	if participantID == "" {
		return ""
	}
	switch participantID {
	case s.WhiteID:
		return s.BlackID
	case s.BlackID:
		return s.WhiteID
	default:
		return ""
	}
}

// Rejection is a recoverable refusal to apply a move. The attempted move is
// reverted at the UI (snap-back); session state is untouched.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "move rejected: " + r.Reason }

// GameOverError terminates submissions once the session reached a terminal
// status; the UI transitions to a game-over presentation.
type GameOverError struct {
	Status board.Status
}

func (e *GameOverError) Error() string {
	return fmt.Sprintf("game over: %s", e.Status)
}
