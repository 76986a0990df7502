package session

import (
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/veddev/chessmate-live/internal/board"
)

// promotionPieces are the only accepted promotion letters.
const promotionPieces = "qrbn"

// Apply validates a proposed move against a position and produces the
// successor position, ledger entry, and feedback events. The position is
// never mutated: on any rejection the caller's value is unchanged.
//
// Every move, whatever its origin, passes through here. Re-delivery of an
// already-applied move fails the expectedSide check, so duplicate network
// delivery is rejected harmlessly.
func Apply(pos board.Position, mv Move, expectedSide board.Color) (board.Position, LedgerEntry, Events, error) {
	if !board.ValidSquare(mv.From) || !board.ValidSquare(mv.To) {
		return pos, LedgerEntry{}, Events{}, &Rejection{Reason: "malformed squares " + mv.From + mv.To}
	}
	promo := strings.ToLower(strings.TrimSpace(mv.Promotion))
	if promo != "" && (len(promo) != 1 || !strings.Contains(promotionPieces, promo)) {
		return pos, LedgerEntry{}, Events{}, &Rejection{Reason: "invalid promotion piece " + mv.Promotion}
	}

	g, err := pos.Game()
	if err != nil {
		return pos, LedgerEntry{}, Events{}, err
	}
	side := board.FromEngineColor(g.Position().Turn())
	if side != expectedSide {
		return pos, LedgerEntry{}, Events{}, &Rejection{Reason: "not " + string(expectedSide) + "'s turn"}
	}

	cur := g.Position()
	tryMove := func(uci string) (*nchess.Move, string, error) {
		decoded, err := (nchess.UCINotation{}).Decode(cur, uci)
		if err != nil {
			return nil, "", err
		}
		san := (nchess.AlgebraicNotation{}).Encode(cur, decoded)
		if err := g.Move(decoded, nil); err != nil {
			return nil, "", err
		}
		return decoded, san, nil
	}

	decoded, san, merr := tryMove(mv.From + mv.To + promo)
	if merr != nil && promo == "" {
		// A bare from-to that only fails for the missing piece letter is a
		// pawn reaching the last rank; it promotes to queen.
		if d2, s2, e2 := tryMove(mv.From + mv.To + "q"); e2 == nil {
			decoded, san, merr, promo = d2, s2, nil, "q"
		}
	}
	if merr != nil {
		return pos, LedgerEntry{}, Events{}, &Rejection{Reason: "no legal move " + mv.From + mv.To + promo}
	}

	captured := isCapture(cur, decoded)

	next := pos.Advanced(mv.From+mv.To+promo, san)
	status := board.StatusOf(g, san)
	entry := LedgerEntry{
		From:      mv.From,
		To:        mv.To,
		Promotion: promo,
		SAN:       san,
		Origin:    mv.Origin,
		PlayedAt:  time.Now(),
		Status:    status,
	}
	ev := Events{
		Moved:     true,
		Captured:  captured,
		Check:     status == board.StatusCheck,
		Checkmate: status == board.StatusCheckmate,
		Stalemate: status == board.StatusStalemate,
	}
	return next, entry, ev, nil
}

// isCapture checks the destination before the move is applied. A pawn moving
// diagonally onto an empty square is an en passant capture.
func isCapture(pos *nchess.Position, mv *nchess.Move) bool {
	b := pos.Board()
	if b.Piece(mv.S2()) != nchess.NoPiece {
		return true
	}
	moving := b.Piece(mv.S1())
	if moving == nchess.NoPiece || moving.Type() != nchess.Pawn {
		return false
	}
	return mv.S1().File() != mv.S2().File()
}

// ApplyMove runs the applier against the session's own position and, on
// acceptance, advances the session: ledger append, turn flip, status
// recompute, terminal bookkeeping. This is the session's single mutation path.
func (s *Session) ApplyMove(mv Move, asSide board.Color) (Events, error) {
	if s.State == StateCompleted || s.Status.Terminal() {
		return Events{}, &GameOverError{Status: s.Status}
	}
	pos, err := s.Position()
	if err != nil {
		return Events{}, err
	}
	next, entry, ev, err := Apply(pos, mv, asSide)
	if err != nil {
		return Events{}, err
	}

	s.MovesUCI = append(s.MovesUCI, mv.From+mv.To+entry.Promotion)
	s.Ledger = append(s.Ledger, entry)
	s.Status = entry.Status
	s.UpdatedAt = time.Now()

	g, gerr := next.Game()
	if gerr != nil {
		return Events{}, gerr
	}
	s.Turn = board.FromEngineColor(g.Position().Turn())

	if s.Status.Terminal() {
		s.State = StateCompleted
		switch g.Outcome() {
		case nchess.WhiteWon:
			s.Winner, s.Outcome = s.WhiteID, "white"
		case nchess.BlackWon:
			s.Winner, s.Outcome = s.BlackID, "black"
		case nchess.Draw:
			s.Outcome = "draw"
		}
	}
	return ev, nil
}

// Resign ends the session in favor of the opponent.
func (s *Session) Resign(participantID string) error {
	if s.State == StateCompleted || s.Status.Terminal() {
		return &GameOverError{Status: s.Status}
	}
	opp := s.OpponentOf(participantID)
	if opp == "" && s.SideOf(participantID) == "" {
		return &Rejection{Reason: "participant not in session"}
	}
	s.Status = board.StatusResigned
	s.State = StateCompleted
	s.Winner = opp
	s.Outcome = "resign"
	s.UpdatedAt = time.Now()
	return nil
}
