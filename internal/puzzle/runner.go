package puzzle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veddev/chessmate-live/internal/board"
	"github.com/veddev/chessmate-live/internal/feedback"
	"github.com/veddev/chessmate-live/internal/obslog"
	"github.com/veddev/chessmate-live/internal/session"
)

// Oracle answers with the best move for a position at a search depth.
type Oracle interface {
	BestMove(ctx context.Context, fen string, depth int) (session.Move, error)
}

// Runner drives one puzzle session: the solver's moves and the oracle's
// replies both pass through the session's applier, so feedback fires
// uniformly whatever the origin.
type Runner struct {
	puzzle Puzzle
	sess   *session.Session
	coord  *session.Coordinator
	oracle Oracle
	side   board.Color
	cues   *feedback.Registry

	// promotion piece pre-selected by the solver; empty means queen default
	promotion string
}

// NewRunner starts a fresh session for the puzzle. The solver plays the side
// to move in the starting configuration.
func NewRunner(p Puzzle, oracle Oracle, cues *feedback.Registry) (*Runner, error) {
	pos, err := board.FromFEN(p.FEN)
	if err != nil {
		return nil, err
	}
	side, err := pos.SideToMove()
	if err != nil {
		return nil, err
	}
	if cues == nil {
		cues = feedback.Default()
	}
	sess := &session.Session{
		ID:        uuid.NewString(),
		StartFEN:  pos.StartFEN(),
		MovesUCI:  []string{},
		Ledger:    []session.LedgerEntry{},
		Turn:      side,
		Status:    board.StatusInProgress,
		State:     session.StateActive,
		WhiteID:   "solver",
		WhiteName: "solver",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return &Runner{
		puzzle: p,
		sess:   sess,
		coord:  session.NewCoordinator(side),
		oracle: oracle,
		side:   side,
		cues:   cues,
	}, nil
}

// Session exposes the running session for presentation.
func (r *Runner) Session() *session.Session { return r.sess }

// SetPromotion pre-selects the promotion piece ("q", "r", "b", "n").
func (r *Runner) SetPromotion(piece string) { r.promotion = piece }

// PlaySolver applies the solver's move and, when the puzzle is not yet
// decided, asks the oracle for the reply and applies it as an engine-origin
// move. An EngineError leaves the reply ply unfilled; the solver can retry.
func (r *Runner) PlaySolver(ctx context.Context, from, to string) (session.Events, error) {
	if err := r.coord.Gate(r.side); err != nil {
		return session.Events{}, err
	}
	mv := session.Move{From: from, To: to, Promotion: r.promotion, Origin: session.OriginLocal}
	ev, err := r.sess.ApplyMove(mv, r.side)
	if err != nil {
		return session.Events{}, err
	}
	r.coord.Advance(r.sess.Status)
	r.cues.FireFor(ev)
	obslog.L().Info("puzzle_move",
		zap.String("puzzle_id", r.puzzle.ID),
		zap.String("uci", from+to+r.promotion),
		zap.String("status", string(r.sess.Status)),
	)

	if r.sess.State == session.StateCompleted {
		return ev, nil
	}
	if rerr := r.RequestReply(ctx); rerr != nil {
		return ev, rerr
	}
	return ev, nil
}

// RequestReply asks the oracle to play the defending side's pending ply.
// Call again after an engine error; a solver-side turn is rejected.
func (r *Runner) RequestReply(ctx context.Context) error {
	if err := r.coord.Gate(r.side.Opponent()); err != nil {
		return err
	}
	pos, err := r.sess.Position()
	if err != nil {
		return err
	}
	fen, err := pos.FEN()
	if err != nil {
		return err
	}
	reply, err := r.oracle.BestMove(ctx, fen, r.puzzle.Depth)
	if err != nil {
		obslog.L().Warn("puzzle_engine_error", zap.String("puzzle_id", r.puzzle.ID), zap.Error(err))
		return err
	}
	ev, err := r.sess.ApplyMove(reply, r.side.Opponent())
	if err != nil {
		return err
	}
	r.coord.Advance(r.sess.Status)
	r.cues.FireFor(ev)
	obslog.L().Info("puzzle_engine_move",
		zap.String("puzzle_id", r.puzzle.ID),
		zap.String("uci", reply.UCI()),
		zap.String("status", string(r.sess.Status)),
	)
	return nil
}

// Restart resets the session to the puzzle's starting configuration.
func (r *Runner) Restart() error {
	fresh, err := NewRunner(r.puzzle, r.oracle, r.cues)
	if err != nil {
		return err
	}
	r.sess, r.coord, r.side = fresh.sess, fresh.coord, fresh.side
	return nil
}
