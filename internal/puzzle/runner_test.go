package puzzle

import (
	"context"
	"errors"
	"testing"

	"github.com/veddev/chessmate-live/internal/board"
	"github.com/veddev/chessmate-live/internal/feedback"
	"github.com/veddev/chessmate-live/internal/session"
)

type scriptedOracle struct {
	replies []session.Move
	err     error
	calls   int
}

func (o *scriptedOracle) BestMove(context.Context, string, int) (session.Move, error) {
	o.calls++
	if o.err != nil {
		return session.Move{}, o.err
	}
	if len(o.replies) == 0 {
		return session.Move{}, errors.New("script exhausted")
	}
	mv := o.replies[0]
	o.replies = o.replies[1:]
	mv.Origin = session.OriginEngine
	return mv, nil
}

func backRankPuzzle() Puzzle {
	return Puzzle{
		ID:    "back-rank",
		FEN:   "6k1/5ppp/8/8/8/8/8/4R2K w - - 0 1",
		Depth: 10,
	}
}

func TestRunnerSolvesMateInOne(t *testing.T) {
	orc := &scriptedOracle{}
	r, err := NewRunner(backRankPuzzle(), orc, feedback.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	ev, err := r.PlaySolver(context.Background(), "e1", "e8")
	if err != nil {
		t.Fatalf("PlaySolver: %v", err)
	}
	if !ev.Checkmate {
		t.Fatalf("Re8 should mate: %+v", ev)
	}
	s := r.Session()
	if s.State != session.StateCompleted || s.Status != board.StatusCheckmate {
		t.Fatalf("session: state=%s status=%s", s.State, s.Status)
	}
	if orc.calls != 0 {
		t.Fatalf("oracle consulted after a terminal move")
	}
}

func TestRunnerEngineReplies(t *testing.T) {
	orc := &scriptedOracle{replies: []session.Move{{From: "g8", To: "f8"}}}
	r, err := NewRunner(backRankPuzzle(), orc, feedback.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.PlaySolver(context.Background(), "e1", "e2"); err != nil {
		t.Fatalf("PlaySolver: %v", err)
	}
	s := r.Session()
	if len(s.MovesUCI) != 2 || s.MovesUCI[1] != "g8f8" {
		t.Fatalf("oracle reply not applied: %v", s.MovesUCI)
	}
	if s.Turn != board.White {
		t.Fatalf("turn after reply: %s", s.Turn)
	}
	if orc.calls != 1 {
		t.Fatalf("oracle calls: %d", orc.calls)
	}
}

func TestRunnerEngineErrorLeavesPlyOpen(t *testing.T) {
	orc := &scriptedOracle{err: errors.New("oracle down")}
	r, err := NewRunner(backRankPuzzle(), orc, feedback.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.PlaySolver(context.Background(), "e1", "e2"); err == nil {
		t.Fatalf("expected oracle error to surface")
	}
	s := r.Session()
	if len(s.MovesUCI) != 1 {
		t.Fatalf("solver move lost on oracle failure: %v", s.MovesUCI)
	}
	if s.Turn != board.Black {
		t.Fatalf("reply ply should remain open, turn=%s", s.Turn)
	}

	// retry once the oracle recovers
	orc.err = nil
	orc.replies = []session.Move{{From: "g8", To: "f8"}}
	if err := r.RequestReply(context.Background()); err != nil {
		t.Fatalf("RequestReply: %v", err)
	}
	if len(r.Session().MovesUCI) != 2 {
		t.Fatalf("retried reply not applied: %v", r.Session().MovesUCI)
	}
}

func TestRunnerRejectsOutOfTurnSolver(t *testing.T) {
	orc := &scriptedOracle{err: errors.New("oracle down")}
	r, err := NewRunner(backRankPuzzle(), orc, feedback.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.PlaySolver(context.Background(), "e1", "e2"); err == nil {
		t.Fatalf("expected oracle error")
	}
	// engine's ply is pending, solver must wait
	_, err = r.PlaySolver(context.Background(), "e2", "e3")
	var rej *session.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected Rejection, got %v", err)
	}
}

func TestRunnerPromotionChoice(t *testing.T) {
	orc := &scriptedOracle{replies: []session.Move{{From: "h7", To: "g6"}}}
	p := Puzzle{ID: "promotion-drill", FEN: "8/5P1k/8/8/8/8/8/5K2 w - - 0 1", Depth: 10}
	r, err := NewRunner(p, orc, feedback.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.SetPromotion("r")
	if _, err := r.PlaySolver(context.Background(), "f7", "f8"); err != nil {
		t.Fatalf("PlaySolver: %v", err)
	}
	s := r.Session()
	if s.MovesUCI[0] != "f7f8r" {
		t.Fatalf("underpromotion not honored: %v", s.MovesUCI)
	}
}

func TestRunnerRestart(t *testing.T) {
	orc := &scriptedOracle{replies: []session.Move{{From: "g8", To: "f8"}}}
	r, err := NewRunner(backRankPuzzle(), orc, feedback.Default())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.PlaySolver(context.Background(), "e1", "e2"); err != nil {
		t.Fatalf("PlaySolver: %v", err)
	}
	if err := r.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	s := r.Session()
	if len(s.MovesUCI) != 0 || s.Turn != board.White {
		t.Fatalf("restart did not reset: moves=%v turn=%s", s.MovesUCI, s.Turn)
	}
}
