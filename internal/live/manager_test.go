package live

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/veddev/chessmate-live/internal/board"
	"github.com/veddev/chessmate-live/internal/matchmaking"
	"github.com/veddev/chessmate-live/internal/session"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	m, err := NewManager(fmt.Sprintf("redis://%s/0", mr.Addr()), time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func pairTickets(t *testing.T, m *Manager) (string, *matchmaking.Ticket, *matchmaking.Ticket) {
	t.Helper()
	ctx := context.Background()
	w := &matchmaking.Ticket{ID: "t-w", ParticipantID: "u-white", Name: "Alice"}
	b := &matchmaking.Ticket{ID: "t-b", ParticipantID: "u-black", Name: "Bob"}
	id, sides, err := m.CreateSession(ctx, []*matchmaking.Ticket{w, b})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sides[w.ID] != board.White || sides[b.ID] != board.Black {
		t.Fatalf("side assignment: %v", sides)
	}
	return id, w, b
}

func TestCreateSessionAssignsSeats(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	s, err := m.Load(ctx, id)
	if err != nil || s == nil {
		t.Fatalf("Load: %v", err)
	}
	if s.WhiteID != "u-white" || s.BlackID != "u-black" {
		t.Fatalf("seats: %q vs %q", s.WhiteID, s.BlackID)
	}
	if s.StartFEN != board.StartFEN || s.Turn != board.White {
		t.Fatalf("fresh session wrong: fen=%q turn=%s", s.StartFEN, s.Turn)
	}
	if s.State != session.StateActive {
		t.Fatalf("state: %s", s.State)
	}
}

func TestCreateSessionRequiresTwoTickets(t *testing.T) {
	m := newTestManager(t)
	w := &matchmaking.Ticket{ID: "t-w", ParticipantID: "u1"}
	if _, _, err := m.CreateSession(context.Background(), []*matchmaking.Ticket{w}); err == nil {
		t.Fatalf("expected error for one ticket")
	}
}

func TestSubmitMoveFlow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	s, ev, err := m.SubmitMoveTo(ctx, id, "u-white", session.Move{From: "e2", To: "e4", Origin: session.OriginLocal})
	if err != nil {
		t.Fatalf("SubmitMoveTo: %v", err)
	}
	if !ev.Moved || s.Turn != board.Black || len(s.MovesUCI) != 1 {
		t.Fatalf("after e2e4: ev=%+v turn=%s moves=%v", ev, s.Turn, s.MovesUCI)
	}

	// the reply arrives via the sync channel
	s, _, err = m.SubmitMoveTo(ctx, id, "u-black", session.Move{From: "e7", To: "e5", Origin: session.OriginRemote})
	if err != nil {
		t.Fatalf("black reply: %v", err)
	}
	if len(s.MovesUCI) != 2 || s.Turn != board.White {
		t.Fatalf("after e7e5: moves=%v turn=%s", s.MovesUCI, s.Turn)
	}

	// persisted state reflects both plies
	got, err := m.Load(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Ledger) != 2 || got.Ledger[0].SAN != "e4" || got.Ledger[1].SAN != "e5" {
		t.Fatalf("ledger: %+v", got.Ledger)
	}
}

func TestSubmitMoveDuplicateRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	if _, _, err := m.SubmitMoveTo(ctx, id, "u-white", session.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, _, err := m.SubmitMoveTo(ctx, id, "u-white", session.Move{From: "e2", To: "e4"})
	var rej *session.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected Rejection for duplicate, got %v", err)
	}

	got, _ := m.Load(ctx, id)
	if len(got.MovesUCI) != 1 {
		t.Fatalf("duplicate extended ledger: %v", got.MovesUCI)
	}
}

func TestSubmitMoveOutOfTurnRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	_, _, err := m.SubmitMoveTo(ctx, id, "u-black", session.Move{From: "e7", To: "e5"})
	var rej *session.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected Rejection, got %v", err)
	}
}

func TestSubmitMoveStrangerRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	_, _, err := m.SubmitMoveTo(ctx, id, "intruder", session.Move{From: "e2", To: "e4"})
	var rej *session.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected Rejection, got %v", err)
	}
}

func TestSubmitMoveUnknownSession(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.SubmitMoveTo(context.Background(), "nope", "u-white", session.Move{From: "e2", To: "e4"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitMoveByActiveSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	s, _, err := m.SubmitMove(ctx, "u-white", session.Move{From: "d2", To: "d4"})
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if s.ID != id {
		t.Fatalf("resolved wrong session: %q", s.ID)
	}
}

func TestActiveSessionByUser(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	s, err := m.ActiveSessionByUser(ctx, "u-black")
	if err != nil || s == nil || s.ID != id {
		t.Fatalf("ActiveSessionByUser: %v %v", s, err)
	}
	if s, err := m.ActiveSessionByUser(ctx, "nobody"); err != nil || s != nil {
		t.Fatalf("expected no session for stranger: %v %v", s, err)
	}
}

func TestResignEndsSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	s, err := m.Resign(ctx, "u-black")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if s.Status != board.StatusResigned || s.Winner != "u-white" {
		t.Fatalf("resign result: status=%s winner=%q", s.Status, s.Winner)
	}

	// no longer active for either participant
	if got, _ := m.ActiveSessionByUser(ctx, "u-white"); got != nil {
		t.Fatalf("session still active after resign")
	}
	got, _ := m.Load(ctx, id)
	if got.State != session.StateCompleted {
		t.Fatalf("persisted state: %s", got.State)
	}
}

func TestEngineFillsVacantSeat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.StartFromPosition(ctx, "solo", "Solo", board.StartFEN)
	if err != nil {
		t.Fatalf("StartFromPosition: %v", err)
	}
	if _, _, err := m.SubmitMoveTo(ctx, s.ID, "solo", session.Move{From: "e2", To: "e4", Origin: session.OriginLocal}); err != nil {
		t.Fatalf("solo move: %v", err)
	}
	// the vacant black seat accepts an engine-origin move only
	_, _, err = m.SubmitMoveTo(ctx, s.ID, "", session.Move{From: "e7", To: "e5", Origin: session.OriginRemote})
	var rej *session.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("remote move on vacant seat should be rejected, got %v", err)
	}
	got, _, err := m.SubmitMoveTo(ctx, s.ID, "", session.Move{From: "e7", To: "e5", Origin: session.OriginEngine})
	if err != nil {
		t.Fatalf("engine move: %v", err)
	}
	if got.Turn != board.White || len(got.MovesUCI) != 2 {
		t.Fatalf("after engine reply: turn=%s moves=%v", got.Turn, got.MovesUCI)
	}
}

func TestEngineCannotPlayOccupiedSeat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	// both seats are held by humans; an engine-tagged move with no
	// participant id must not be allowed to move for either of them
	_, _, err := m.SubmitMoveTo(ctx, id, "", session.Move{From: "e2", To: "e4", Origin: session.OriginEngine})
	var rej *session.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("engine move on occupied seat should be rejected, got %v", err)
	}

	if _, _, err := m.SubmitMoveTo(ctx, id, "u-white", session.Move{From: "e2", To: "e4", Origin: session.OriginLocal}); err != nil {
		t.Fatalf("white move: %v", err)
	}
	_, _, err = m.SubmitMoveTo(ctx, id, "", session.Move{From: "e7", To: "e5", Origin: session.OriginEngine})
	if !errors.As(err, &rej) {
		t.Fatalf("engine move on occupied black seat should be rejected, got %v", err)
	}
}

func TestCheckmatePersistsOutcome(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id, _, _ := pairTickets(t, m)

	moves := []struct {
		user string
		from string
		to   string
	}{
		{"u-white", "f2", "f3"},
		{"u-black", "e7", "e5"},
		{"u-white", "g2", "g4"},
		{"u-black", "d8", "h4"},
	}
	var last *session.Session
	for _, mv := range moves {
		s, _, err := m.SubmitMoveTo(ctx, id, mv.user, session.Move{From: mv.from, To: mv.to})
		if err != nil {
			t.Fatalf("move %s%s: %v", mv.from, mv.to, err)
		}
		last = s
	}
	if last.Status != board.StatusCheckmate || last.Winner != "u-black" || last.Outcome != "black" {
		t.Fatalf("mate result: %+v", last)
	}

	var over *session.GameOverError
	_, _, err := m.SubmitMoveTo(ctx, id, "u-white", session.Move{From: "a2", To: "a3"})
	if !errors.As(err, &over) {
		t.Fatalf("expected GameOverError, got %v", err)
	}
}
