// Package live is the authoritative store for running sessions. Sessions are
// kept in Redis; move application runs under an optimistic-concurrency
// transaction so that two racing submissions can never both extend the same
// ledger. Clients apply moves optimistically, and this store either confirms
// (the ledger grew by exactly one entry) or rejects, so no rollback path is
// needed on the client.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veddev/chessmate-live/internal/board"
	"github.com/veddev/chessmate-live/internal/history"
	"github.com/veddev/chessmate-live/internal/matchmaking"
	"github.com/veddev/chessmate-live/internal/obslog"
	"github.com/veddev/chessmate-live/internal/session"
)

var ErrNotFound = errors.New("session not found")

type Manager struct {
	rdb  *redis.Client
	ttl  time.Duration
	repo *history.Repository
}

// NewManager connects to Redis and verifies the connection.
func NewManager(redisURL string, ttl time.Duration) (*Manager, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for live manager")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{rdb: rdb, ttl: ttl}, nil
}

func (m *Manager) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

// AttachRepository wires a database repository for persisting final results.
func (m *Manager) AttachRepository(r *history.Repository) {
	if m != nil {
		m.repo = r
	}
}

// CreateSession implements matchmaking.SessionFactory: the oldest ticket
// plays white, the next black.
func (m *Manager) CreateSession(ctx context.Context, tickets []*matchmaking.Ticket) (string, map[string]board.Color, error) {
	if m == nil || m.rdb == nil {
		return "", nil, fmt.Errorf("live manager not initialized")
	}
	if len(tickets) != 2 {
		return "", nil, fmt.Errorf("session requires exactly 2 participants, got %d", len(tickets))
	}
	white, black := tickets[0], tickets[1]

	s := &session.Session{
		ID:        uuid.NewString(),
		StartFEN:  board.StartFEN,
		MovesUCI:  []string{},
		Ledger:    []session.LedgerEntry{},
		Turn:      board.White,
		Status:    board.StatusInProgress,
		State:     session.StateActive,
		WhiteID:   white.ParticipantID,
		WhiteName: white.Name,
		BlackID:   black.ParticipantID,
		BlackName: black.Name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := m.save(ctx, s); err != nil {
		return "", nil, err
	}
	if err := m.indexParticipants(ctx, s.ID, s.WhiteID, s.BlackID); err != nil {
		return "", nil, err
	}
	obslog.L().Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("white_id", s.WhiteID),
		zap.String("black_id", s.BlackID),
	)
	sides := map[string]board.Color{white.ID: board.White, black.ID: board.Black}
	return s.ID, sides, nil
}

// StartFromPosition creates a single-participant session (engine opponent or
// local play) from an arbitrary starting configuration.
func (m *Manager) StartFromPosition(ctx context.Context, userID, userName, startFEN string) (*session.Session, error) {
	if m == nil || m.rdb == nil {
		return nil, fmt.Errorf("live manager not initialized")
	}
	pos, err := board.FromFEN(startFEN)
	if err != nil {
		return nil, err
	}
	turn, err := pos.SideToMove()
	if err != nil {
		return nil, err
	}
	s := &session.Session{
		ID:        uuid.NewString(),
		StartFEN:  pos.StartFEN(),
		MovesUCI:  []string{},
		Ledger:    []session.LedgerEntry{},
		Turn:      turn,
		Status:    board.StatusInProgress,
		State:     session.StateActive,
		WhiteID:   userID,
		WhiteName: userName,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	if err := m.indexParticipants(ctx, s.ID, userID, ""); err != nil {
		return nil, err
	}
	obslog.L().Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("white_id", userID),
		zap.String("start_fen", s.StartFEN),
	)
	return s, nil
}

// ActiveSessionByUser returns the most recently updated active session for a
// participant, or nil.
func (m *Manager) ActiveSessionByUser(ctx context.Context, userID string) (*session.Session, error) {
	if m == nil || m.rdb == nil {
		return nil, fmt.Errorf("live manager not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	ids, err := m.rdb.SMembers(ctx, idxUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var list []*session.Session
	for _, id := range ids {
		s, gerr := m.get(ctx, id)
		if gerr == nil && s != nil && s.State == session.StateActive {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list[0], nil
}

// SubmitMove applies one move for the requesting participant against their
// active session. The session key is WATCHed: a concurrent ledger change
// aborts the transaction and the move is re-evaluated against fresh state,
// where a duplicate fails the turn check.
func (m *Manager) SubmitMove(ctx context.Context, userID string, mv session.Move) (*session.Session, session.Events, error) {
	s, err := m.ActiveSessionByUser(ctx, userID)
	if err != nil {
		return nil, session.Events{}, err
	}
	if s == nil {
		return nil, session.Events{}, ErrNotFound
	}
	return m.SubmitMoveTo(ctx, s.ID, userID, mv)
}

// SubmitMoveTo applies one move to a specific session.
func (m *Manager) SubmitMoveTo(ctx context.Context, sessionID, userID string, mv session.Move) (*session.Session, session.Events, error) {
	if m == nil || m.rdb == nil {
		return nil, session.Events{}, fmt.Errorf("live manager not initialized")
	}
	key := sessionKey(sessionID)

	var (
		out *session.Session
		ev  session.Events
	)
	for attempt := 0; attempt < 3; attempt++ {
		err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var cur session.Session
			if jerr := json.Unmarshal(raw, &cur); jerr != nil {
				return jerr
			}

			side := cur.SideOf(userID)
			if side == "" && mv.Origin == session.OriginEngine && seatVacant(&cur, cur.Turn) {
				// engine fills the vacant seat in single-participant sessions
				side = cur.Turn
			}
			if side == "" {
				return &session.Rejection{Reason: "participant not in session"}
			}
			applied, aerr := cur.ApplyMove(mv, side)
			if aerr != nil {
				return aerr
			}

			pipe := tx.TxPipeline()
			newRaw, _ := json.Marshal(&cur)
			pipe.Set(ctx, key, newRaw, m.ttl)
			if _, perr := pipe.Exec(ctx); perr != nil {
				return perr
			}
			out, ev = &cur, applied
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			// lost the race; retry against fresh state
			continue
		}
		if err != nil {
			return nil, session.Events{}, err
		}
		break
	}
	if out == nil {
		return nil, session.Events{}, fmt.Errorf("move not applied: concurrent updates")
	}

	obslog.L().Info("move_applied",
		zap.String("session_id", out.ID),
		zap.String("user_id", strings.TrimSpace(userID)),
		zap.String("uci", lastUCI(out)),
		zap.String("origin", string(mv.Origin)),
		zap.String("turn", string(out.Turn)),
		zap.String("status", string(out.Status)),
	)
	if out.State == session.StateCompleted {
		_ = m.persistIfFinal(ctx, out, methodFor(out.Status))
	}
	return out, ev, nil
}

// Resign ends the requesting participant's active session.
func (m *Manager) Resign(ctx context.Context, userID string) (*session.Session, error) {
	s, err := m.ActiveSessionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}
	key := sessionKey(s.ID)
	err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur session.Session
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if rerr := cur.Resign(userID); rerr != nil {
			return rerr
		}
		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, key, newRaw, m.ttl)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return perr
		}
		s = &cur
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("session no longer active")
		}
		return nil, err
	}
	obslog.L().Info("session_resign",
		zap.String("session_id", s.ID),
		zap.String("resigner", strings.TrimSpace(userID)),
		zap.String("winner", s.Winner),
	)
	_ = m.persistIfFinal(ctx, s, "resignation")
	return s, nil
}

// Load returns the session by id, or nil.
func (m *Manager) Load(ctx context.Context, id string) (*session.Session, error) {
	return m.get(ctx, id)
}

func (m *Manager) save(ctx context.Context, s *session.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, sessionKey(s.ID), raw, m.ttl).Err()
}

func (m *Manager) get(ctx context.Context, id string) (*session.Session, error) {
	raw, err := m.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) indexParticipants(ctx context.Context, id, white, black string) error {
	for _, uid := range []string{white, black} {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		key := idxUserKey(uid)
		if err := m.rdb.SAdd(ctx, key, id).Err(); err != nil {
			return err
		}
		_ = m.rdb.Expire(ctx, key, m.ttl).Err()
	}
	return nil
}

func (m *Manager) persistIfFinal(ctx context.Context, s *session.Session, method string) error {
	if m == nil || m.repo == nil || s == nil {
		return nil
	}
	if s.State != session.StateCompleted {
		return nil
	}
	if err := m.repo.SaveResult(ctx, s, method); err != nil {
		obslog.L().Error("result_persist_error", zap.String("session_id", s.ID), zap.Error(err))
		return err
	}
	obslog.L().Info("result_persist", zap.String("session_id", s.ID), zap.String("outcome", s.Outcome), zap.String("method", method))
	return nil
}

func methodFor(status board.Status) string {
	switch status {
	case board.StatusCheckmate:
		return "checkmate"
	case board.StatusStalemate:
		return "stalemate"
	case board.StatusDrawRepeat, board.StatusDrawMaterial:
		return "draw"
	case board.StatusResigned:
		return "resignation"
	case board.StatusTimeout:
		return "timeout"
	default:
		return ""
	}
}

// seatVacant reports whether the seat for the given side has no participant.
// An occupied seat never accepts an engine-origin fallback move.
func seatVacant(s *session.Session, side board.Color) bool {
	switch side {
	case board.White:
		return s.WhiteID == ""
	case board.Black:
		return s.BlackID == ""
	default:
		return false
	}
}

func lastUCI(s *session.Session) string {
	if n := len(s.MovesUCI); n > 0 {
		return s.MovesUCI[n-1]
	}
	return ""
}

func sessionKey(id string) string  { return "live:session:" + strings.TrimSpace(id) }
func idxUserKey(uid string) string { return "live:index:user:" + strings.TrimSpace(uid) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
