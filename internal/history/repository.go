// Package history persists finished sessions to Postgres.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/veddev/chessmate-live/internal/session"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished session. No error condition may silently drop
// an accepted move: the full ledger travels with the result.
func (r *Repository) SaveResult(ctx context.Context, s *session.Session, method string) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}

	pgnResult := mapResultToPGN(s.Outcome)
	pgn := BuildPGN(s, pgnResult, method)

	movesRaw, _ := json.Marshal(s.MovesUCI)
	ledgerRaw, _ := json.Marshal(s.Ledger)
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO live_sessions (
	    session_id, white_id, white_name, black_id, black_name,
	    start_fen, result, result_method, moves_uci, ledger, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    white_id=EXCLUDED.white_id,
	    white_name=EXCLUDED.white_name,
	    black_id=EXCLUDED.black_id,
	    black_name=EXCLUDED.black_name,
	    start_fen=EXCLUDED.start_fen,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    moves_uci=EXCLUDED.moves_uci,
	    ledger=EXCLUDED.ledger,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.WhiteID, s.WhiteName,
		s.BlackID, s.BlackName,
		s.StartFEN,
		s.Outcome, strings.TrimSpace(method),
		string(movesRaw), string(ledgerRaw), pgn,
		s.CreatedAt, s.UpdatedAt, duration,
	)
	return err
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	case "resign":
		return "*"
	default:
		return "*"
	}
}

// BuildPGN renders the session's ledger as a PGN document.
func BuildPGN(s *session.Session, pgnResult, method string) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Chessmate Live\"]\n")
	b.WriteString("[Site \"chessmate\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(s.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(s.BlackName)))
	if s.StartFEN != "" && !strings.HasPrefix(s.StartFEN, "rnbqkbnr/pppppppp") {
		b.WriteString("[SetUp \"1\"]\n")
		b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", sanitizePGN(s.StartFEN)))
	}
	if strings.TrimSpace(method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(s.Ledger); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(s.Ledger[i].SAN)))
		if i+1 < len(s.Ledger) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.Ledger[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
