package board

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the derived state of a position. Recomputed after every accepted
// move, never stored independently of the position it was derived from.
type Status string

const (
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCheck        Status = "CHECK"
	StatusCheckmate    Status = "CHECKMATE"
	StatusStalemate    Status = "STALEMATE"
	StatusDrawRepeat   Status = "DRAW_REPETITION"
	StatusDrawMaterial Status = "DRAW_MATERIAL"
	StatusResigned     Status = "RESIGNED"
	StatusTimeout      Status = "TIMEOUT"
)

// Terminal reports whether the status ends the game.
func (s Status) Terminal() bool {
	switch s {
	case StatusCheckmate, StatusStalemate, StatusDrawRepeat, StatusDrawMaterial, StatusResigned, StatusTimeout:
		return true
	default:
		return false
	}
}

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Position is one ply of a game: a starting configuration plus the UCI moves
// applied since. Values are immutable; applying a move produces a new Position.
// Replaying from the start keeps repetition and fifty-move bookkeeping exact,
// which a bare FEN snapshot would lose.
type Position struct {
	startFEN string
	moves    []string
	lastSAN  string
}

// Starting returns the standard initial position.
func Starting() Position {
	return Position{startFEN: StartFEN}
}

// FromFEN builds a position from an arbitrary configuration (e.g. a puzzle).
// The FEN is validated by the rules engine before it is accepted.
func FromFEN(fen string) (Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return Position{}, fmt.Errorf("empty fen")
	}
	if _, err := nchess.FEN(fen); err != nil {
		return Position{}, fmt.Errorf("invalid fen %q: %w", fen, err)
	}
	return Position{startFEN: fen}, nil
}

// Resume rebuilds a position from a persisted start configuration and move list.
func Resume(startFEN string, movesUCI []string) (Position, error) {
	p, err := FromFEN(startFEN)
	if err != nil {
		return Position{}, err
	}
	g, err := p.Game()
	if err != nil {
		return Position{}, err
	}
	san := ""
	for _, mv := range movesUCI {
		pos := g.Position()
		decoded, derr := nchess.UCINotation{}.Decode(pos, mv)
		if derr != nil {
			return Position{}, fmt.Errorf("replay move %q: %w", mv, derr)
		}
		san = nchess.AlgebraicNotation{}.Encode(pos, decoded)
		if merr := g.Move(decoded, nil); merr != nil {
			return Position{}, fmt.Errorf("replay move %q: %w", mv, merr)
		}
	}
	p.moves = append([]string(nil), movesUCI...)
	p.lastSAN = san
	return p, nil
}

// Game reconstructs the rules-engine game for this position. Always replays
// from the start configuration; trusting a cached FEN can double-apply moves.
func (p Position) Game() (*nchess.Game, error) {
	opt, err := nchess.FEN(p.startFEN)
	if err != nil {
		return nil, fmt.Errorf("invalid start fen: %w", err)
	}
	g := nchess.NewGame(opt)
	for _, mv := range p.moves {
		if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %q: %w", mv, err)
		}
	}
	return g, nil
}

// StartFEN returns the configuration the game started from.
func (p Position) StartFEN() string { return p.startFEN }

// Moves returns a copy of the applied UCI moves.
func (p Position) Moves() []string { return append([]string(nil), p.moves...) }

// Ply returns the number of half-moves applied.
func (p Position) Ply() int { return len(p.moves) }

// LastSAN returns the SAN of the most recent move, or "".
func (p Position) LastSAN() string { return p.lastSAN }

// Advanced returns the successor position after one UCI move. The move is not
// validated here; callers go through the applier.
func (p Position) Advanced(uci, san string) Position {
	next := Position{
		startFEN: p.startFEN,
		moves:    make([]string, 0, len(p.moves)+1),
		lastSAN:  san,
	}
	next.moves = append(next.moves, p.moves...)
	next.moves = append(next.moves, uci)
	return next
}

// FEN serializes the current configuration.
func (p Position) FEN() (string, error) {
	g, err := p.Game()
	if err != nil {
		return "", err
	}
	return g.FEN(), nil
}

// SideToMove returns which side moves next.
func (p Position) SideToMove() (Color, error) {
	g, err := p.Game()
	if err != nil {
		return "", err
	}
	return FromEngineColor(g.Position().Turn()), nil
}

// Status derives the game status for this position.
func (p Position) Status() (Status, error) {
	g, err := p.Game()
	if err != nil {
		return "", err
	}
	return StatusOf(g, p.lastSAN), nil
}

// StatusOf maps the rules-engine verdict to a Status. SAN carries the check
// marker for non-terminal positions, which the outcome API does not expose.
func StatusOf(g *nchess.Game, lastSAN string) Status {
	switch g.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		if g.Method() == nchess.Checkmate {
			return StatusCheckmate
		}
		return StatusResigned
	case nchess.Draw:
		switch g.Method() {
		case nchess.Stalemate:
			return StatusStalemate
		case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
			return StatusDrawRepeat
		default:
			return StatusDrawMaterial
		}
	}
	if strings.HasSuffix(lastSAN, "+") {
		return StatusCheck
	}
	return StatusInProgress
}

// FromEngineColor converts the rules-engine color.
func FromEngineColor(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

// EngineColor converts to the rules-engine color.
func (c Color) EngineColor() nchess.Color {
	if c == White {
		return nchess.White
	}
	return nchess.Black
}

// ValidSquare reports whether s names a board square ("a1".."h8").
func ValidSquare(s string) bool {
	if len(s) != 2 {
		return false
	}
	return s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}
