// Package oracle wraps the remote best-move service. Responses come back as
// the two-token UCI form "bestmove <move>"; anything else is an EngineError,
// never a silently skipped ply.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/veddev/chessmate-live/internal/board"
	"github.com/veddev/chessmate-live/internal/obslog"
	"github.com/veddev/chessmate-live/internal/session"
)

var (
	// ErrNoMove means the oracle reported a terminal position.
	ErrNoMove = errors.New("oracle: no move available")
	// ErrMalformed means the response deviated from "bestmove <uci-move>".
	ErrMalformed = errors.New("oracle: malformed response")
)

// EngineError wraps any oracle failure: network, malformed payload, or a
// terminal position. The session stays awaiting a human or a retry.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string { return "engine error: " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

// DefaultDepth keeps puzzle responses quick.
const DefaultDepth = 10

type bestMoveResponse struct {
	BestMove string `json:"bestMove"`
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BestMove asks the oracle for the best move in the given position at the
// given search depth. The returned move is tagged origin=engine so it feeds
// the same applier path as a remote move.
func (c *Client) BestMove(ctx context.Context, fen string, depth int) (session.Move, error) {
	if depth <= 0 {
		depth = DefaultDepth
	}
	q := url.Values{}
	q.Set("fen", fen)
	q.Set("depth", strconv.Itoa(depth))
	uri := c.baseURL + "/stockfish?" + q.Encode()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return session.Move{}, &EngineError{Err: fmt.Errorf("request failed: %w", err)}
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return session.Move{}, &EngineError{Err: fmt.Errorf("oracle status %d", status)}
	}

	var body bestMoveResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return session.Move{}, &EngineError{Err: fmt.Errorf("decode response: %w", err)}
	}
	mv, err := ParseBestMove(body.BestMove)
	if err != nil {
		obslog.L().Warn("oracle_parse_error", zap.String("payload", body.BestMove), zap.Error(err))
		return session.Move{}, &EngineError{Err: err}
	}
	return mv, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.timeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.timeout)
}

// ParseBestMove extracts the coordinate move from a "bestmove <uci-move>"
// payload. Any deviation is an error, not a best-effort slice.
func ParseBestMove(raw string) (session.Move, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) < 2 || fields[0] != "bestmove" {
		return session.Move{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	token := strings.ToLower(fields[1])
	if token == "(none)" || token == "none" {
		return session.Move{}, ErrNoMove
	}
	if len(token) < 4 || len(token) > 5 {
		return session.Move{}, fmt.Errorf("%w: move token %q", ErrMalformed, token)
	}
	from, to := token[:2], token[2:4]
	if !board.ValidSquare(from) || !board.ValidSquare(to) {
		return session.Move{}, fmt.Errorf("%w: move token %q", ErrMalformed, token)
	}
	promo := ""
	if len(token) == 5 {
		promo = token[4:]
		if !strings.Contains("qrbn", promo) {
			return session.Move{}, fmt.Errorf("%w: promotion %q", ErrMalformed, promo)
		}
	}
	return session.Move{From: from, To: to, Promotion: promo, Origin: session.OriginEngine}, nil
}
