// Package profile fetches the participant's aggregate record and derives the
// client-side stats (rating, win rate, filtered history).
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// AuthError is raised on a 401 from any authenticated fetch. It terminates
// the local session of authentication, not the game session: callers clear
// credentials and redirect, game state is untouched.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Op }

// Match is one entry of the participant's match history.
type Match struct {
	Status    string    `json:"status"`
	Opponent  string    `json:"opponent"`
	CreatedAt time.Time `json:"createdAt"`
}

// Record is the aggregate participant record served by the platform.
type Record struct {
	UserID       string  `json:"userId"`
	Username     string  `json:"username"`
	Wins         int     `json:"wins"`
	Loses        int     `json:"loses"`
	Draws        int     `json:"draws"`
	MatchHistory []Match `json:"matchHistory"`
}

// Stats are derived from a record, never stored.
type Stats struct {
	TotalGames int
	WinRate    int
	Rating     int
}

// HeaderProvider injects per-request headers (auth cookie/token).
type HeaderProvider func() map[string]string

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	timeout time.Duration
}

type Option func(*Client)

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

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

// Fetch returns the authoritative participant record.
func (c *Client) Fetch(ctx context.Context) (*Record, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/profile")
	c.applyHeaders(req)

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusUnauthorized:
		return nil, &AuthError{Op: "profile fetch"}
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("profile fetch: status %d", status)
	}

	var rec Record
	if err := json.Unmarshal(resp.Body(), &rec); err != nil {
		return nil, fmt.Errorf("profile decode: %w", err)
	}
	return &rec, nil
}

// Logout invalidates the server-side credential.
func (c *Client) Logout(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/user/logout")
	c.applyHeaders(req)

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if status := resp.StatusCode(); status == fasthttp.StatusUnauthorized {
		return &AuthError{Op: "logout"}
	} else if status < 200 || status >= 300 {
		return fmt.Errorf("logout: status %d", status)
	}
	return nil
}

func (c *Client) applyHeaders(req *fasthttp.Request) {
	if c.headers == nil {
		return
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			req.Header.Set(k, v)
		}
	}
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

// Rating implements the externally-visible rating contract:
// 800 + 25*wins - 15*loses + 5*draws, with an 800 floor when no games played.
func Rating(wins, loses, draws int) int {
	if wins+loses+draws == 0 {
		return 800
	}
	return 800 + 25*wins - 15*loses + 5*draws
}

// DeriveStats computes the presentation numbers from a record.
func DeriveStats(rec *Record) Stats {
	if rec == nil {
		return Stats{Rating: 800}
	}
	total := rec.Wins + rec.Loses + rec.Draws
	winRate := 0
	if total > 0 {
		winRate = int(math.Round(float64(rec.Wins) / float64(total) * 100))
	}
	return Stats{
		TotalGames: total,
		WinRate:    winRate,
		Rating:     Rating(rec.Wins, rec.Loses, rec.Draws),
	}
}

// FilterHistory returns the matches for one tab: "all", "wins", "losses",
// or "draws".
func FilterHistory(rec *Record, tab string) []Match {
	if rec == nil {
		return nil
	}
	var want string
	switch strings.ToLower(strings.TrimSpace(tab)) {
	case "wins":
		want = "win"
	case "losses":
		want = "lose"
	case "draws":
		want = "draw"
	default:
		return append([]Match(nil), rec.MatchHistory...)
	}
	var out []Match
	for _, m := range rec.MatchHistory {
		if m.Status == want {
			out = append(out, m)
		}
	}
	return out
}
