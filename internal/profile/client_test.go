package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRating(t *testing.T) {
	cases := []struct {
		wins, loses, draws, want int
	}{
		{0, 0, 0, 800},
		{3, 1, 1, 865},
		{1, 0, 0, 825},
		{0, 1, 0, 785},
		{0, 0, 1, 805},
		{10, 2, 4, 1040},
	}
	for _, c := range cases {
		if got := Rating(c.wins, c.loses, c.draws); got != c.want {
			t.Fatalf("Rating(%d,%d,%d) = %d, want %d", c.wins, c.loses, c.draws, got, c.want)
		}
	}
}

func TestDeriveStats(t *testing.T) {
	rec := &Record{Wins: 2, Loses: 1, Draws: 0}
	st := DeriveStats(rec)
	if st.TotalGames != 3 || st.WinRate != 67 || st.Rating != 835 {
		t.Fatalf("stats: %+v", st)
	}
	empty := DeriveStats(&Record{})
	if empty.TotalGames != 0 || empty.WinRate != 0 || empty.Rating != 800 {
		t.Fatalf("empty stats: %+v", empty)
	}
	if nilStats := DeriveStats(nil); nilStats.Rating != 800 {
		t.Fatalf("nil record stats: %+v", nilStats)
	}
}

func TestFilterHistory(t *testing.T) {
	rec := &Record{MatchHistory: []Match{
		{Status: "win", Opponent: "a"},
		{Status: "lose", Opponent: "b"},
		{Status: "draw", Opponent: "c"},
		{Status: "win", Opponent: "d"},
	}}
	if got := FilterHistory(rec, "all"); len(got) != 4 {
		t.Fatalf("all: %d", len(got))
	}
	wins := FilterHistory(rec, "wins")
	if len(wins) != 2 || wins[0].Opponent != "a" || wins[1].Opponent != "d" {
		t.Fatalf("wins: %+v", wins)
	}
	if got := FilterHistory(rec, "losses"); len(got) != 1 || got[0].Opponent != "b" {
		t.Fatalf("losses: %+v", got)
	}
	if got := FilterHistory(rec, "draws"); len(got) != 1 || got[0].Opponent != "c" {
		t.Fatalf("draws: %+v", got)
	}
	if got := FilterHistory(nil, "all"); got != nil {
		t.Fatalf("nil record: %+v", got)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profile" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		_ = json.NewEncoder(w).Encode(Record{UserID: "u1", Username: "Alice", Wins: 3, Loses: 1, Draws: 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHeaderProvider(func() map[string]string {
		return map[string]string{"Authorization": "Bearer tok"}
	}))
	rec, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Username != "Alice" || rec.Wins != 3 {
		t.Fatalf("record: %+v", rec)
	}
	if got := DeriveStats(rec).Rating; got != 865 {
		t.Fatalf("rating: %d", got)
	}
}

func TestFetchUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background())
	var auth *AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/user/logout" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		called = true
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !called {
		t.Fatalf("logout request not sent")
	}
}
