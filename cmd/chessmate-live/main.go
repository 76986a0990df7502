package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veddev/chessmate-live/internal/board"
	appcfg "github.com/veddev/chessmate-live/internal/config"
	"github.com/veddev/chessmate-live/internal/feedback"
	"github.com/veddev/chessmate-live/internal/history"
	"github.com/veddev/chessmate-live/internal/live"
	"github.com/veddev/chessmate-live/internal/matchmaking"
	"github.com/veddev/chessmate-live/internal/obslog"
	"github.com/veddev/chessmate-live/internal/oracle"
	"github.com/veddev/chessmate-live/internal/profile"
	"github.com/veddev/chessmate-live/internal/realtime"
	"github.com/veddev/chessmate-live/internal/reconcile"
	"github.com/veddev/chessmate-live/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	defer obslog.Sync()

	mgr, err := live.NewManager(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("live manager init error: %v", err)
	}
	var repo *history.Repository
	if cfg.DatabaseURL != "" {
		repo, err = history.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("history repo init error: %v", err)
		}
		mgr.AttachRepository(repo)
	}

	queue := matchmaking.NewQueue(mgr)
	engine := oracle.NewClient(cfg.OracleBaseURL)
	profiles := profile.NewClient(cfg.ProfileBaseURL)

	cues := feedback.Default()
	cues.Register(func(c feedback.Cue) {
		obslog.L().Debug("feedback_cue", zap.String("cue", string(c)))
	})

	ws := realtime.NewChannel(cfg.PlatformWSURL, realtime.Identity{
		UserID:   cfg.UserID,
		Username: cfg.Username,
	}, cfg.WSMaxReconnects, cfg.WSReconnectDelay)

	ws.OnStateChange(func(state realtime.State) {
		obslog.L().Info("ws_state", zap.String("state", string(state)))
	})
	ws.OnError(func(cerr *realtime.ChannelError) {
		obslog.L().Warn("ws_error", zap.Error(cerr))
	})

	// Periodic catch-up against the profile service. The push channel is
	// the fast path; this keeps the record eventually consistent when
	// frames are missed.
	poller := reconcile.NewPoller(cfg.PollInterval, func(ctx context.Context) error {
		rec, ferr := profiles.Fetch(ctx)
		if ferr != nil {
			var auth *profile.AuthError
			if errors.As(ferr, &auth) {
				obslog.L().Warn("session_expired", zap.String("op", auth.Op))
				_ = profiles.Logout(ctx)
			}
			return ferr
		}
		stats := profile.DeriveStats(rec)
		obslog.L().Info("profile_reconciled",
			zap.Int("total_games", stats.TotalGames),
			zap.Int("rating", stats.Rating),
		)
		return nil
	})

	// Bursts of history updates collapse into one refresh.
	historyDebounce := reconcile.NewDebouncer(100 * time.Millisecond)

	ws.OnEvent(func(ev *realtime.Event) {
		switch ev.Type {
		case realtime.EventMove:
			if ev.SessionID == "" || len(ev.Move) < 4 {
				return
			}
			mv := session.Move{
				From:   ev.Move[:2],
				To:     ev.Move[2:4],
				Origin: session.OriginRemote,
			}
			if len(ev.Move) > 4 {
				mv.Promotion = ev.Move[4:]
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				s, evts, merr := mgr.SubmitMoveTo(ctx, ev.SessionID, ev.UserID, mv)
				if merr != nil {
					obslog.L().Warn("remote_move_rejected",
						zap.String("session_id", ev.SessionID),
						zap.String("uci", mv.UCI()),
						zap.Error(merr),
					)
					return
				}
				cues.FireFor(evts)
				obslog.L().Info("remote_move_applied",
					zap.String("session_id", s.ID),
					zap.String("uci", mv.UCI()),
					zap.String("status", string(s.Status)),
				)
				maybeEngineReply(ctx, mgr, engine, cues, s, cfg.EngineDepth)
			}()
		case realtime.EventQueueJoin:
			go handleQueueJoin(queue, ev)
		case realtime.EventMatchHistoryUpdated:
			historyDebounce.Submit(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				poller.Trigger(ctx, "match_history_updated")
			})
		}
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		// the channel retries on its own; polling carries consistency meanwhile
		obslog.L().Warn("ws_connect_degraded", zap.Error(err))
	}
	cancel()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	poller.Start(rootCtx)

	obslog.L().Info("engine_started",
		zap.String("user_id", cfg.UserID),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rootCancel()
	queue.Close()
	shutdown(mgr, repo, ws, poller, historyDebounce)
}

func shutdown(mgr *live.Manager, repo *history.Repository, ws *realtime.Channel, poller *reconcile.Poller, deb *reconcile.Debouncer) {
	deb.Stop()
	poller.Stop()
	_ = ws.Close(context.Background())
	_ = mgr.Close()
	if repo != nil {
		_ = repo.Close()
	}
}

// handleQueueJoin feeds one sync-channel join request into the matchmaking
// queue. Pairing lands on the ticket; the session itself is created by the
// queue's factory, so this only has to log the outcome.
func handleQueueJoin(queue *matchmaking.Queue, ev *realtime.Event) {
	if ev.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ticket, err := queue.Join(ctx, ev.UserID, ev.Username, 2)
	if err != nil {
		obslog.L().Warn("queue_join_rejected", zap.String("user_id", ev.UserID), zap.Error(err))
		return
	}
	<-ticket.Done()
	p, ok := ticket.Pairing()
	if !ok {
		obslog.L().Info("queue_join_cancelled", zap.String("user_id", ev.UserID))
		return
	}
	obslog.L().Info("queue_join_paired",
		zap.String("user_id", ev.UserID),
		zap.String("session_id", p.SessionID),
		zap.String("side", string(p.Side)),
	)
}

// maybeEngineReply fills a vacant seat with the oracle's best move after the
// turn passes to it. Sessions with both seats occupied are untouched.
func maybeEngineReply(ctx context.Context, mgr *live.Manager, engine *oracle.Client, cues *feedback.Registry, s *session.Session, depth int) {
	if s.State != session.StateActive {
		return
	}
	vacant := (s.Turn == board.White && s.WhiteID == "") || (s.Turn == board.Black && s.BlackID == "")
	if !vacant {
		return
	}
	pos, err := s.Position()
	if err != nil {
		return
	}
	fen, err := pos.FEN()
	if err != nil {
		return
	}
	mv, err := engine.BestMove(ctx, fen, depth)
	if err != nil {
		obslog.L().Warn("engine_reply_failed", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	next, evts, err := mgr.SubmitMoveTo(ctx, s.ID, "", mv)
	if err != nil {
		obslog.L().Warn("engine_reply_rejected", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	cues.FireFor(evts)
	obslog.L().Info("engine_reply_applied",
		zap.String("session_id", next.ID),
		zap.String("uci", mv.UCI()),
		zap.String("status", string(next.Status)),
	)
}
