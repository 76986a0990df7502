// Package matchmaking pairs waiting participants into live sessions.
//
// Tickets queue FIFO per requested session size. The pairing step (remove
// exactly requiredSize oldest tickets, create one session) runs under the
// queue lock, so two concurrent joins can never pair an overlapping ticket
// and no ticket lands in two sessions.
package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veddev/chessmate-live/internal/board"
	"github.com/veddev/chessmate-live/internal/obslog"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrAlreadyWaiting = errors.New("participant already has a waiting ticket")
	ErrQueueClosed    = errors.New("queue closed")
)

// Pairing is delivered to each participant once a session exists.
type Pairing struct {
	SessionID string
	Side      board.Color
}

// Progress is a periodic wait update for an unpaired ticket.
type Progress struct {
	Elapsed       time.Duration
	PlayersNeeded int
}

// Ticket is one queue entry. Destroyed on pairing or cancellation.
type Ticket struct {
	ID            string
	ParticipantID string
	Name          string
	RequiredSize  int
	JoinedAt      time.Time

	updates chan Progress
	done    chan struct{}

	mu        sync.Mutex
	pairing   *Pairing
	cancelled bool
}

// Done closes when the ticket was paired or cancelled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Updates carries wait-progress notifications until pairing. Updates are
// dropped, not queued, when the receiver lags.
func (t *Ticket) Updates() <-chan Progress { return t.updates }

// Pairing returns the session assignment once Done is closed. ok is false
// when the ticket was cancelled instead.
func (t *Ticket) Pairing() (Pairing, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pairing == nil {
		return Pairing{}, false
	}
	return *t.pairing, true
}

// SessionFactory creates one session from exactly the given tickets, oldest
// first, and reports each ticket's side assignment keyed by ticket id.
type SessionFactory interface {
	CreateSession(ctx context.Context, tickets []*Ticket) (sessionID string, sides map[string]board.Color, err error)
}

// Queue maintains per-size FIFO lists of waiting tickets.
type Queue struct {
	factory SessionFactory

	mu     sync.Mutex
	bySize map[int][]*Ticket
	byID   map[string]*Ticket
	closed bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue starts the queue and its wait-update loop.
func NewQueue(factory SessionFactory) *Queue {
	q := &Queue{
		factory: factory,
		bySize:  make(map[int][]*Ticket),
		byID:    make(map[string]*Ticket),
		stopCh:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.progressLoop()
	return q
}

// Join enqueues a participant and attempts pairing immediately.
func (q *Queue) Join(ctx context.Context, participantID, name string, requiredSize int) (*Ticket, error) {
	if participantID == "" || requiredSize < 1 {
		return nil, ErrInvalidArgs
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	for _, t := range q.bySize[requiredSize] {
		if t.ParticipantID == participantID {
			return nil, ErrAlreadyWaiting
		}
	}

	t := &Ticket{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Name:          name,
		RequiredSize:  requiredSize,
		JoinedAt:      time.Now(),
		updates:       make(chan Progress, 8),
		done:          make(chan struct{}),
	}
	q.bySize[requiredSize] = append(q.bySize[requiredSize], t)
	q.byID[t.ID] = t
	obslog.L().Info("queue_join",
		zap.String("ticket_id", t.ID),
		zap.String("participant_id", participantID),
		zap.Int("required_size", requiredSize),
	)

	if err := q.pairLocked(ctx, requiredSize); err != nil {
		// The joiner gets the error, not a ticket, so the joiner must not
		// stay enqueued: drop the ticket so a retry is a fresh Join.
		q.removeLocked(t)
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
		close(t.done)
		return nil, err
	}
	return t, nil
}

// Cancel removes an unpaired ticket. Cancelling after pairing has no effect;
// the session already exists and disconnects are handled at session level.
func (q *Queue) Cancel(ticketID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[ticketID]
	if !ok {
		return false
	}
	q.removeLocked(t)
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	close(t.done)
	obslog.L().Info("queue_cancel", zap.String("ticket_id", ticketID))
	return true
}

// Waiting returns the number of unpaired tickets for a session size.
func (q *Queue) Waiting(requiredSize int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bySize[requiredSize])
}

// Close stops the wait-update loop and cancels all remaining tickets.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, t := range q.byID {
		q.removeLocked(t)
		t.mu.Lock()
		t.cancelled = true
		t.mu.Unlock()
		close(t.done)
	}
}

// pairLocked pops the oldest requiredSize tickets and creates one session.
// Must hold q.mu: the removal and the session creation are one atomic step.
func (q *Queue) pairLocked(ctx context.Context, requiredSize int) error {
	bucket := q.bySize[requiredSize]
	if len(bucket) < requiredSize {
		return nil
	}
	picked := bucket[:requiredSize]
	q.bySize[requiredSize] = append([]*Ticket(nil), bucket[requiredSize:]...)
	for _, t := range picked {
		delete(q.byID, t.ID)
	}

	sessionID, sides, err := q.factory.CreateSession(ctx, picked)
	if err != nil {
		// put the tickets back at the head, oldest first
		q.bySize[requiredSize] = append(append([]*Ticket(nil), picked...), q.bySize[requiredSize]...)
		for _, t := range picked {
			q.byID[t.ID] = t
		}
		obslog.L().Error("queue_pair_error", zap.Int("required_size", requiredSize), zap.Error(err))
		return err
	}

	for _, t := range picked {
		p := Pairing{SessionID: sessionID, Side: sides[t.ID]}
		t.mu.Lock()
		t.pairing = &p
		t.mu.Unlock()
		close(t.done)
	}
	obslog.L().Info("queue_paired",
		zap.String("session_id", sessionID),
		zap.Int("required_size", requiredSize),
	)
	return nil
}

func (q *Queue) removeLocked(t *Ticket) {
	bucket := q.bySize[t.RequiredSize]
	for i, c := range bucket {
		if c.ID == t.ID {
			q.bySize[t.RequiredSize] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	delete(q.byID, t.ID)
}

// progressLoop pushes elapsed-time and players-needed updates to every
// unpaired ticket once a second.
func (q *Queue) progressLoop() {
	defer q.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case now := <-t.C:
			q.mu.Lock()
			for size, bucket := range q.bySize {
				needed := size - len(bucket)
				if needed < 0 {
					needed = 0
				}
				for _, tk := range bucket {
					select {
					case tk.updates <- Progress{Elapsed: now.Sub(tk.JoinedAt), PlayersNeeded: needed}:
					default:
					}
				}
			}
			q.mu.Unlock()
		}
	}
}
