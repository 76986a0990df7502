// Package feedback dispatches move feedback cues (sounds, UI pulses) to
// registered sinks. Cues are process-wide resources initialized once at
// startup and referenced afterwards, never recreated per move.
package feedback

import (
	"sync"

	"github.com/veddev/chessmate-live/internal/session"
)

// Cue names one feedback asset.
type Cue string

const (
	CueMove      Cue = "move"
	CueCapture   Cue = "capture"
	CueCheck     Cue = "check"
	CueCheckmate Cue = "checkmate"
)

// Sink plays a cue. Implementations are supplied by the presentation layer.
type Sink func(Cue)

// Registry holds the cue sinks for one process.
type Registry struct {
	mu    sync.RWMutex
	sinks []Sink
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = &Registry{} })
	return defaultReg
}

// Register adds a sink. Intended to be called once during startup.
func (r *Registry) Register(s Sink) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// Fire plays a single cue on every sink.
func (r *Registry) Fire(c Cue) {
	r.mu.RLock()
	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.RUnlock()
	for _, s := range sinks {
		s(c)
	}
}

// FireFor maps move events to cues the way the client plays them: capture
// beats move, checkmate beats check.
func (r *Registry) FireFor(ev session.Events) {
	if !ev.Moved {
		return
	}
	if ev.Captured {
		r.Fire(CueCapture)
	} else {
		r.Fire(CueMove)
	}
	switch {
	case ev.Checkmate:
		r.Fire(CueCheckmate)
	case ev.Check:
		r.Fire(CueCheck)
	}
}
