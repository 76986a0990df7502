package realtime

import "context"

// State is the connection lifecycle of the sync channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Event is one frame on the sync channel. Moves for a single session arrive
// in the order the server accepted them; duplicates are rejected downstream
// by the applier's turn check.
const (
	EventMove                = "move"
	EventQueueJoin           = "queueJoin"
	EventMatchHistoryUpdated = "matchHistoryUpdated"
)

type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Move      string `json:"move,omitempty"` // uci
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Identity is the connect-time payload naming the participant.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ChannelError is surfaced on connect errors and forced disconnects. The
// session survives: reconnection runs with a bounded retry budget and the
// polling fallback keeps providing eventual consistency.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return "channel " + e.Op + ": " + e.Err.Error() }
func (e *ChannelError) Unwrap() error { return e.Err }

type EventCallback func(ev *Event)

type StateCallback func(state State)

type ErrorCallback func(err *ChannelError)

// Syncer is the channel surface the rest of the engine depends on.
type Syncer interface {
	Connect(ctx context.Context) error
	OnEvent(cb EventCallback) int
	RemoveEventCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	OnError(cb ErrorCallback)
	PublishMove(ctx context.Context, sessionID, uci string) error
	Close(ctx context.Context) error
}
