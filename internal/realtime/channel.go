package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/veddev/chessmate-live/internal/obslog"
)

type eventCallbackEntry struct {
	id       int
	callback EventCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Channel is a persistent connection to the platform, keyed by participant
// identity at connect time. It redelivers nothing and reorders nothing; it
// reconnects with a fixed delay up to a bounded attempt budget, then fails
// over to the polling fallback.
type Channel struct {
	wsURL    string
	identity Identity

	conn   *websocket.Conn
	state  State
	stateM sync.RWMutex

	evCbs    []eventCallbackEntry
	stateCbs []stateCallbackEntry
	errCb    ErrorCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	writeM sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewChannel builds an unconnected channel. maxReconnectAttempts bounds the
// retry budget after a drop; reconnectDelay is fixed between attempts.
func NewChannel(wsURL string, identity Identity, maxReconnectAttempts int, reconnectDelay time.Duration) *Channel {
	return &Channel{
		wsURL:                wsURL,
		identity:             identity,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		evCbs:                make([]eventCallbackEntry, 0),
		stateCbs:             make([]stateCallbackEntry, 0),
	}
}

func (ch *Channel) Connect(ctx context.Context) error {
	ch.stateM.Lock()
	if ch.state == StateConnected || ch.state == StateConnecting {
		ch.stateM.Unlock()
		return nil
	}
	ch.stateM.Unlock()

	ch.rootCtx, ch.rootCancel = context.WithCancel(context.Background())
	ch.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, ch.dialURL(), &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		ch.setState(StateFailed)
		ch.reportError(&ChannelError{Op: "connect", Err: err})
		ch.scheduleReconnect()
		return &ChannelError{Op: "connect", Err: err}
	}

	ch.conn = conn
	ch.setState(StateConnected)

	ch.wg.Add(2)
	go ch.listen()
	go ch.pingLoop()
	return nil
}

// dialURL appends the identity payload the server keys the connection by.
func (ch *Channel) dialURL() string {
	raw, err := json.Marshal(ch.identity)
	if err != nil {
		return ch.wsURL
	}
	sep := "?"
	if strings.Contains(ch.wsURL, "?") {
		sep = "&"
	}
	return ch.wsURL + sep + "user=" + url.QueryEscape(string(raw))
}

func (ch *Channel) listen() {
	defer ch.wg.Done()
	for {
		select {
		case <-ch.stopCh:
			return
		default:
		}

		if ch.conn == nil {
			return
		}
		var ev Event
		if err := wsjson.Read(ch.rootCtx, ch.conn, &ev); err != nil {
			if ch.isStopping() {
				return
			}
			ch.setState(StateDisconnected)
			ch.reportError(&ChannelError{Op: "read", Err: err})
			_ = ch.closeConn(websocket.StatusGoingAway, "reconnect")
			ch.scheduleReconnect()
			return
		}

		ch.cbM.RLock()
		callbacks := make([]eventCallbackEntry, len(ch.evCbs))
		copy(callbacks, ch.evCbs)
		ch.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(&ev)
			}
		}
	}
}

func (ch *Channel) pingLoop() {
	defer ch.wg.Done()
	t := time.NewTicker(ch.pingInterval)
	defer t.Stop()
	consecutiveFailures := 0
	for {
		select {
		case <-ch.stopCh:
			return
		case <-t.C:
			if ch.conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(ch.rootCtx, 3*time.Second)
			err := ch.conn.Ping(ctx)
			cancel()
			if err != nil {
				consecutiveFailures++
				if consecutiveFailures >= 2 {
					if ch.isStopping() {
						return
					}
					ch.setState(StateDisconnected)
					ch.reportError(&ChannelError{Op: "heartbeat", Err: err})
					_ = ch.closeConn(websocket.StatusGoingAway, "ping failure")
					ch.scheduleReconnect()
					consecutiveFailures = 0
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (ch *Channel) scheduleReconnect() {
	if ch.maxReconnectAttempts <= 0 {
		ch.setState(StateFailed)
		return
	}
	ch.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= ch.maxReconnectAttempts; attempt++ {
			select {
			case <-ch.stopCh:
				return
			case <-time.After(ch.reconnectDelay):
			}

			dialCtx, cancel := context.WithTimeout(ch.rootCtx, 10*time.Second)
			conn, _, err := websocket.Dial(dialCtx, ch.dialURL(), &websocket.DialOptions{
				CompressionMode: websocket.CompressionNoContextTakeover,
			})
			cancel()
			if err != nil {
				obslog.L().Warn("ws_reconnect_failed",
					zap.Int("attempt", attempt),
					zap.Int("budget", ch.maxReconnectAttempts),
					zap.Error(err),
				)
				continue
			}

			ch.conn = conn
			ch.setState(StateConnected)

			ch.wg.Add(2)
			go ch.listen()
			go ch.pingLoop()
			return
		}
		ch.setState(StateFailed)
		ch.reportError(&ChannelError{Op: "reconnect", Err: context.DeadlineExceeded})
	}()
}

// PublishMove sends a locally accepted move to the platform.
func (ch *Channel) PublishMove(ctx context.Context, sessionID, uci string) error {
	ch.stateM.RLock()
	connected := ch.state == StateConnected && ch.conn != nil
	ch.stateM.RUnlock()
	if !connected {
		return &ChannelError{Op: "publish", Err: errNotConnected}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ev := Event{Type: EventMove, SessionID: sessionID, Move: uci, UserID: ch.identity.UserID}
	// wsjson.Write is not safe across goroutines
	ch.writeM.Lock()
	defer ch.writeM.Unlock()
	return wsjson.Write(ctx, ch.conn, &ev)
}

func (ch *Channel) OnEvent(cb EventCallback) int {
	ch.cbM.Lock()
	defer ch.cbM.Unlock()
	id := len(ch.evCbs) + 1
	ch.evCbs = append(ch.evCbs, eventCallbackEntry{id: id, callback: cb})
	return id
}

func (ch *Channel) RemoveEventCallback(id int) {
	ch.cbM.Lock()
	defer ch.cbM.Unlock()
	for i, cb := range ch.evCbs {
		if cb.id == id {
			ch.evCbs = append(ch.evCbs[:i], ch.evCbs[i+1:]...)
			break
		}
	}
}

func (ch *Channel) OnStateChange(cb StateCallback) int {
	ch.cbM.Lock()
	defer ch.cbM.Unlock()
	id := len(ch.stateCbs) + 1
	ch.stateCbs = append(ch.stateCbs, stateCallbackEntry{id: id, callback: cb})
	return id
}

func (ch *Channel) RemoveStateCallback(id int) {
	ch.cbM.Lock()
	defer ch.cbM.Unlock()
	for i, cb := range ch.stateCbs {
		if cb.id == id {
			ch.stateCbs = append(ch.stateCbs[:i], ch.stateCbs[i+1:]...)
			break
		}
	}
}

// OnError registers the single error sink (toast/log equivalent).
func (ch *Channel) OnError(cb ErrorCallback) {
	ch.cbM.Lock()
	ch.errCb = cb
	ch.cbM.Unlock()
}

func (ch *Channel) reportError(err *ChannelError) {
	obslog.L().Warn("ws_error", zap.String("op", err.Op), zap.Error(err.Err))
	ch.cbM.RLock()
	cb := ch.errCb
	ch.cbM.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (ch *Channel) setState(state State) {
	ch.stateM.Lock()
	ch.state = state
	ch.stateM.Unlock()

	ch.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(ch.stateCbs))
	copy(callbacks, ch.stateCbs)
	ch.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// CurrentState returns the channel state.
func (ch *Channel) CurrentState() State {
	ch.stateM.RLock()
	defer ch.stateM.RUnlock()
	return ch.state
}

func (ch *Channel) Close(ctx context.Context) error {
	ch.stopOnce.Do(func() { close(ch.stopCh) })
	_ = ch.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		ch.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if ch.rootCancel != nil {
			ch.rootCancel()
		}
		return nil
	}
}

func (ch *Channel) closeConn(code websocket.StatusCode, reason string) error {
	if ch.conn == nil {
		return nil
	}
	defer func() { ch.conn = nil }()
	return ch.conn.Close(code, reason)
}

func (ch *Channel) isStopping() bool {
	select {
	case <-ch.stopCh:
		return true
	default:
		return false
	}
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errNotConnected = staticErr("not connected")
