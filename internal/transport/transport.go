// Package transport keeps one persistent WebSocket connection to a backend
// event source and fans decoded events out to process-level subscribers.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// State is the connection-state signal. Transport failures are reported
// here and never to event subscribers.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Decoder turns one wire message into a typed event.
type Decoder func([]byte) (protocol.Event, error)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultReadLimit    = 512 * 1024
	writeWait           = 10 * time.Second
)

// Options configures a Transport.
type Options struct {
	Name         string // log label, e.g. "graph" or "tasks"
	URL          string
	Header       http.Header
	Decode       Decoder
	Backoff      Backoff
	PingInterval time.Duration
	ReadTimeout  time.Duration // max silence before the connection is considered dead
	ReadLimit    int64
	Dialer       *websocket.Dialer
}

// Stats are cumulative counters since construction.
type Stats struct {
	Connects  int64
	Received  int64
	Dropped   int64
	Delivered int64
}

// Transport is a reconnecting event socket. Subscriptions are held by the
// Transport, not by the underlying connection, so they survive reconnects.
//
// Delivery is at-most-once: messages sent while disconnected are lost, and a
// drop never produces synthetic events.
type Transport struct {
	opts   Options
	bus    *bus.Bus
	states bus.Fanout[State]

	mu      sync.Mutex
	state   State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	connects  atomic.Int64
	received  atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
}

// New creates a Transport. Nothing is dialed until Connect.
func New(opts Options) *Transport {
	if opts.Name == "" {
		opts.Name = "events"
	}
	if opts.Decode == nil {
		opts.Decode = protocol.DecodeEnvelope
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ReadTimeout <= opts.PingInterval {
		opts.ReadTimeout = opts.PingInterval * 2
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	opts.Backoff = opts.Backoff.withDefaults()

	return &Transport{
		opts:  opts,
		bus:   bus.New(),
		state: StateDisconnected,
	}
}

// Connect starts the background connection loop. Only the first call has an
// effect; later calls return nil. The loop lives until ctx is cancelled or
// Close is called.
func (t *Transport) Connect(ctx context.Context) error {
	if t.opts.URL == "" {
		return errors.New("transport: no URL configured")
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.run(runCtx)
	return nil
}

// Close stops the connection loop and waits for it to exit.
func (t *Transport) Close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Subscribe registers handler for one event tag.
func (t *Transport) Subscribe(tag protocol.EventType, handler bus.Handler) *bus.Subscription {
	return t.bus.Subscribe(tag, handler)
}

// SubscribeAll registers handler for every event this transport delivers.
func (t *Transport) SubscribeAll(handler bus.Handler) *bus.Subscription {
	return t.bus.SubscribeAll(handler)
}

// OnStateChange registers fn to be called on every state transition.
func (t *Transport) OnStateChange(fn func(State)) *bus.Subscription {
	return t.states.Add(fn)
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Name returns the transport label.
func (t *Transport) Name() string { return t.opts.Name }

// Stats returns cumulative counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Connects:  t.connects.Load(),
		Received:  t.received.Load(),
		Dropped:   t.dropped.Load(),
		Delivered: t.delivered.Load(),
	}
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	prev := t.state
	t.state = s
	t.mu.Unlock()

	slog.Debug("transport: state change", "transport", t.opts.Name, "from", prev, "to", s)
	t.states.Emit(s)
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	defer t.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if t.connects.Load() > 0 || attempt > 0 {
			t.setState(StateReconnecting)
		} else {
			t.setState(StateConnecting)
		}

		conn, _, err := t.opts.Dialer.DialContext(ctx, t.opts.URL, t.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("transport: dial failed", "transport", t.opts.Name, "attempt", attempt+1, "error", err)
			t.setState(StateError)
			if !t.sleep(ctx, t.opts.Backoff.Delay(attempt)) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		t.connects.Add(1)
		slog.Info("transport: connected", "transport", t.opts.Name, "url", t.opts.URL)
		t.setState(StateConnected)

		err = t.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			slog.Warn("transport: connection lost", "transport", t.opts.Name, "error", err)
		} else {
			slog.Info("transport: connection closed", "transport", t.opts.Name, "error", err)
		}
		t.setState(StateReconnecting)
		if !t.sleep(ctx, t.opts.Backoff.Delay(0)) {
			return
		}
	}
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serve runs the read pump until the connection fails or ctx ends. Messages
// are dispatched on this goroutine, one at a time, in arrival order.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	conn.SetReadLimit(t.opts.ReadLimit)
	conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go t.pingLoop(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout))
		t.dispatch(data)
	}
}

// pingLoop keeps the connection alive and closes it when ctx ends so the
// blocked read returns.
func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("transport: ping failed", "transport", t.opts.Name, "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (t *Transport) dispatch(data []byte) {
	t.received.Add(1)

	evt, err := t.opts.Decode(data)
	if err != nil {
		t.dropped.Add(1)
		slog.Warn("transport: dropping message", "transport", t.opts.Name, "error", err)
		return
	}

	t.bus.Publish(evt)
	t.delivered.Add(1)
}
