package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

type fakeServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	upgrades atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	fs := &fakeServer{conns: make(chan *websocket.Conn, 8)}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.upgrades.Add(1)
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
		fs.conns <- c
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func send(t *testing.T, c *websocket.Conn, e protocol.Event) {
	t.Helper()
	data, err := protocol.EncodeEnvelope(e, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type collector struct {
	mu   sync.Mutex
	uuid []string
}

func (c *collector) handle(e protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uuid = append(c.uuid, e.(protocol.EntityCreated).UUID)
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.uuid...)
}

func newTestTransport(url string) *Transport {
	return New(Options{
		Name:    "test",
		URL:     url,
		Backoff: Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond},
	})
}

func TestTransport_ConnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	tr := newTestTransport(fs.url())
	defer tr.Close()

	for i := 0; i < 3; i++ {
		if err := tr.Connect(context.Background()); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	fs.next(t)
	waitFor(t, "connected state", func() bool { return tr.State() == StateConnected })

	time.Sleep(50 * time.Millisecond)
	if n := fs.upgrades.Load(); n != 1 {
		t.Errorf("upgrades = %d, want 1", n)
	}
}

func TestTransport_DeliversInArrivalOrder(t *testing.T) {
	fs := newFakeServer(t)
	tr := newTestTransport(fs.url())
	defer tr.Close()

	var col collector
	tr.Subscribe(protocol.EventEntityCreated, col.handle)
	tr.Connect(context.Background())
	conn := fs.next(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		send(t, conn, protocol.EntityCreated{Meta: protocol.Meta{GroupID: "g"}, UUID: id})
	}

	waitFor(t, "4 events", func() bool { return len(col.got()) == 4 })
	if got := strings.Join(col.got(), ""); got != "abcd" {
		t.Errorf("order = %q, want abcd", got)
	}
}

func TestTransport_DropsUndecodableMessages(t *testing.T) {
	fs := newFakeServer(t)
	tr := newTestTransport(fs.url())
	defer tr.Close()

	var col collector
	tr.Subscribe(protocol.EventEntityCreated, col.handle)
	tr.Connect(context.Background())
	conn := fs.next(t)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"mystery","group_id":"g"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
	send(t, conn, protocol.EntityCreated{UUID: "ok"})

	waitFor(t, "valid event", func() bool { return len(col.got()) == 1 })
	st := tr.Stats()
	if st.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", st.Dropped)
	}
	if st.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", st.Delivered)
	}
}

func TestTransport_SubscriptionsSurviveReconnect(t *testing.T) {
	fs := newFakeServer(t)
	tr := newTestTransport(fs.url())
	defer tr.Close()

	var col collector
	tr.Subscribe(protocol.EventEntityCreated, col.handle)

	var statesMu sync.Mutex
	var states []State
	tr.OnStateChange(func(s State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})

	tr.Connect(context.Background())
	first := fs.next(t)
	send(t, first, protocol.EntityCreated{UUID: "before"})
	waitFor(t, "first event", func() bool { return len(col.got()) == 1 })

	first.Close()

	second := fs.next(t)
	waitFor(t, "reconnected", func() bool { return tr.Stats().Connects == 2 && tr.State() == StateConnected })
	send(t, second, protocol.EntityCreated{UUID: "after"})
	waitFor(t, "second event", func() bool { return len(col.got()) == 2 })

	statesMu.Lock()
	defer statesMu.Unlock()
	var sawReconnecting bool
	for _, s := range states {
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("states = %v, expected a reconnecting transition", states)
	}
}

func TestTransport_DialFailureReportsErrorState(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.url()
	fs.srv.Close()

	tr := newTestTransport(url)
	defer tr.Close()

	var sawError atomic.Bool
	tr.OnStateChange(func(s State) {
		if s == StateError {
			sawError.Store(true)
		}
	})
	tr.Connect(context.Background())

	waitFor(t, "error state", sawError.Load)
}

func TestTransport_CloseSetsDisconnected(t *testing.T) {
	fs := newFakeServer(t)
	tr := newTestTransport(fs.url())

	tr.Connect(context.Background())
	fs.next(t)
	waitFor(t, "connected", func() bool { return tr.State() == StateConnected })

	tr.Close()
	if s := tr.State(); s != StateDisconnected {
		t.Errorf("state after close = %s, want disconnected", s)
	}
}

func TestTransport_ConnectWithoutURL(t *testing.T) {
	tr := New(Options{})
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("expected error without URL")
	}
}
