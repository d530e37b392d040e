package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/graphiti-browser/internal/chat"
	"github.com/nextlevelbuilder/graphiti-browser/internal/config"
	"github.com/nextlevelbuilder/graphiti-browser/internal/kvstore"
	"github.com/nextlevelbuilder/graphiti-browser/internal/notify"
	"github.com/nextlevelbuilder/graphiti-browser/internal/querycache"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// backend fakes the Graphiti, Xerro and llamacpp REST surfaces on one
// server and optionally serves the task event socket at /ws.
type backend struct {
	srv       *httptest.Server
	taskLists atomic.Int32
	deletes   atomic.Int32
	conns     chan *websocket.Conn
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scheduled-tasks", func(w http.ResponseWriter, r *http.Request) {
		b.taskLists.Add(1)
		json.NewEncoder(w).Encode([]map[string]any{{"id": "t1", "name": "digest", "schedule": "0 9 * * *"}})
	})
	mux.HandleFunc("DELETE /api/scheduled-tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.deletes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/scheduled-tasks/executions/running", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","services":[]}`))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"loading model"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
		b.conns <- c
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) wsURL() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws" }

func (b *backend) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("transport never connected")
		return nil
	}
}

func testConfig(b *backend) *config.Config {
	cfg := config.Default()
	cfg.GroupID = "g1"
	cfg.Graphiti = config.ServiceConfig{URL: b.srv.URL}
	cfg.Xerro = config.ServiceConfig{URL: b.srv.URL}
	cfg.Llama = config.ServiceConfig{URL: b.srv.URL}
	cfg.Storage = config.StorageConfig{Driver: "memory"}
	cfg.Notifications.Terminal = false
	cfg.Transport.BackoffBaseMs = 10
	cfg.Transport.BackoffMaxMs = 20
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	a, err := Init(context.Background(), cfg, WithoutLogSetup(), WithNotifier(rec))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(a.Close)
	return a, rec
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

func TestInit_CloseWithoutStart(t *testing.T) {
	b := newBackend(t)
	a, _ := newTestApp(t, testConfig(b))

	if a.Graph != nil || a.Tasks != nil {
		t.Error("transports built without websocket urls")
	}
	a.Close()
	a.Close()
}

func TestInit_IndependentInstances(t *testing.T) {
	b := newBackend(t)
	a1, _ := newTestApp(t, testConfig(b))
	a2, _ := newTestApp(t, testConfig(b))

	a1.Chat.AddMessage(chat.Message{Role: chat.RoleUser, Content: "hello"})
	if n := len(a2.Chat.Messages()); n != 0 {
		t.Errorf("second instance sees %d messages", n)
	}
	if a1.Cache == a2.Cache || a1.Router == a2.Router {
		t.Error("instances share components")
	}
}

func TestInit_StorageFallsBackToMemory(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(b)
	cfg.Storage = config.StorageConfig{Driver: "nosuchdb"}

	a, _ := newTestApp(t, cfg)
	if _, ok := a.KV.(*kvstore.MemoryStore); !ok {
		t.Errorf("kv = %T, want memory fallback", a.KV)
	}
}

func TestApp_MutationInvalidatesLocally(t *testing.T) {
	b := newBackend(t)
	a, _ := newTestApp(t, testConfig(b))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tasks, err := a.ListTasks(ctx)
		if err != nil || len(tasks) != 1 {
			t.Fatalf("tasks: %v %v", tasks, err)
		}
	}
	if n := b.taskLists.Load(); n != 1 {
		t.Fatalf("list calls = %d, want 1 (second read cached)", n)
	}

	if err := a.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, ok := a.Cache.Get(querycache.K(querycache.ResScheduledTasks))
	if !ok || !snap.Stale {
		t.Fatalf("task list not invalidated: %+v", snap)
	}

	if _, err := a.ListTasks(ctx); err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if n := b.taskLists.Load(); n != 2 {
		t.Errorf("list calls = %d, want 2", n)
	}
}

func TestApp_PushEventsReachCacheAndPresence(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(b)
	cfg.Xerro.WSURL = b.wsURL()
	a, rec := newTestApp(t, cfg)
	ctx := context.Background()

	if _, err := a.ListTasks(ctx); err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := b.nextConn(t)
	<-a.PresenceReady()

	send := func(e protocol.Event) {
		data, err := protocol.EncodeFrame(e, time.Now())
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(protocol.AgentStatus{ExecutionID: "x1", TaskID: "t1", Status: protocol.StatusRunning})
	waitFor(t, "presence running", a.Presence.IsRunning)

	send(protocol.NewTaskChanged(protocol.EventTaskDeleted, "t1"))
	waitFor(t, "task list invalidated", func() bool {
		snap, ok := a.Cache.Get(querycache.K(querycache.ResScheduledTasks))
		return ok && snap.Stale
	})

	send(protocol.AgentStatus{ExecutionID: "x1", TaskID: "t1", Status: protocol.StatusCompleted})
	waitFor(t, "presence idle", func() bool { return !a.Presence.IsRunning() })
	waitFor(t, "completion toast", func() bool {
		for _, toast := range rec.Toasts() {
			if toast.Title == "Task completed" {
				return true
			}
		}
		return false
	})
}

func TestApp_SubscribeSeesEveryEvent(t *testing.T) {
	b := newBackend(t)
	cfg := testConfig(b)
	cfg.Xerro.WSURL = b.wsURL()
	a, _ := newTestApp(t, cfg)

	var seen atomic.Int32
	cancel := a.Subscribe(func(source string, evt protocol.Event) {
		if source == "tasks" {
			seen.Add(1)
		}
	})
	defer cancel()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := b.nextConn(t)
	data, _ := protocol.EncodeFrame(protocol.NewDocumentChanged(protocol.EventDocumentAdded, "a.md"), time.Now())
	conn.WriteMessage(websocket.TextMessage, data)

	waitFor(t, "event delivered", func() bool { return seen.Load() == 1 })
}

func TestApp_HealthCheckersAndToasts(t *testing.T) {
	b := newBackend(t)
	a, rec := newTestApp(t, testConfig(b))

	statuses := a.Health.CheckAll(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("statuses = %+v", statuses)
	}
	byName := map[string]bool{}
	for _, s := range statuses {
		byName[s.Service] = s.Healthy
	}
	if !byName["graphiti"] || !byName["xerro"] || byName["llamacpp"] {
		t.Errorf("health = %v", byName)
	}

	toasts := rec.Toasts()
	if len(toasts) != 1 || toasts[0].Title != "Service unavailable" {
		t.Errorf("toasts = %+v", toasts)
	}
}

func TestApp_NotificationsToggleGatesToasts(t *testing.T) {
	b := newBackend(t)
	a, rec := newTestApp(t, testConfig(b))
	ctx := context.Background()

	a.Prefs.SetNotificationsDisabled(ctx, true)
	a.Notifier.Notify(notify.Toast{Level: notify.LevelSuccess, Title: "quiet"})
	a.Notifier.Notify(notify.Toast{Level: notify.LevelError, Title: "loud"})

	toasts := rec.Toasts()
	if len(toasts) != 1 || toasts[0].Title != "loud" {
		t.Errorf("toasts = %+v", toasts)
	}
}

func TestResolveToken(t *testing.T) {
	keyring.MockInit()

	if tok, err := ResolveToken(config.AuthConfig{UseKeyring: true}); err != nil || tok != "" {
		t.Fatalf("empty keyring: %q %v", tok, err)
	}
	if err := SaveToken("s3cret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tok, _ := ResolveToken(config.AuthConfig{UseKeyring: true}); tok != "s3cret" {
		t.Errorf("keyring token = %q", tok)
	}
	if tok, _ := ResolveToken(config.AuthConfig{Token: "cfg", UseKeyring: true}); tok != "cfg" {
		t.Errorf("config token should win, got %q", tok)
	}
	if tok, _ := ResolveToken(config.AuthConfig{}); tok != "" {
		t.Errorf("keyring read without use_keyring: %q", tok)
	}
	if err := DeleteToken(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeleteToken(); err != nil {
		t.Errorf("second delete: %v", err)
	}
	if err := SaveToken(""); err == nil {
		t.Error("empty token accepted")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "chatty": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestApplyConfig_UpdatesLevel(t *testing.T) {
	b := newBackend(t)
	a, _ := newTestApp(t, testConfig(b))

	next := testConfig(b)
	next.Log.Level = "error"
	a.applyConfig(next)
	if a.Level.Level() != slog.LevelError {
		t.Errorf("level = %v, want error", a.Level.Level())
	}
}

func TestApplyConfig_NotificationWindow(t *testing.T) {
	b := newBackend(t)
	a, rec := newTestApp(t, testConfig(b))

	toast := notify.Toast{Level: notify.LevelInfo, Title: "Document updated", Key: "doc:notes/a.md"}
	a.Notifier.Notify(toast)
	a.Notifier.Notify(toast)
	if n := len(rec.Toasts()); n != 1 {
		t.Fatalf("toasts = %d, want 1 inside the default window", n)
	}

	next := testConfig(b)
	next.Notifications.DedupeWindowMs = 1
	a.applyConfig(next)
	time.Sleep(5 * time.Millisecond)
	a.Notifier.Notify(toast)

	if n := len(rec.Toasts()); n != 2 {
		t.Errorf("toasts = %d, want 2 after shrinking the window", n)
	}
}
