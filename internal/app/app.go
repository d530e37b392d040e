// Package app assembles the client runtime. Every component is built here
// explicitly and owned by one App value; nothing is a package-level
// singleton, so tests create as many independent instances as they need.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/graphiti-browser/internal/api"
	"github.com/nextlevelbuilder/graphiti-browser/internal/chat"
	"github.com/nextlevelbuilder/graphiti-browser/internal/config"
	"github.com/nextlevelbuilder/graphiti-browser/internal/health"
	"github.com/nextlevelbuilder/graphiti-browser/internal/invalidation"
	"github.com/nextlevelbuilder/graphiti-browser/internal/kvstore"
	"github.com/nextlevelbuilder/graphiti-browser/internal/notify"
	"github.com/nextlevelbuilder/graphiti-browser/internal/prefs"
	"github.com/nextlevelbuilder/graphiti-browser/internal/presence"
	"github.com/nextlevelbuilder/graphiti-browser/internal/querycache"
	"github.com/nextlevelbuilder/graphiti-browser/internal/tracing"
	"github.com/nextlevelbuilder/graphiti-browser/internal/transport"
	"github.com/nextlevelbuilder/graphiti-browser/pkg/protocol"
)

// App is one running client.
type App struct {
	Config *config.Config
	Level  *slog.LevelVar

	KV       kvstore.Store
	Prefs    *prefs.Prefs
	Cache    *querycache.Cache
	Notifier notify.Notifier
	Router   *invalidation.Router

	Graph *transport.Transport // graph channel, nil when not configured
	Tasks *transport.Transport // task/document channel, nil when not configured

	Graphiti *api.Graphiti
	Xerro    *api.Xerro
	Llama    *api.Llama

	Chat     *chat.Store
	Turns    *chat.Orchestrator
	Presence *presence.Tracker
	Health   *health.Monitor

	opts          options
	gate          *notify.Gate
	terminal      bool
	watcher       *config.Watcher
	stopTracing   tracing.ShutdownFunc
	presenceReady chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

type options struct {
	configPath string
	verbose    bool
	version    string
	logOutput  io.Writer
	notifier   notify.Notifier
	httpClient *http.Client
	onChunk    func(string)
	noLogSetup bool
}

// Option customizes Init.
type Option func(*options)

// WithConfigPath enables hot reload of the given file.
func WithConfigPath(path string) Option { return func(o *options) { o.configPath = path } }

// WithVerbose forces debug logging.
func WithVerbose(v bool) Option { return func(o *options) { o.verbose = v } }

// WithVersion sets the version reported to tracing.
func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// WithLogOutput redirects logs (default stderr).
func WithLogOutput(w io.Writer) Option { return func(o *options) { o.logOutput = w } }

// WithoutLogSetup leaves the process default logger untouched.
func WithoutLogSetup() Option { return func(o *options) { o.noLogSetup = true } }

// WithNotifier replaces the terminal/log notifier. Gating still applies.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithHTTPClient sets the client shared by the REST collaborators.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithChunkHandler receives streamed chat text.
func WithChunkHandler(fn func(string)) Option { return func(o *options) { o.onChunk = fn } }

// Init builds every component from cfg. Nothing connects until Start.
func Init(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logOutput == nil {
		o.logOutput = os.Stderr
	}

	a := &App{Config: cfg, opts: o, presenceReady: make(chan struct{})}
	if o.noLogSetup {
		a.Level = new(slog.LevelVar)
	} else {
		a.Level = SetupLogging(o.logOutput, cfg.Log, o.verbose)
	}

	stop, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     o.version,
	})
	if err != nil {
		slog.Warn("app: tracing disabled", "error", err)
		stop = func(context.Context) error { return nil }
	}
	a.stopTracing = stop

	a.KV = openStorage(ctx, cfg.Storage)
	a.Prefs = prefs.New(a.KV)

	a.Cache = querycache.New(querycache.Options{
		MaxIdle:      cfg.Cache.MaxIdleEntries,
		FetchTimeout: ms(cfg.Cache.FetchTimeoutMs),
	})

	a.Notifier = a.buildNotifier(o.notifier)
	a.Router = invalidation.NewRouter(a.Cache, a.Notifier)

	token, err := ResolveToken(cfg.Auth)
	if err != nil {
		slog.Warn("app: continuing without token", "error", err)
	}
	a.buildClients(token, o.httpClient)
	a.buildTransports(token)

	a.Chat = chat.NewStore(ctx, a.KV, cfg.GroupID, chat.Limits{
		MaxMessages: cfg.Chat.MaxMessages,
		MaxTokens:   cfg.Chat.MaxTokens,
	})
	a.Turns = chat.NewOrchestrator(a.Chat, a.Xerro, a.Notifier, chat.Options{
		HistoryTurns:     cfg.Chat.HistoryTurns,
		MaxRequestTokens: cfg.Chat.MaxRequestTokens,
		Counter:          chat.NewCounter(cfg.Chat.TokenizerModel),
		Stream:           cfg.Chat.Stream,
		OnChunk:          o.onChunk,
	})

	a.Presence = presence.New(a.Xerro.RunningExecutionIDs)
	a.Presence.OnChange(func(running bool) {
		slog.Debug("app: running executions changed", "running", running)
	})

	a.Health = health.New(time.Duration(cfg.Health.IntervalSec)*time.Second, a.checkers()...)
	a.Health.OnChange(a.onHealthChange)

	if o.configPath != "" {
		a.watcher = config.NewWatcher(o.configPath)
		a.watcher.OnChange(a.applyConfig)
	}

	slog.Debug("app: initialized", "group", cfg.GroupID, "storage", cfg.Storage.Driver)
	return a, nil
}

// openStorage opens the configured backend, falling back to memory so a
// broken store degrades persistence instead of failing startup.
func openStorage(ctx context.Context, cfg config.StorageConfig) kvstore.Store {
	kv, err := kvstore.Open(ctx, kvstore.Config{
		Driver:        cfg.Driver,
		Path:          cfg.Path,
		DSN:           cfg.DSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		slog.Warn("app: storage unavailable, state is kept in memory for this session", "driver", cfg.Driver, "error", err)
		return kvstore.NewMemoryStore()
	}
	return kv
}

func (a *App) buildNotifier(override notify.Notifier) notify.Notifier {
	next := override
	if next == nil {
		next = toastSink(a.Config.Notifications)
	}
	a.terminal = a.Config.Notifications.Terminal
	disabled := func() bool { return a.Prefs.NotificationsDisabled(context.Background()) }
	a.gate = notify.NewGate(next, disabled, ms(a.Config.Notifications.DedupeWindowMs))
	return a.gate
}

func toastSink(cfg config.NotificationsConfig) notify.Notifier {
	if cfg.Terminal {
		return notify.NewTerminalNotifier(os.Stderr)
	}
	return notify.LogNotifier{}
}

func (a *App) buildClients(token string, hc *http.Client) {
	cfg := a.Config
	client := func(service, baseURL string, timeout time.Duration) *api.Client {
		return api.NewClient(api.Options{
			BaseURL:           baseURL,
			Token:             token,
			Service:           service,
			Timeout:           timeout,
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			Burst:             cfg.API.Burst,
			HTTPClient:        hc,
		})
	}
	timeout := time.Duration(cfg.API.TimeoutSec) * time.Second
	a.Graphiti = api.NewGraphiti(client("graphiti", cfg.Graphiti.URL, timeout))
	a.Xerro = api.NewXerro(client("xerro", cfg.Xerro.URL, time.Duration(cfg.API.ChatTimeoutSec)*time.Second))
	a.Llama = api.NewLlama(client("llamacpp", cfg.Llama.URL, timeout))
}

func (a *App) buildTransports(token string) {
	cfg := a.Config
	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": {"Bearer " + token}}
	}
	build := func(name, url string, decode transport.Decoder) *transport.Transport {
		if url == "" {
			return nil
		}
		return transport.New(transport.Options{
			Name:         name,
			URL:          url,
			Header:       header,
			Decode:       decode,
			Backoff:      transport.Backoff{Base: ms(cfg.Transport.BackoffBaseMs), Max: ms(cfg.Transport.BackoffMaxMs)},
			PingInterval: time.Duration(cfg.Transport.PingIntervalSec) * time.Second,
			ReadLimit:    cfg.Transport.ReadLimitBytes,
		})
	}
	a.Graph = build("graph", cfg.Graphiti.WSURL, protocol.DecodeEnvelope)
	a.Tasks = build("tasks", cfg.Xerro.WSURL, protocol.DecodeFrame)
}

func (a *App) checkers() []health.Checker {
	var out []health.Checker
	if a.Config.Graphiti.URL != "" {
		out = append(out, health.CheckFunc("graphiti", a.Graphiti.Healthcheck))
	}
	if a.Config.Xerro.URL != "" {
		out = append(out, health.CheckFunc("xerro", func(ctx context.Context) (string, error) {
			h, err := a.Xerro.ServiceHealth(ctx)
			if err != nil {
				return "", err
			}
			return h.Status, nil
		}))
	}
	if a.Config.Llama.URL != "" {
		out = append(out, health.CheckFunc("llamacpp", func(ctx context.Context) (string, error) {
			h, err := a.Llama.Health(ctx)
			if err != nil {
				return "", err
			}
			return h.Status, nil
		}))
	}
	return out
}

func (a *App) onHealthChange(st health.Status) {
	if st.Healthy {
		a.Notifier.Notify(notify.Toast{
			Level: notify.LevelSuccess, Title: "Service recovered", Message: st.Service,
			Key: "health:" + st.Service + ":up",
		})
		return
	}
	msg := st.Service
	if st.Err != nil {
		msg = fmt.Sprintf("%s: %v", st.Service, st.Err)
	}
	a.Notifier.Notify(notify.Toast{
		Level: notify.LevelError, Title: "Service unavailable", Message: msg,
		Key: "health:" + st.Service + ":down",
	})
}

// applyConfig takes the reloadable parts of a new config: log level and
// notification settings. Everything else needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if !a.opts.verbose {
		a.Level.Set(ParseLevel(cfg.Log.Level))
	}

	a.gate.SetWindow(ms(cfg.Notifications.DedupeWindowMs))
	a.mu.Lock()
	swap := a.opts.notifier == nil && cfg.Notifications.Terminal != a.terminal
	a.terminal = cfg.Notifications.Terminal
	a.mu.Unlock()
	if swap {
		a.gate.SetNext(toastSink(cfg.Notifications))
		slog.Info("app: notification output changed", "terminal", cfg.Notifications.Terminal)
	}

	if cfg.Graphiti != a.Config.Graphiti || cfg.Xerro != a.Config.Xerro || cfg.Storage != a.Config.Storage || cfg.GroupID != a.Config.GroupID {
		slog.Warn("app: endpoint, storage or group changes take effect after restart")
	}
}

// Start connects the event transports, attaches the invalidation router,
// seeds presence and starts health polling. The router is attached before
// connecting so the first connected state is seen.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	for _, t := range a.transports() {
		a.Router.Attach(t)
	}

	var g errgroup.Group
	for _, t := range a.transports() {
		g.Go(func() error {
			if err := t.Connect(ctx); err != nil {
				return fmt.Errorf("%s transport: %w", t.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	go func() {
		defer close(a.presenceReady)
		if a.Tasks != nil {
			a.Presence.Start(ctx, a.Tasks)
		}
	}()

	a.Health.Start(ctx)

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			slog.Warn("app: config hot reload disabled", "error", err)
			a.watcher = nil
		}
	}
	slog.Info("app: started", "group", a.Config.GroupID, "transports", len(a.transports()))
	return nil
}

// PresenceReady is closed once the running set has been seeded.
func (a *App) PresenceReady() <-chan struct{} { return a.presenceReady }

func (a *App) transports() []*transport.Transport {
	var out []*transport.Transport
	for _, t := range []*transport.Transport{a.Graph, a.Tasks} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Subscribe delivers every event from every transport to fn. The returned
// func cancels.
func (a *App) Subscribe(fn func(source string, evt protocol.Event)) func() {
	var cancels []func()
	for _, t := range a.transports() {
		name := t.Name()
		sub := t.SubscribeAll(func(evt protocol.Event) { fn(name, evt) })
		cancels = append(cancels, sub.Cancel)
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Close tears everything down in reverse construction order. It is safe to
// call more than once.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.Health.Stop()
	if started {
		<-a.presenceReady
	}
	a.Presence.Stop()
	a.Router.Detach()
	for _, t := range a.transports() {
		t.Close()
	}
	a.Cache.Close()
	if err := a.KV.Close(); err != nil {
		slog.Warn("app: closing storage", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.stopTracing(ctx); err != nil {
		slog.Warn("app: flushing traces", "error", err)
	}
	slog.Debug("app: closed")
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
