// Package health polls the backend services and reports when one of them
// goes down or comes back.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/graphiti-browser/internal/bus"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 5 * time.Second
)

// Checker probes one service. A nil error means healthy; detail is shown
// next to the status either way.
type Checker interface {
	Name() string
	Check(ctx context.Context) (detail string, err error)
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) (string, error)
}

func (c checkFunc) Name() string                              { return c.name }
func (c checkFunc) Check(ctx context.Context) (string, error) { return c.fn(ctx) }

// CheckFunc adapts a function to a Checker.
func CheckFunc(name string, fn func(ctx context.Context) (string, error)) Checker {
	return checkFunc{name: name, fn: fn}
}

// Status is the outcome of the latest check of one service.
type Status struct {
	Service   string
	Healthy   bool
	Detail    string
	CheckedAt time.Time
	Err       error
}

// Monitor polls its checkers concurrently every interval.
type Monitor struct {
	checkers []Checker
	interval time.Duration
	timeout  time.Duration
	changes  bus.Fanout[Status]

	mu      sync.Mutex
	last    map[string]Status
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Monitor. A non-positive interval means 30s.
func New(interval time.Duration, checkers ...Checker) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		checkers: checkers,
		interval: interval,
		timeout:  defaultTimeout,
		last:     make(map[string]Status),
	}
}

// OnChange registers fn for health flips. The first result for a service
// counts as a change only when it is unhealthy.
func (m *Monitor) OnChange(fn func(Status)) *bus.Subscription {
	return m.changes.Add(fn)
}

// CheckAll runs every checker once, concurrently, and returns the results
// ordered by service name.
func (m *Monitor) CheckAll(ctx context.Context) []Status {
	results := make([]Status, len(m.checkers))

	var g errgroup.Group
	for i, c := range m.checkers {
		g.Go(func() error {
			results[i] = m.probe(ctx, c)
			return nil
		})
	}
	g.Wait()

	var flipped []Status
	m.mu.Lock()
	for _, st := range results {
		prev, seen := m.last[st.Service]
		m.last[st.Service] = st
		if (!seen && !st.Healthy) || (seen && prev.Healthy != st.Healthy) {
			flipped = append(flipped, st)
		}
	}
	m.mu.Unlock()

	for _, st := range flipped {
		if st.Healthy {
			slog.Info("health: service recovered", "service", st.Service)
		} else {
			slog.Warn("health: service unhealthy", "service", st.Service, "error", st.Err)
		}
		m.changes.Emit(st)
	}

	sortStatuses(results)
	return results
}

func (m *Monitor) probe(ctx context.Context, c Checker) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	detail, err := c.Check(ctx)
	return Status{
		Service:   c.Name(),
		Healthy:   err == nil,
		Detail:    detail,
		CheckedAt: time.Now(),
		Err:       err,
	}
}

// Statuses returns the latest result per service, ordered by name.
func (m *Monitor) Statuses() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.last))
	for _, st := range m.last {
		out = append(out, st)
	}
	m.mu.Unlock()
	sortStatuses(out)
	return out
}

func sortStatuses(s []Status) {
	sort.Slice(s, func(i, j int) bool { return s[i].Service < s[j].Service })
}

// Start checks immediately and then every interval until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.loop(ctx, done)
	slog.Info("health: monitor started", "services", len(m.checkers), "interval", m.interval)
}

// Stop halts polling and waits for an in-progress round to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.CheckAll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}
