// Package querycache is the client-side query cache. Entries are identified
// by structured keys, filled only by their fetch functions, and refreshed
// through invalidation; nothing outside the cache writes entry data.
package querycache

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the current server state for one key.
type FetchFunc func(ctx context.Context) (any, error)

// Snapshot is a read-only view of one entry.
type Snapshot struct {
	Key       Key
	Data      any
	Err       error
	HasData   bool
	Stale     bool
	Fetching  bool
	UpdatedAt time.Time
	Fetches   int
}

// Value returns the snapshot data as T.
func Value[T any](s Snapshot) (T, bool) {
	v, ok := s.Data.(T)
	return v, ok
}

const (
	defaultMaxIdle      = 256
	defaultFetchTimeout = 30 * time.Second
)

// Options configures a Cache.
type Options struct {
	MaxIdle      int           // unobserved entries kept before LRU eviction
	FetchTimeout time.Duration // per background fetch
}

type entry struct {
	key   Key
	id    string
	gen   uint64
	fetch FetchFunc

	data      any
	err       error
	hasData   bool
	stale     bool
	fetching  bool
	updatedAt time.Time
	fetches   int

	observers map[uint64]*Observation
}

func (e *entry) flightKey() string {
	return e.id + "#" + strconv.FormatUint(e.gen, 10)
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:       e.key,
		Data:      e.data,
		Err:       e.err,
		HasData:   e.hasData,
		Stale:     e.stale,
		Fetching:  e.fetching,
		UpdatedAt: e.updatedAt,
		Fetches:   e.fetches,
	}
}

// Cache holds query results. All mutation goes through Observe, Fetch,
// Invalidate and InvalidateObserved.
type Cache struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*entry
	idle    *lru.Cache[string, *entry]
	seq     uint64
	flights singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = defaultMaxIdle
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	c := &Cache{
		opts:    opts,
		entries: make(map[string]*entry),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	// The eviction callback runs synchronously inside idle.Add/Remove, which
	// are only called with c.mu held.
	idle, err := lru.NewWithEvict[string, *entry](opts.MaxIdle, func(id string, e *entry) {
		if len(e.observers) == 0 && c.entries[id] == e {
			delete(c.entries, id)
		}
	})
	if err != nil {
		panic(err) // only on non-positive size, excluded above
	}
	c.idle = idle
	return c
}

// Close cancels in-flight background fetches.
func (c *Cache) Close() {
	c.cancel()
}

// Observation is a live interest in one key. While open, invalidations of
// the key trigger an immediate refetch and onChange receives every result.
type Observation struct {
	cache    *Cache
	entry    *entry
	id       uint64
	onChange func(Snapshot)
	closed   atomic.Bool
}

// Close ends the observation. onChange is not called after Close returns.
func (o *Observation) Close() {
	if o == nil || o.closed.Swap(true) {
		return
	}
	c := o.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(o.entry.observers, o.id)
	if len(o.entry.observers) == 0 && c.entries[o.entry.id] == o.entry {
		c.idle.Add(o.entry.id, o.entry)
	}
}

// Snapshot returns the current state of the observed entry.
func (o *Observation) Snapshot() Snapshot {
	o.cache.mu.Lock()
	defer o.cache.mu.Unlock()
	return o.entry.snapshot()
}

func (o *Observation) deliver(s Snapshot) {
	if o.closed.Load() || o.onChange == nil {
		return
	}
	o.onChange(s)
}

// Observe registers interest in key. A fetch starts if the entry has no data
// or is stale; otherwise onChange receives the cached snapshot right away.
func (c *Cache) Observe(key Key, fetch FetchFunc, onChange func(Snapshot)) *Observation {
	c.mu.Lock()
	e := c.lookupLocked(key)
	e.fetch = fetch

	c.seq++
	obs := &Observation{cache: c, entry: e, id: c.seq, onChange: onChange}
	e.observers[obs.id] = obs
	c.idle.Remove(e.id)

	start := (!e.hasData || e.stale) && !e.fetching
	if start {
		e.fetching = true
	}
	fresh := e.hasData && !e.stale
	snap := e.snapshot()
	c.mu.Unlock()

	if start {
		go c.load(c.ctx, e, fetch)
	} else if fresh {
		obs.deliver(snap)
	}
	return obs
}

// Fetch reads key through the cache: fresh data is returned as is, anything
// else is loaded (joining an in-flight load for the same key if one exists).
func (c *Cache) Fetch(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	c.mu.Lock()
	e := c.lookupLocked(key)
	if e.fetch == nil {
		e.fetch = fetch
	}
	if e.hasData && !e.stale {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	if len(e.observers) == 0 {
		c.idle.Add(e.id, e)
	}
	c.mu.Unlock()

	return c.load(ctx, e, fetch)
}

// Invalidate marks every entry whose key starts with prefix as stale.
// Observed entries refetch immediately unless a fetch for them is already
// running, in which case the invalidation joins it. Unobserved entries
// refetch on their next observation. It returns the number of entries
// matched.
func (c *Cache) Invalidate(prefix Key) int {
	type job struct {
		e     *entry
		fetch FetchFunc
	}

	c.mu.Lock()
	var jobs []job
	matched := 0
	for _, e := range c.entries {
		if !e.key.HasPrefix(prefix) {
			continue
		}
		matched++
		e.stale = true
		if len(e.observers) > 0 && !e.fetching && e.fetch != nil {
			e.fetching = true
			jobs = append(jobs, job{e: e, fetch: e.fetch})
		}
	}
	c.mu.Unlock()

	for _, j := range jobs {
		go c.load(c.ctx, j.e, j.fetch)
	}
	if matched > 0 {
		slog.Debug("querycache: invalidated", "prefix", prefix.String(), "matched", matched, "refetching", len(jobs))
	}
	return matched
}

// InvalidateObserved marks every entry stale and refetches the observed
// ones. Used to reconcile after a push connection has been re-established.
func (c *Cache) InvalidateObserved() int {
	return c.Invalidate(nil)
}

// Get returns the snapshot for key without fetching.
func (c *Cache) Get(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of entries held, observed or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// lookupLocked returns the live entry for key, creating it if needed.
func (c *Cache) lookupLocked(key Key) *entry {
	id := key.String()
	if e, ok := c.entries[id]; ok {
		return e
	}
	c.seq++
	e := &entry{
		key:       key.Clone(),
		id:        id,
		gen:       c.seq,
		observers: make(map[uint64]*Observation),
	}
	c.entries[id] = e
	return e
}

// load runs fetch for e, coalesced per entry generation.
func (c *Cache) load(ctx context.Context, e *entry, fetch FetchFunc) (any, error) {
	ch := c.flights.DoChan(e.flightKey(), func() (any, error) {
		c.mu.Lock()
		e.fetching = true
		c.mu.Unlock()

		fctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
		defer cancel()
		data, err := fetch(fctx)
		c.apply(e, data, err)
		return data, err
	})

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// apply stores a fetch result if e is still the live entry for its key.
// Results for entries that were evicted or replaced meanwhile are dropped.
func (c *Cache) apply(e *entry, data any, err error) {
	c.mu.Lock()
	e.fetching = false
	if c.entries[e.id] != e {
		c.mu.Unlock()
		slog.Debug("querycache: discarding response for evicted entry", "key", e.id)
		return
	}

	e.fetches++
	if err != nil {
		e.err = err
		slog.Warn("querycache: fetch failed", "key", e.id, "error", err)
	} else {
		e.data = data
		e.err = nil
		e.hasData = true
		e.stale = false
		e.updatedAt = time.Now()
	}
	snap := e.snapshot()
	observers := make([]*Observation, 0, len(e.observers))
	for _, o := range e.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	for _, o := range observers {
		o.deliver(snap)
	}
}
