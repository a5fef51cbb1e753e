// Package query caches weather lookups per city. It de-duplicates in-flight
// requests, serves fresh results without a network call, retries a failed
// fetch once and keeps subscribed keys refreshed in the background.
package query

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/cityweather/internal/metrics"
	"github.com/lox/cityweather/internal/models"
)

const (
	DefaultStaleTime       = 30 * time.Second
	DefaultRefetchInterval = 60 * time.Second
	DefaultRetryDelay      = time.Second
	DefaultGCTime          = 5 * time.Minute
)

var ErrClosed = errors.New("query cache closed")

// Fetcher performs one lookup. *weatherapi.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, city string) models.Result
}

// Options are used as given; zero durations mean "none". Start from
// DefaultOptions.
type Options struct {
	StaleTime       time.Duration
	RefetchInterval time.Duration // 0 disables background refresh
	Retry           int
	RetryDelay      time.Duration
	GCTime          time.Duration // unobserved entries idle this long are evicted; 0 keeps them
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		StaleTime:       DefaultStaleTime,
		RefetchInterval: DefaultRefetchInterval,
		Retry:           1,
		RetryDelay:      DefaultRetryDelay,
		GCTime:          DefaultGCTime,
		Now:             time.Now,
	}
}

// State is what an observer sees for one key.
type State struct {
	Data       *models.Weather
	Failure    *models.Failure
	IsLoading  bool // fetching and nothing to show yet
	IsFetching bool
	IsError    bool
	UpdatedAt  time.Time
	Generation uint64 // bumped every time a fetch starts or the entry is primed
}

type Cache struct {
	fetcher Fetcher
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	entries map[models.WeatherQuery]*entry
}

type entry struct {
	key       models.WeatherQuery
	data      *models.Weather
	failure   *models.Failure
	fetchedAt time.Time
	stale     bool
	inflight  *call
	refetch   bool // invalidated while a call was in flight
	started   uint64
	applied   uint64
	lastUsed  time.Time
	subs      map[*Subscription]struct{}
}

type call struct {
	gen  uint64
	done chan struct{}
	res  models.Result
}

func New(fetcher Fetcher, opts Options) *Cache {
	if fetcher == nil {
		panic("query: nil fetcher")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		fetcher: fetcher,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[models.WeatherQuery]*entry),
	}
	if opts.GCTime > 0 {
		c.wg.Add(1)
		go c.janitor(opts.GCTime)
	}
	return c
}

// Fetch returns the cached result for key if it is fresh, even while a
// background refresh is running. Otherwise it joins or starts a fetch and
// waits for it. The returned result is that fetch's own outcome; observers of
// key see the entry state, which may be newer.
func (c *Cache) Fetch(ctx context.Context, key models.WeatherQuery) (models.Result, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	if c.freshLocked(e) {
		w := e.data
		c.mu.Unlock()
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return models.Success(w), nil
	}
	cl := c.ensureLocked(e)
	c.mu.Unlock()

	if cl == nil {
		return models.Result{}, ErrClosed
	}

	select {
	case <-cl.done:
		return cl.res, nil
	case <-ctx.Done():
		return models.Result{}, ctx.Err()
	}
}

// Peek returns the current state for key without fetching.
func (c *Cache) Peek(key models.WeatherQuery) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{}, false
	}
	return c.stateLocked(e), true
}

// Prime stores w as the newest result for key. Any fetch already in flight
// for key is discarded when it lands.
func (c *Cache) Prime(key models.WeatherQuery, w *models.Weather) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(key)
	e.started++
	e.applied = e.started
	e.data = w
	e.failure = nil
	e.fetchedAt = c.opts.Now()
	e.stale = false
	c.notifyLocked(e)
}

// Invalidate marks key stale. Observed keys are refetched straight away, or
// as soon as the fetch in flight completes.
func (c *Cache) Invalidate(key models.WeatherQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.stale = true
	if len(e.subs) == 0 {
		return
	}
	if e.inflight != nil {
		e.refetch = true
		return
	}
	c.startLocked(e)
}

// Focus soft-refreshes every observed key, as when the view regains focus.
func (c *Cache) Focus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if len(e.subs) > 0 && e.inflight == nil {
			c.startLocked(e)
		}
	}
}

// GC evicts entries that have no observers, no fetch in flight and have not
// been used for GCTime.
func (c *Cache) GC() int {
	if c.opts.GCTime <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	evicted := 0
	for key, e := range c.entries {
		if len(e.subs) > 0 || e.inflight != nil {
			continue
		}
		if now.Sub(e.lastUsed) >= c.opts.GCTime {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.CacheEvictedTotal.Add(float64(evicted))
	}
	return evicted
}

func (c *Cache) janitor(gcTime time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(gcTime)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.GC(); n > 0 {
				log.Printf("query: evicted %d idle entries", n)
			}
		}
	}
}

// Close cancels background work and waits for it to stop.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) entryLocked(key models.WeatherQuery) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, subs: make(map[*Subscription]struct{})}
		c.entries[key] = e
	}
	e.lastUsed = c.opts.Now()
	return e
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.data == nil || e.stale {
		return false
	}
	return c.opts.Now().Sub(e.fetchedAt) < c.opts.StaleTime
}

// ensureLocked joins the fetch in flight for e or starts one.
func (c *Cache) ensureLocked(e *entry) *call {
	if e.inflight != nil {
		metrics.CacheRequestsTotal.WithLabelValues("joined").Inc()
		return e.inflight
	}
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	return c.startLocked(e)
}

func (c *Cache) startLocked(e *entry) *call {
	if c.closed {
		return nil
	}
	e.started++
	cl := &call{gen: e.started, done: make(chan struct{})}
	e.inflight = cl
	c.notifyLocked(e)

	c.wg.Add(1)
	go c.run(e.key, cl)
	return cl
}

func (c *Cache) run(key models.WeatherQuery, cl *call) {
	defer c.wg.Done()
	res := c.fetchWithRetry(key.City)
	c.complete(key, cl, res)
}

// fetchWithRetry makes up to 1+Retry attempts. Intermediate failures are not
// published; the last failure is the one returned.
func (c *Cache) fetchWithRetry(city string) models.Result {
	var res models.Result
	attempt := 0
	op := func() error {
		if attempt > 0 {
			metrics.CacheRetriesTotal.Inc()
			log.Printf("query: retrying %q after: %s", city, res.Failure.Message)
		}
		attempt++

		res = c.fetcher.Fetch(c.ctx, city)
		if res.Failure != nil {
			return res.Failure
		}
		if res.Weather == nil {
			res = models.Fail(models.FailureMalformed, "Invalid data structure received from API", errors.New("empty result"))
			return res.Failure
		}
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(c.opts.Retry)),
		c.ctx,
	)
	_ = backoff.Retry(op, b)
	return res
}

func (c *Cache) complete(key models.WeatherQuery, cl *call, res models.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl.res = res
	close(cl.done)

	e := c.entries[key]
	e.lastUsed = c.opts.Now()
	if e.inflight == cl {
		e.inflight = nil
	}

	if cl.gen > e.applied {
		e.applied = cl.gen
		if res.OK() {
			e.data = res.Weather
			e.failure = nil
			e.fetchedAt = c.opts.Now()
			e.stale = false
		} else {
			e.failure = res.Failure
		}
	} else {
		metrics.CacheDiscardedTotal.Inc()
	}

	if e.refetch && e.inflight == nil {
		e.refetch = false
		if len(e.subs) > 0 {
			c.startLocked(e)
			return
		}
	}
	c.notifyLocked(e)
}

func (c *Cache) stateLocked(e *entry) State {
	fetching := e.inflight != nil
	return State{
		Data:       e.data,
		Failure:    e.failure,
		IsLoading:  fetching && e.data == nil,
		IsFetching: fetching,
		IsError:    e.failure != nil,
		UpdatedAt:  e.fetchedAt,
		Generation: e.started,
	}
}

func (c *Cache) notifyLocked(e *entry) {
	if len(e.subs) == 0 {
		return
	}
	st := c.stateLocked(e)
	for sub := range e.subs {
		sub.push(st)
	}
}
