package query

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lox/cityweather/internal/metrics"
	"github.com/lox/cityweather/internal/models"
)

// Subscription observes one key until Unsubscribe is called.
type Subscription struct {
	id      string
	cache   *Cache
	entry   *entry
	updates chan State
	stop    chan struct{}
	once    sync.Once
}

// Observe subscribes to key, fetching it unless a fresh result is cached.
// While subscribed the key is refreshed every RefetchInterval.
func (c *Cache) Observe(key models.WeatherQuery) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		cache:   c,
		updates: make(chan State, 1),
		stop:    make(chan struct{}),
	}

	c.mu.Lock()
	e := c.entryLocked(key)
	sub.entry = e
	e.subs[sub] = struct{}{}
	if c.freshLocked(e) {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	} else {
		c.ensureLocked(e)
	}
	sub.push(c.stateLocked(e))
	poll := c.opts.RefetchInterval > 0 && !c.closed
	if poll {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()

	if poll {
		go sub.poll(c.opts.RefetchInterval)
	}
	return sub
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Key() models.WeatherQuery {
	return s.entry.key
}

func (s *Subscription) State() State {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	return s.cache.stateLocked(s.entry)
}

// Updates delivers state changes. Only the latest undelivered state is kept.
func (s *Subscription) Updates() <-chan State {
	return s.updates
}

// Refetch soft-refreshes the key, joining a fetch already in flight.
func (s *Subscription) Refetch() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	if s.entry.inflight == nil {
		s.cache.startLocked(s.entry)
	}
}

// Unsubscribe stops background refresh. A fetch in flight still completes
// and updates the cache.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.cache.mu.Lock()
		delete(s.entry.subs, s)
		s.entry.lastUsed = s.cache.opts.Now()
		s.cache.mu.Unlock()
		metrics.ActiveSubscriptions.Dec()
	})
}

func (s *Subscription) poll(interval time.Duration) {
	defer s.cache.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.cache.ctx.Done():
			return
		case <-ticker.C:
			s.Refetch()
		}
	}
}

// push is called with the cache lock held, so pushes never race each other.
func (s *Subscription) push(st State) {
	select {
	case s.updates <- st:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
}
