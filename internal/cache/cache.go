package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/AngelCh415/deepdive/internal/models"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 256
)

type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEvict()
}

// Entry is one fetched comparison.
type Entry struct {
	Key       string
	Data      []models.ComparisonRecord
	Summary   models.Summary
	FetchedAt time.Time
}

// Cache holds comparisons for TTL after their fetch and keeps at most
// capacity entries, evicting the least recently used. Stale entries are
// dropped when read and never returned.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recent
	now      func() time.Time
	obs      Observer
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithObserver(o Observer) Option { return func(c *Cache) { c.obs = o } }

func New(ttl time.Duration, capacity int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		ttl:      ttl,
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Now reads the cache's clock; callers stamp FetchedAt with it.
func (c *Cache) Now() time.Time { return c.now() }

func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.miss()
		return Entry{}, false
	}
	e := elem.Value.(*Entry)
	if c.now().Sub(e.FetchedAt) >= c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		c.miss()
		return Entry{}, false
	}
	c.order.MoveToFront(elem)
	if c.obs != nil {
		c.obs.CacheHit()
	}
	return *e, true
}

// Put stores e under key. A zero FetchedAt is stamped with the current time.
func (c *Cache) Put(key string, e Entry) {
	e.Key = key
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.FetchedAt.IsZero() {
		e.FetchedAt = c.now()
	}

	if elem, ok := c.items[key]; ok {
		elem.Value = &e
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.items[key] = c.order.PushFront(&e)
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

func (c *Cache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*Entry).Key)
	if c.obs != nil {
		c.obs.CacheEvict()
	}
}

func (c *Cache) miss() {
	if c.obs != nil {
		c.obs.CacheMiss()
	}
}
