package cache

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"time"
)

var (
	ErrInvalidCapacity = errors.New("cache capacity must be > 0")
	ErrNilKey          = errors.New("cache key must not be nil")
)

// Cache is a bounded associative store.
type Cache[K comparable, V any] interface {
	Put(key K, value V) error
	Get(key K) (V, bool)
	Remove(key K) bool
	Values() []V
	Entries() map[K]V
	Clear()
	Len() int
	Capacity() int
	Stats() Stats
}

// Meta is the per-entry bookkeeping a strategy maintains.
// Seq is a per-cache access counter; it orders entries whose Stamp is equal.
type Meta struct {
	Stamp int64
	Seq   uint64
}

// Older reports whether m was touched before o.
func (m Meta) Older(o Meta) bool {
	if m.Stamp != o.Stamp {
		return m.Stamp < o.Stamp
	}
	return m.Seq < o.Seq
}

// Strategy decides entry metadata and eviction order.
// All methods are called with the cache lock held.
type Strategy[K comparable] interface {
	// BeforeAccess runs before every public access. Returning true clears the cache.
	BeforeAccess(now time.Time) (reset bool)
	CreateMeta(key K, now time.Time, seq uint64) Meta
	OnAccess(key K, prev Meta, now time.Time, seq uint64) Meta
	// EvictionCandidate returns the key to drop; ok=false lets the engine pick at random.
	EvictionCandidate(meta map[K]Meta) (key K, ok bool)
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resets    uint64
	Size      int
	Capacity  int
}

type Option func(*options)

type options struct {
	now func() time.Time
	rnd *rand.Rand
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRand overrides the source used for the random eviction fallback.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		if r != nil {
			o.rnd = r
		}
	}
}

type entry[V any] struct {
	value V
}

// Base is the cache engine shared by all strategies.
type Base[K comparable, V any] struct {
	mu sync.Mutex

	capacity int
	strategy Strategy[K]
	now      func() time.Time
	rnd      *rand.Rand

	entries map[K]entry[V]
	meta    map[K]Meta
	seq     uint64

	hits, misses, evictions, resets uint64
}

var _ Cache[string, int] = (*Base[string, int])(nil)

func New[K comparable, V any](capacity int, strategy Strategy[K], opts ...Option) (*Base[K, V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if strategy == nil {
		return nil, errors.New("cache strategy required")
	}
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.rnd == nil {
		o.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Base[K, V]{
		capacity: capacity,
		strategy: strategy,
		now:      o.now,
		rnd:      o.rnd,
		entries:  make(map[K]entry[V], capacity),
		meta:     make(map[K]Meta, capacity),
	}, nil
}

// Put inserts or overwrites key. A new key on a full cache evicts one entry first.
func (c *Base[K, V]) Put(key K, value V) error {
	if isNil(key) {
		return ErrNilKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.beforeAccessLocked()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[key] = entry[V]{value: value}
	c.seq++
	c.meta[key] = c.strategy.CreateMeta(key, now, c.seq)
	return nil
}

// Get returns the value stored under key. A nil key is never present.
func (c *Base[K, V]) Get(key K) (V, bool) {
	var zero V
	if isNil(key) {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.beforeAccessLocked()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	c.hits++
	c.seq++
	c.meta[key] = c.strategy.OnAccess(key, c.meta[key], now, c.seq)
	return e.value, true
}

func (c *Base[K, V]) Remove(key K) bool {
	if isNil(key) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	delete(c.meta, key)
	return true
}

// Values returns a snapshot of the cached values in no particular order.
func (c *Base[K, V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeAccessLocked()
	out := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.value)
	}
	return out
}

// Entries returns a snapshot copy of the cache contents.
func (c *Base[K, V]) Entries() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeAccessLocked()
	out := make(map[K]V, len(c.entries))
	for k, e := range c.entries {
		out[k] = e.value
	}
	return out
}

func (c *Base[K, V]) Clear() {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
}

func (c *Base[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Base[K, V]) Capacity() int { return c.capacity }

func (c *Base[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Resets:    c.resets,
		Size:      len(c.entries),
		Capacity:  c.capacity,
	}
}

func (c *Base[K, V]) beforeAccessLocked() time.Time {
	now := c.now()
	if c.strategy.BeforeAccess(now) {
		c.clearLocked()
		c.resets++
	}
	return now
}

func (c *Base[K, V]) clearLocked() {
	c.entries = make(map[K]entry[V], c.capacity)
	c.meta = make(map[K]Meta, c.capacity)
}

func (c *Base[K, V]) evictLocked() {
	if len(c.entries) == 0 {
		return
	}
	key, ok := c.strategy.EvictionCandidate(c.meta)
	if ok {
		if _, present := c.entries[key]; !present {
			ok = false
		}
	}
	if !ok {
		key = c.randomKeyLocked()
	}
	delete(c.entries, key)
	delete(c.meta, key)
	c.evictions++
}

func (c *Base[K, V]) randomKeyLocked() K {
	n := c.rnd.Intn(len(c.entries))
	var last K
	for k := range c.entries {
		if n == 0 {
			return k
		}
		n--
		last = k
	}
	return last
}

// isNil reports whether key is a nil pointer, interface, map, slice, chan or func.
func isNil[K comparable](key K) bool {
	v := any(key)
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// oldest returns the key with the oldest metadata.
func oldest[K comparable](meta map[K]Meta) (K, bool) {
	var (
		best  K
		bestM Meta
		found bool
	)
	for k, m := range meta {
		if !found || m.Older(bestM) {
			best, bestM, found = k, m, true
		}
	}
	return best, found
}
