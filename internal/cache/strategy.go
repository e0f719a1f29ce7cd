package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	StrategyLRU       = "lru"
	StrategyGroundhog = "groundhog"
)

// StrategyByName maps a config value to a strategy. Empty means LRU.
func StrategyByName[K comparable](name string, loc *time.Location) (Strategy[K], error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyLRU:
		return NewLRU[K](), nil
	case StrategyGroundhog:
		return NewGroundhog[K](loc), nil
	default:
		return nil, fmt.Errorf("unknown cache strategy %q", name)
	}
}

// LRU evicts the entry whose last access is oldest.
// Stamps are wall-clock Unix milliseconds.
type LRU[K comparable] struct{}

func NewLRU[K comparable]() *LRU[K] { return &LRU[K]{} }

func (LRU[K]) BeforeAccess(time.Time) bool { return false }

func (LRU[K]) CreateMeta(_ K, now time.Time, seq uint64) Meta {
	return Meta{Stamp: now.UnixMilli(), Seq: seq}
}

func (LRU[K]) OnAccess(_ K, _ Meta, now time.Time, seq uint64) Meta {
	return Meta{Stamp: now.UnixMilli(), Seq: seq}
}

func (LRU[K]) EvictionCandidate(meta map[K]Meta) (K, bool) { return oldest(meta) }

// Groundhog never keeps entries across a calendar day boundary.
//
// The day is evaluated in loc on every access; when it differs from the day
// seen on the previous access the whole cache is cleared. Stamps are
// monotonic nanoseconds since the strategy was created.
type Groundhog[K comparable] struct {
	mu    sync.Mutex
	loc   *time.Location
	epoch time.Time
	year  int
	day   int
}

// NewGroundhog returns a day-bounded strategy. A nil loc means time.Local.
func NewGroundhog[K comparable](loc *time.Location) *Groundhog[K] {
	if loc == nil {
		loc = time.Local
	}
	return &Groundhog[K]{loc: loc, epoch: time.Now()}
}

func (g *Groundhog[K]) Location() *time.Location { return g.loc }

func (g *Groundhog[K]) BeforeAccess(now time.Time) bool {
	local := now.In(g.loc)
	year, day := local.Year(), local.YearDay()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.year == 0 {
		g.year, g.day = year, day
		return false
	}
	if year == g.year && day == g.day {
		return false
	}
	g.year, g.day = year, day
	return true
}

func (g *Groundhog[K]) CreateMeta(_ K, now time.Time, seq uint64) Meta {
	return Meta{Stamp: g.nanos(now), Seq: seq}
}

func (g *Groundhog[K]) OnAccess(_ K, _ Meta, now time.Time, seq uint64) Meta {
	return Meta{Stamp: g.nanos(now), Seq: seq}
}

func (g *Groundhog[K]) EvictionCandidate(meta map[K]Meta) (K, bool) { return oldest(meta) }

// nanos uses the monotonic reading when both times carry one.
func (g *Groundhog[K]) nanos(now time.Time) int64 {
	return int64(now.Sub(g.epoch))
}
