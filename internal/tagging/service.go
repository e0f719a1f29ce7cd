package tagging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skalli/internal/entity"
	rtsup "skalli/internal/runtime/supervisor"
	logx "skalli/pkg/logx"
)

// EventEntityUpdated is published by storage after every entity mutation.
const EventEntityUpdated = "entity.updated"

// EntityEvent describes one entity mutation.
type EntityEvent struct {
	Type   entity.Type
	Entity entity.Entity
	Actor  string
}

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("tagging: stopped")

// Service maintains the tag caches of every registered entity type.
//
// Writers must report every mutation through OnEvent, synchronously and in
// write order; storage.Repository does this for its listeners.
type Service struct {
	log logx.Logger
	reg *Registry

	mu        sync.Mutex
	providers map[entity.Type]EntityProvider
	sup       *rtsup.Supervisor
	stopped   bool
	ready     chan struct{}
	initErr   error
}

func New(reg *Registry, log logx.Logger) *Service {
	if reg == nil {
		reg = NewRegistry()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		reg:       reg,
		providers: map[entity.Type]EntityProvider{},
		ready:     make(chan struct{}),
	}
}

func (s *Service) Registry() *Registry { return s.reg }

// RegisterProvider declares an entity type whose cache is seeded on Initialize.
func (s *Service) RegisterProvider(t entity.Type, p EntityProvider) {
	s.mu.Lock()
	s.providers[t] = p
	s.mu.Unlock()
	s.reg.Get(t)
}

// OnEvent applies a single entity change to the cache of its type.
func (s *Service) OnEvent(ev EntityEvent) {
	if ev.Entity == nil || ev.Type == "" {
		return
	}
	s.reg.Get(ev.Type).Update(ev.Entity)
	s.log.Trace("tag cache updated", logx.String("type", string(ev.Type)), logx.String("id", ev.Entity.UUID().String()), logx.String("actor", ev.Actor))
}

// Initialize seeds every registered type concurrently.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	providers := make(map[entity.Type]EntityProvider, len(s.providers))
	for t, p := range s.providers {
		providers[t] = p
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for t, p := range providers {
		t, p := t, p
		g.Go(func() error {
			start := time.Now()
			if err := s.reg.Get(t).Initialize(gctx, p); err != nil {
				return fmt.Errorf("tagging: initialize %s: %w", t, err)
			}
			s.log.Info("tag cache initialized",
				logx.String("type", string(t)),
				logx.Int("tags", s.reg.Get(t).Len()),
				logx.Duration("took", time.Since(start)))
			return nil
		})
	}
	return g.Wait()
}

// Rebuild re-seeds the cache of one type from its provider.
func (s *Service) Rebuild(ctx context.Context, t entity.Type) error {
	s.mu.Lock()
	p := s.providers[t]
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("tagging: no provider for %s", t)
	}
	return s.reg.Get(t).Initialize(ctx, p)
}

// Start seeds the caches in the background; Ready() is closed once seeding
// finished. Start is idempotent, and Stop is terminal: Start after Stop
// returns ErrStopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup := s.sup
	s.mu.Unlock()

	sup.Go0("tagging.initialize", func(c context.Context) {
		err := s.Initialize(c)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("tag cache initialization failed", logx.Err(err))
		}
		s.mu.Lock()
		s.initErr = err
		s.mu.Unlock()
		close(s.ready)
	})
	return nil
}

// Ready is closed after the initial seeding completed (successfully or not).
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) InitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.stopped = true
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Tags returns the tags of type t sorted by name.
func (s *Service) Tags(t entity.Type) []TagCount {
	c, ok := s.reg.Lookup(t)
	if !ok {
		return nil
	}
	return c.ByName()
}

// MostPopular returns every tag of type t ranked by popularity.
func (s *Service) MostPopular(t entity.Type) []TagCount {
	return s.MostPopularN(t, -1)
}

// MostPopularN returns at most n ranked tags of type t; n < 0 means all.
func (s *Service) MostPopularN(t entity.Type, n int) []TagCount {
	c, ok := s.reg.Lookup(t)
	if !ok {
		return nil
	}
	return c.ByCountLimit(n)
}
