package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"skalli/internal/cache"
	"skalli/internal/entity"
	"skalli/internal/eventbus"
	"skalli/internal/tagging"
	logx "skalli/pkg/logx"
)

// Repository is the project access path used by the rest of the application.
//
// Reads go through a bounded cache. Every write is persisted, audited,
// handed to each Listener and announced on the bus as
// tagging.EventEntityUpdated.
type Repository struct {
	store Store
	cache cache.Cache[uuid.UUID, *entity.Project]
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	// wmu serializes writes so listeners observe them in store order.
	wmu       sync.Mutex
	listeners []Listener
}

// Listener receives every persisted write synchronously, in write order.
// Unlike bus subscribers it never misses an update; OnEvent must not call
// back into the repository's write path.
type Listener interface {
	OnEvent(ev tagging.EntityEvent)
}

var _ Listener = (*tagging.Service)(nil)

var _ tagging.EntityProvider = (*Repository)(nil)

// NewRepository wires store and cache. A nil cache disables read caching; a
// nil bus disables change events.
func NewRepository(store Store, c cache.Cache[uuid.UUID, *entity.Project], bus eventbus.Bus, log logx.Logger) *Repository {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Repository{store: store, cache: c, bus: bus, log: log, now: time.Now}
}

// AddListener registers l for every subsequent write.
func (r *Repository) AddListener(l Listener) {
	r.wmu.Lock()
	r.listeners = append(r.listeners, l)
	r.wmu.Unlock()
}

// Save persists p and publishes the change.
func (r *Repository) Save(ctx context.Context, p *entity.Project, actor string) error {
	return r.save(ctx, p, actor, ActionSave)
}

// Delete marks the project deleted. Deleted projects stay readable.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	return r.setDeleted(ctx, id, actor, true)
}

func (r *Repository) Undelete(ctx context.Context, id uuid.UUID, actor string) error {
	return r.setDeleted(ctx, id, actor, false)
}

func (r *Repository) setDeleted(ctx context.Context, id uuid.UUID, actor string, deleted bool) error {
	p, ok, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.SetDeleted(deleted)
	action := ActionDelete
	if !deleted {
		action = ActionUndelete
	}
	return r.save(ctx, p, actor, action)
}

func (r *Repository) save(ctx context.Context, p *entity.Project, actor, action string) error {
	if p == nil {
		return fmt.Errorf("project required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := p.Clone()

	r.wmu.Lock()
	defer r.wmu.Unlock()
	if err := r.store.PutProject(ctx, cp); err != nil {
		return fmt.Errorf("save project %s: %w", cp.ID, err)
	}
	if r.cache != nil {
		if err := r.cache.Put(cp.ID, cp); err != nil {
			r.log.Warn("project cache put failed", logx.String("id", cp.ID.String()), logx.Err(err))
		}
	}

	meta, _ := json.Marshal(map[string]any{"tags": entity.TagsOf(cp)})
	if err := r.store.AppendAudit(ctx, AuditEntry{
		At:         r.now(),
		Actor:      actor,
		EntityType: string(entity.TypeProject),
		EntityID:   cp.ID.String(),
		Action:     action,
		MetaJSON:   string(meta),
	}); err != nil {
		r.log.Warn("audit append failed", logx.String("id", cp.ID.String()), logx.Err(err))
	}

	ev := tagging.EntityEvent{Type: entity.TypeProject, Entity: cp.Clone(), Actor: actor}
	for _, l := range r.listeners {
		l.OnEvent(ev)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: tagging.EventEntityUpdated, Data: tagging.EntityEvent{
			Type:   entity.TypeProject,
			Entity: cp.Clone(),
			Actor:  actor,
		}})
	}
	r.log.Debug("project saved", logx.String("id", cp.ID.String()), logx.String("action", action), logx.String("actor", actor))
	return nil
}

// Get returns a private copy of the project.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*entity.Project, bool, error) {
	if r.cache != nil {
		if p, ok := r.cache.Get(id); ok {
			return p.Clone(), true, nil
		}
	}
	p, ok, err := r.store.GetProject(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	if r.cache != nil {
		_ = r.cache.Put(id, p.Clone())
	}
	return p, true, nil
}

// IDs lists every stored project, deleted ones included.
func (r *Repository) IDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.store.ProjectIDs(ctx)
}

func (r *Repository) Entity(ctx context.Context, id uuid.UUID) (entity.Entity, bool, error) {
	p, ok, err := r.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return p, true, nil
}

// CacheStats reports the read cache counters (zero value without a cache).
func (r *Repository) CacheStats() cache.Stats {
	if r.cache == nil {
		return cache.Stats{}
	}
	return r.cache.Stats()
}

func (r *Repository) Close() error {
	return r.store.Close()
}
