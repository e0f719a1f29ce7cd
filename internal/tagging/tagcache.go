package tagging

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"skalli/internal/entity"
)

// TagCount is a tag together with the number of entities carrying it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// EntityProvider enumerates the entities of one type.
type EntityProvider interface {
	IDs(ctx context.Context) ([]uuid.UUID, error)
	Entity(ctx context.Context, id uuid.UUID) (entity.Entity, bool, error)
}

// snapshot is immutable once published.
type snapshot struct {
	byName  []TagCount // alphabetical
	byCount []TagCount // count desc, name asc
	counts  map[string]int
}

var emptySnapshot = &snapshot{counts: map[string]int{}}

// TagCache keeps the reverse index tag -> entity ids for one entity type and
// publishes read views of it.
//
// Writers serialize on mu; readers load the last published snapshot and never lock.
type TagCache struct {
	mu       sync.Mutex
	byEntity map[string]map[uuid.UUID]struct{}

	snap atomic.Pointer[snapshot]
}

func NewTagCache() *TagCache {
	c := &TagCache{byEntity: map[string]map[uuid.UUID]struct{}{}}
	c.snap.Store(emptySnapshot)
	return c
}

// Initialize seeds the index from every entity the provider knows and
// publishes once at the end. Entities that resolve to nothing are skipped.
// The write lock is held throughout so concurrent updates are not lost.
func (c *TagCache) Initialize(ctx context.Context, p EntityProvider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := p.IDs(ctx)
	if err != nil {
		return err
	}
	fresh := map[string]map[uuid.UUID]struct{}{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, ok, err := p.Entity(ctx, id)
		if err != nil {
			return err
		}
		if !ok || e == nil || e.IsDeleted() {
			continue
		}
		addTags(fresh, e.UUID(), entity.TagsOf(e))
	}
	c.byEntity = fresh
	c.publishLocked()
	return nil
}

// Update re-indexes a single entity after an insert, modification, delete or undelete.
func (c *TagCache) Update(e entity.Entity) {
	if e == nil {
		return
	}
	id := e.UUID()

	c.mu.Lock()
	defer c.mu.Unlock()
	for tag, ids := range c.byEntity {
		delete(ids, id)
		if len(ids) == 0 {
			delete(c.byEntity, tag)
		}
	}
	if !e.IsDeleted() {
		addTags(c.byEntity, id, entity.TagsOf(e))
	}
	c.publishLocked()
}

// ByName returns all tags with their counts, sorted alphabetically.
func (c *TagCache) ByName() []TagCount {
	return append([]TagCount(nil), c.snap.Load().byName...)
}

// ByCount returns all tags ranked by count (desc), then name (asc).
func (c *TagCache) ByCount() []TagCount {
	return c.ByCountLimit(-1)
}

// ByCountLimit returns at most limit ranked tags. A negative limit returns all.
func (c *TagCache) ByCountLimit(limit int) []TagCount {
	ranked := c.snap.Load().byCount
	if limit < 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	return append([]TagCount(nil), ranked[:limit]...)
}

// Count returns the number of entities carrying tag.
func (c *TagCache) Count(tag string) int {
	return c.snap.Load().counts[tag]
}

// Len returns the number of distinct tags.
func (c *TagCache) Len() int {
	return len(c.snap.Load().byName)
}

func (c *TagCache) publishLocked() {
	s := &snapshot{
		byName: make([]TagCount, 0, len(c.byEntity)),
		counts: make(map[string]int, len(c.byEntity)),
	}
	for tag, ids := range c.byEntity {
		s.byName = append(s.byName, TagCount{Name: tag, Count: len(ids)})
		s.counts[tag] = len(ids)
	}
	sort.Slice(s.byName, func(i, j int) bool { return s.byName[i].Name < s.byName[j].Name })

	s.byCount = append([]TagCount(nil), s.byName...)
	sort.SliceStable(s.byCount, func(i, j int) bool { return s.byCount[i].Count > s.byCount[j].Count })

	c.snap.Store(s)
}

func addTags(idx map[string]map[uuid.UUID]struct{}, id uuid.UUID, tags []string) {
	for _, tag := range tags {
		ids := idx[tag]
		if ids == nil {
			ids = map[uuid.UUID]struct{}{}
			idx[tag] = ids
		}
		ids[id] = struct{}{}
	}
}
