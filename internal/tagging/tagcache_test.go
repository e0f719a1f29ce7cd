package tagging

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"skalli/internal/entity"
)

type memProvider struct {
	mu    sync.Mutex
	order []uuid.UUID
	byID  map[uuid.UUID]*entity.Project
	err   error
}

func newMemProvider(projects ...*entity.Project) *memProvider {
	p := &memProvider{byID: map[uuid.UUID]*entity.Project{}}
	for _, pr := range projects {
		p.put(pr)
	}
	return p
}

func (p *memProvider) put(pr *entity.Project) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[pr.UUID()]; !ok {
		p.order = append(p.order, pr.UUID())
	}
	p.byID[pr.UUID()] = pr.Clone()
}

func (p *memProvider) IDs(context.Context) ([]uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	// one id that resolves to nothing
	return append(append([]uuid.UUID(nil), p.order...), uuid.New()), nil
}

func (p *memProvider) Entity(_ context.Context, id uuid.UUID) (entity.Entity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.byID[id]
	if !ok {
		return nil, false, nil
	}
	return pr.Clone(), true, nil
}

func fixtureProjects() []*entity.Project {
	deleted := entity.NewProject("p5", "Five", "most", "zzz")
	deleted.SetDeleted(true)
	return []*entity.Project{
		entity.NewProject("p1", "One", "most", "aaa", "tag1"),
		entity.NewProject("p2", "Two", "most", "aaa"),
		entity.NewProject("p3", "Three", "most"),
		entity.NewProject("p4", "Four"),
		deleted,
	}
}

func TestInitializeRanksByCountThenName(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	if err := c.Initialize(context.Background(), newMemProvider(fixtureProjects()...)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []TagCount{{"most", 3}, {"aaa", 2}, {"tag1", 1}}
	if got := c.ByCountLimit(3); !reflect.DeepEqual(got, want) {
		t.Fatalf("ByCountLimit(3) = %v, want %v", got, want)
	}
	wantByName := []TagCount{{"aaa", 2}, {"most", 3}, {"tag1", 1}}
	if got := c.ByName(); !reflect.DeepEqual(got, wantByName) {
		t.Fatalf("ByName() = %v, want %v", got, wantByName)
	}
	if c.Count("zzz") != 0 {
		t.Fatalf("deleted entity contributed tag zzz")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	p := newMemProvider(fixtureProjects()...)
	if err := c.Initialize(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	first := c.ByCount()
	if err := c.Initialize(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if got := c.ByCount(); !reflect.DeepEqual(got, first) {
		t.Fatalf("second Initialize changed result: %v vs %v", got, first)
	}
}

func TestInitializeErrorKeepsPreviousView(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	p := newMemProvider(entity.NewProject("a", "A", "x"))
	if err := c.Initialize(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	p.err = boom
	if err := c.Initialize(context.Background(), p); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Count("x") != 1 {
		t.Fatalf("failed Initialize must not clear the published view")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	p := entity.NewProject("p", "P", "a", "b")
	c.Update(p)
	before := c.ByName()

	changed := p.Clone()
	changed.SetTags("c")
	c.Update(changed)
	if c.Count("a") != 0 || c.Count("b") != 0 || c.Count("c") != 1 {
		t.Fatalf("unexpected view after retag: %v", c.ByName())
	}

	c.Update(p)
	if got := c.ByName(); !reflect.DeepEqual(got, before) {
		t.Fatalf("round trip mismatch: %v vs %v", got, before)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	c.Update(entity.NewProject("q", "Q", "a"))
	p := entity.NewProject("p", "P", "a", "b")

	c.Update(p)
	byName, byCount := c.ByName(), c.ByCount()
	c.Update(p)
	if got := c.ByName(); !reflect.DeepEqual(got, byName) {
		t.Fatalf("ByName after repeated Update = %v, want %v", got, byName)
	}
	if got := c.ByCount(); !reflect.DeepEqual(got, byCount) {
		t.Fatalf("ByCount after repeated Update = %v, want %v", got, byCount)
	}
	if c.Count("a") != 2 || c.Count("b") != 1 {
		t.Fatalf("counts = a:%d b:%d, want a:2 b:1", c.Count("a"), c.Count("b"))
	}
}

func TestUpdateDropsRemovedTag(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	p := entity.NewProject("p", "P", "a", "b")
	c.Update(p)
	countA := c.Count("a")

	// {a,b} -> {a}
	narrowed := p.Clone()
	narrowed.SetTags("a")
	c.Update(narrowed)
	if got := c.Count("a"); got != countA {
		t.Fatalf("Count(a) = %d, want unchanged %d", got, countA)
	}
	if got := c.Count("b"); got != 0 {
		t.Fatalf("Count(b) = %d, want 0", got)
	}
	want := []TagCount{{Name: "a", Count: 1}}
	if got := c.ByName(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ByName = %v, want %v", got, want)
	}
	if got := c.ByCount(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ByCount = %v, want %v", got, want)
	}
}

func TestUpdateDeleteAndUndelete(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	p := entity.NewProject("p", "P", "a")
	other := entity.NewProject("q", "Q", "a")
	c.Update(p)
	c.Update(other)
	if c.Count("a") != 2 {
		t.Fatalf("Count(a) = %d, want 2", c.Count("a"))
	}

	gone := p.Clone()
	gone.SetDeleted(true)
	c.Update(gone)
	if c.Count("a") != 1 {
		t.Fatalf("after delete Count(a) = %d, want 1", c.Count("a"))
	}

	c.Update(p)
	if c.Count("a") != 2 {
		t.Fatalf("after undelete Count(a) = %d, want 2", c.Count("a"))
	}
}

func TestUpdateRemovesEmptyTags(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	p := entity.NewProject("p", "P", "only")
	c.Update(p)
	untagged := p.Clone()
	untagged.SetTags()
	c.Update(untagged)
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0: %v", c.Len(), c.ByName())
	}
}

func TestByCountLimit(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	if err := c.Initialize(context.Background(), newMemProvider(fixtureProjects()...)); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		limit int
		want  int
	}{
		{-1, 3},
		{0, 0},
		{1, 1},
		{3, 3},
		{10, 3},
	}
	for _, tc := range cases {
		if got := len(c.ByCountLimit(tc.limit)); got != tc.want {
			t.Fatalf("ByCountLimit(%d) len = %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestReadViewsAreCopies(t *testing.T) {
	t.Parallel()
	c := NewTagCache()
	c.Update(entity.NewProject("p", "P", "a"))
	v := c.ByName()
	v[0].Count = 99
	if c.Count("a") != 1 || c.ByName()[0].Count != 1 {
		t.Fatal("caller mutation leaked into the cache")
	}
}

func TestRegistryCreatesOnDemand(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if _, ok := r.Lookup(entity.TypeProject); ok {
		t.Fatal("Lookup should not create")
	}
	a := r.Get(entity.TypeProject)
	if b := r.Get(entity.TypeProject); a != b {
		t.Fatal("Get returned different caches for the same type")
	}
	if got := r.Types(); len(got) != 1 || got[0] != entity.TypeProject {
		t.Fatalf("Types() = %v", got)
	}
}
