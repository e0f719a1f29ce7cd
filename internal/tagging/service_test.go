package tagging

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"skalli/internal/entity"
	logx "skalli/pkg/logx"
)

func TestServiceMostPopular(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())
	s.RegisterProvider(entity.TypeProject, newMemProvider(fixtureProjects()...))
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []TagCount{{"most", 3}, {"aaa", 2}, {"tag1", 1}}
	if got := s.MostPopularN(entity.TypeProject, 3); !reflect.DeepEqual(got, want) {
		t.Fatalf("MostPopularN = %v, want %v", got, want)
	}
	if got := s.MostPopular(entity.TypeProject); len(got) != 3 {
		t.Fatalf("MostPopular len = %d, want 3", len(got))
	}
	if got := s.Tags("unknown"); got != nil {
		t.Fatalf("Tags(unknown) = %v, want nil", got)
	}
}

func TestServiceAppliesEventsAfterStart(t *testing.T) {
	t.Parallel()
	prov := newMemProvider(entity.NewProject("seed", "Seed", "seeded"))
	s := New(nil, logx.Nop())
	s.RegisterProvider(entity.TypeProject, prov)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("service never became ready")
	}
	if err := s.InitErr(); err != nil {
		t.Fatalf("InitErr: %v", err)
	}

	p := entity.NewProject("p", "P", "fresh")
	prov.put(p)
	s.OnEvent(EntityEvent{Type: entity.TypeProject, Entity: p, Actor: "test"})
	if got := s.Registry().Get(entity.TypeProject).Count("fresh"); got != 1 {
		t.Fatalf("Count(fresh) = %d, want 1", got)
	}

	deleted := p.Clone()
	deleted.SetDeleted(true)
	s.OnEvent(EntityEvent{Type: entity.TypeProject, Entity: deleted})
	if got := s.Registry().Get(entity.TypeProject).Count("fresh"); got != 0 {
		t.Fatalf("Count(fresh) after delete = %d, want 0", got)
	}

	s.OnEvent(EntityEvent{Type: entity.TypeProject})
	s.OnEvent(EntityEvent{Entity: p})
	if s.Registry().Get(entity.TypeProject).Count("seeded") != 1 {
		t.Fatal("seeded tag missing")
	}
}

func TestServiceStopIsTerminal(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	<-s.Ready()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop = %v, want ErrStopped", err)
	}

	never := New(nil, logx.Nop())
	_ = never.Stop(ctx)
	if err := never.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop without Start = %v, want ErrStopped", err)
	}
}

func TestServiceRebuild(t *testing.T) {
	t.Parallel()
	prov := newMemProvider()
	s := New(nil, logx.Nop())
	s.RegisterProvider(entity.TypeProject, prov)
	prov.put(entity.NewProject("late", "Late", "x"))

	if err := s.Rebuild(context.Background(), entity.TypeProject); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := s.Tags(entity.TypeProject); len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("Tags = %v", got)
	}
	if err := s.Rebuild(context.Background(), "other"); err == nil {
		t.Fatal("Rebuild without provider should fail")
	}
}
