package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"skalli/internal/entity"
	logx "skalli/pkg/logx"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	a := entity.NewProject("a", "Alpha", "x", "y")
	b := entity.NewProject("b", "Beta")
	for _, p := range []*entity.Project{a, b} {
		if err := st.PutProject(ctx, p); err != nil {
			t.Fatalf("PutProject: %v", err)
		}
	}
	a.SetTags("z")
	a.SetDeleted(true)
	if err := st.PutProject(ctx, a); err != nil {
		t.Fatalf("PutProject update: %v", err)
	}

	got, ok, err := st.GetProject(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("GetProject = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("GetProject = %+v, want %+v", got, a)
	}
	if _, ok, err := st.GetProject(ctx, uuid.New()); ok || err != nil {
		t.Fatalf("missing project: ok=%v err=%v", ok, err)
	}

	ids, err := st.ProjectIDs(ctx)
	if err != nil {
		t.Fatalf("ProjectIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ProjectIDs = %v, want 2 ids", ids)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Actor: "tester", EntityType: "project", EntityID: a.ID.String(), Action: ActionSave}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := []struct {
		name string
		cfg  Config
	}{
		{"memory", Config{Driver: "memory"}},
		{"none", Config{}},
		{"file", Config{Driver: "file", Path: filepath.Join(dir, "file", "skalli.db")}},
		{"sqlite", Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "skalli.db")}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			st, err := Open(tc.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseStore(t, st)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}

func TestFileStoreSurvivesReopenAndCompaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "skalli.json")

	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	st.compactEvery = 3

	var all []*entity.Project
	for i := 0; i < 5; i++ {
		p := entity.NewProject("p", "P", "t")
		all = append(all, p)
		if err := st.PutProject(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(st.snapshotPath); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.PutProject(ctx, all[0]); err != ErrClosed {
		t.Fatalf("PutProject after Close = %v, want ErrClosed", err)
	}

	again, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	ids, err := again.ProjectIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != len(all) {
		t.Fatalf("reopened store has %d projects, want %d", len(ids), len(all))
	}
	for _, p := range all {
		got, ok, err := again.GetProject(ctx, p.ID)
		if err != nil || !ok || !reflect.DeepEqual(got, p) {
			t.Fatalf("project %s: got %+v ok=%v err=%v", p.ID, got, ok, err)
		}
	}
}

func TestFileStoreSkipsCorruptJournalLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "skalli.json")
	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p := entity.NewProject("p", "P")
	if err := st.PutProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	f, err := os.OpenFile(filepath.Join(filepath.Dir(path), "skalli.projects.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	again, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if _, ok, _ := again.GetProject(ctx, p.ID); !ok {
		t.Fatal("valid journal entry lost")
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "skalli.db")

	st, err := openSQLite(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p := entity.NewProject("p", "P", "db")
	if err := st.PutProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	again, err := openSQLite(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	got, ok, err := again.GetProject(ctx, p.ID)
	if err != nil || !ok || !reflect.DeepEqual(got, p) {
		t.Fatalf("got %+v ok=%v err=%v", got, ok, err)
	}
}
