package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"skalli/internal/entity"
	logx "skalli/pkg/logx"
)

const defaultCompactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl              (append-only JSON Lines)
//   - <prefix>.projects.snapshot.json   (periodic snapshot)
//   - <prefix>.projects.journal.jsonl   (append-only journal, one project per line)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	projects     map[uuid.UUID]*entity.Project

	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".projects.snapshot.json"
	journalPath := prefix + ".projects.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	projects := map[uuid.UUID]*entity.Project{}
	if err := loadSnapshot(snapPath, projects); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("project snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	replayed, err := replayJournal(journalPath, projects)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("project journal replay stopped early", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("projects", len(projects)),
		logx.Int("journal", replayed))

	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		projects:     projects,
		writes:       replayed,
		compactEvery: defaultCompactEvery,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutProject(ctx context.Context, p *entity.Project) error {
	_ = ctx
	if p == nil || p.ID == uuid.Nil {
		return errors.New("project id required")
	}
	cp := p.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(cp); err != nil {
		return err
	}
	s.projects[cp.ID] = cp

	s.writes++
	if s.compactEvery > 0 && s.writes >= s.compactEvery {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("project journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetProject(ctx context.Context, id uuid.UUID) (*entity.Project, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, false, ErrClosed
	}
	p, ok := s.projects[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (s *fileStore) ProjectIDs(ctx context.Context) ([]uuid.UUID, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return sortedIDs(s.projects), nil
}

func (s *fileStore) compactLocked() error {
	list := make([]*entity.Project, 0, len(s.projects))
	for _, id := range sortedIDs(s.projects) {
		list = append(list, s.projects[id])
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journalFile.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.writes = 0
	return nil
}

func loadSnapshot(path string, out map[uuid.UUID]*entity.Project) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []*entity.Project
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, p := range list {
		if p != nil && p.ID != uuid.Nil {
			out[p.ID] = p
		}
	}
	return nil
}

// replayJournal applies journal lines on top of out. Malformed lines are skipped.
func replayJournal(path string, out map[uuid.UUID]*entity.Project) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var p entity.Project
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			continue
		}
		if p.ID == uuid.Nil {
			continue
		}
		out[p.ID] = &p
		n++
	}
	return n, sc.Err()
}
