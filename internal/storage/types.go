package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"skalli/internal/entity"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("entity not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//   - "memory", "none" or empty: in-memory only
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by Repository.
type Store interface {
	PutProject(ctx context.Context, p *entity.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*entity.Project, bool, error)
	ProjectIDs(ctx context.Context) ([]uuid.UUID, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records a change to an entity.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Actor      string    `json:"actor,omitempty"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	MetaJSON   string    `json:"meta,omitempty"`
}

const (
	ActionSave     = "save"
	ActionDelete   = "delete"
	ActionUndelete = "undelete"
)
