// Package entity holds the taggable entity model shared by storage and tagging.
package entity

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Type is a stable tag naming an entity kind (used as registry key).
type Type string

const TypeProject Type = "project"

// Entity is anything with an identity that can be soft-deleted.
type Entity interface {
	UUID() uuid.UUID
	IsDeleted() bool
}

// Taggable is implemented by entities or extensions that carry tags directly.
type Taggable interface {
	Tags() []string
}

// Extension is an optional facet attached to an entity.
type Extension interface {
	ExtensionName() string
}

// Extensible is implemented by entities composed of extensions.
type Extensible interface {
	Extensions() []Extension
}

// TagsOf returns the current tags of e.
//
// Direct tags win; otherwise the union of all taggable extensions is used.
// The result is sorted and free of duplicates and blanks.
func TagsOf(e Entity) []string {
	if e == nil {
		return nil
	}
	if t, ok := e.(Taggable); ok {
		return normalize(t.Tags())
	}
	x, ok := e.(Extensible)
	if !ok {
		return nil
	}
	var all []string
	for _, ext := range x.Extensions() {
		if t, ok := ext.(Taggable); ok {
			all = append(all, t.Tags()...)
		}
	}
	return normalize(all)
}

func normalize(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
