package entity

import (
	"github.com/google/uuid"
)

const (
	ExtTags = "tags"
	ExtInfo = "info"
)

// TagsExtension attaches free-form tags to a project.
type TagsExtension struct {
	Values []string `json:"tags,omitempty"`
}

func (*TagsExtension) ExtensionName() string { return ExtTags }
func (t *TagsExtension) Tags() []string {
	if t == nil {
		return nil
	}
	return t.Values
}

// InfoExtension holds contact data. It is not taggable.
type InfoExtension struct {
	Homepage string `json:"homepage,omitempty"`
	Mailing  string `json:"mailing,omitempty"`
}

func (*InfoExtension) ExtensionName() string { return ExtInfo }

// Project is the main inventory entity.
type Project struct {
	ID        uuid.UUID      `json:"uuid"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Deleted   bool           `json:"deleted,omitempty"`
	TagsExt   *TagsExtension `json:"ext_tags,omitempty"`
	InfoExt   *InfoExtension `json:"ext_info,omitempty"`
}

var (
	_ Entity     = (*Project)(nil)
	_ Extensible = (*Project)(nil)
)

// NewProject returns a project with a fresh id.
func NewProject(projectID, name string, tags ...string) *Project {
	p := &Project{ID: uuid.New(), ProjectID: projectID, Name: name}
	if len(tags) > 0 {
		p.SetTags(tags...)
	}
	return p
}

func (p *Project) UUID() uuid.UUID { return p.ID }
func (p *Project) IsDeleted() bool { return p.Deleted }

func (p *Project) SetDeleted(deleted bool) { p.Deleted = deleted }

// SetTags replaces the tags extension. No tags removes it.
func (p *Project) SetTags(tags ...string) {
	if len(tags) == 0 {
		p.TagsExt = nil
		return
	}
	p.TagsExt = &TagsExtension{Values: append([]string(nil), tags...)}
}

func (p *Project) Extensions() []Extension {
	out := make([]Extension, 0, 2)
	if p.TagsExt != nil {
		out = append(out, p.TagsExt)
	}
	if p.InfoExt != nil {
		out = append(out, p.InfoExt)
	}
	return out
}

// Clone returns a deep copy so cached instances are never shared with callers.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	if p.TagsExt != nil {
		cp.TagsExt = &TagsExtension{Values: append([]string(nil), p.TagsExt.Values...)}
	}
	if p.InfoExt != nil {
		info := *p.InfoExt
		cp.InfoExt = &info
	}
	return &cp
}
