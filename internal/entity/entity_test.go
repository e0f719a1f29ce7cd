package entity

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

type directTagged struct {
	id   uuid.UUID
	tags []string
}

func (d directTagged) UUID() uuid.UUID { return d.id }
func (d directTagged) IsDeleted() bool { return false }
func (d directTagged) Tags() []string  { return d.tags }

func TestTagsOfDirect(t *testing.T) {
	t.Parallel()
	got := TagsOf(directTagged{id: uuid.New(), tags: []string{"b", " a ", "b", ""}})
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("TagsOf = %v, want %v", got, want)
	}
}

func TestTagsOfExtensions(t *testing.T) {
	t.Parallel()
	p := NewProject("skalli", "Skalli", "java", "osgi")
	p.InfoExt = &InfoExtension{Homepage: "https://example.org"}
	got := TagsOf(p)
	if want := []string{"java", "osgi"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("TagsOf = %v, want %v", got, want)
	}

	p.SetTags()
	if got := TagsOf(p); got != nil {
		t.Fatalf("TagsOf after clearing = %v, want nil", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	p := NewProject("a", "A", "x")
	cp := p.Clone()
	cp.TagsExt.Values[0] = "y"
	if p.TagsExt.Values[0] != "x" {
		t.Fatal("clone shares the tag slice")
	}
}
