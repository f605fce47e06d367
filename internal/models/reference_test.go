package models

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nken-eccs/gitrefer/internal/apperr"
)

func valid() Metadata {
	return Metadata{
		Type:       TypeArticle,
		Title:      "A Title",
		Provenance: ProvenanceManual,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Metadata)
		ok     bool
	}{
		{"minimal valid", func(*Metadata) {}, true},
		{"missing title", func(m *Metadata) { m.Title = "" }, false},
		{"missing type", func(m *Metadata) { m.Type = "" }, false},
		{"unknown type", func(m *Metadata) { m.Type = "magazine" }, false},
		{"unknown provenance", func(m *Metadata) { m.Provenance = "scraped" }, false},
		{"reserved attachment name", func(m *Metadata) { m.Files = []string{MetadataFilename} }, false},
		{"all entry types", func(m *Metadata) { m.Type = TypeInProceedings }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			err := m.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("Validate err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	m := valid()
	m.Tags = []string{"zebra", "alpha", "alpha", "ml"}
	m.Normalize()
	if want := []string{"alpha", "ml", "zebra"}; !reflect.DeepEqual(m.Tags, want) {
		t.Errorf("Tags = %v, want %v", m.Tags, want)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := valid()
	m.Authors = []Author{{Family: "Smith"}}
	m.Tags = []string{"ml"}
	m.Files = []string{"paper.pdf"}

	c := m.Clone()
	c.Authors[0].Family = "Changed"
	c.Tags[0] = "changed"
	c.Files[0] = "changed"

	if m.Authors[0].Family != "Smith" || m.Tags[0] != "ml" || m.Files[0] != "paper.pdf" {
		t.Errorf("clone aliases the original: %+v", m)
	}
}
