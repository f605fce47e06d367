// Package models defines the domain types for the reference store.
package models

import (
	"encoding/json"
	"fmt"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/remotetree"
)

// Entry types understood by the citation formats.
const (
	TypeArticle       = "article"
	TypeBook          = "book"
	TypeThesis        = "thesis"
	TypeReport        = "report"
	TypeInProceedings = "inproceedings"
	TypeMisc          = "misc"
)

// Provenance values record where a reference's metadata came from.
const (
	ProvenanceDOI    = "doi"
	ProvenancePDF    = "pdf"
	ProvenanceManual = "manual"
)

// MetadataFilename is the per-reference metadata file inside its
// directory. Attachments may not use this name.
const MetadataFilename = "metadata.json"

// Author is one entry in the ordered author list.
type Author struct {
	Family string `json:"family"`
	Given  string `json:"given,omitempty"`
}

// Metadata is the structured record stored in a reference's metadata
// file. Tags and the attachment file list are part of the record, so a
// single CAS write covers every mutation of a reference except the
// attachment blobs themselves.
type Metadata struct {
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Authors    []Author `json:"authors,omitempty"`
	Year       string   `json:"year,omitempty"`
	Month      string   `json:"month,omitempty"`
	Venue      string   `json:"venue,omitempty"`
	Volume     string   `json:"volume,omitempty"`
	Issue      string   `json:"issue,omitempty"`
	FirstPage  string   `json:"firstpage,omitempty"`
	LastPage   string   `json:"lastpage,omitempty"`
	Publisher  string   `json:"publisher,omitempty"`
	DOI        string   `json:"doi,omitempty"`
	URL        string   `json:"url,omitempty"`
	Abstract   string   `json:"abstract,omitempty"`
	Keywords   string   `json:"keywords,omitempty"`
	Note       string   `json:"note,omitempty"`
	Provenance string   `json:"provenance"`
	Tags       []string `json:"tags"`
	Files      []string `json:"files"`
	CreatedAt  string   `json:"created_at,omitempty"`
	UpdatedAt  string   `json:"updated_at,omitempty"`

	// Extra holds fields present in the stored record that this
	// version does not know about. The codec re-emits them on encode
	// so newer writers' data survives a round trip.
	Extra map[string]json.RawMessage `json:"-"`
}

// Validate checks the documented required-field subset. Everything
// beyond Title is optional; enums are checked when present.
func (m *Metadata) Validate() error {
	err := validation.ValidateStruct(m,
		validation.Field(&m.Title, validation.Required),
		validation.Field(&m.Type, validation.Required, validation.In(
			TypeArticle, TypeBook, TypeThesis, TypeReport, TypeInProceedings, TypeMisc)),
		validation.Field(&m.Provenance, validation.Required, validation.In(
			ProvenanceDOI, ProvenancePDF, ProvenanceManual)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if slices.Contains(m.Files, MetadataFilename) {
		return fmt.Errorf("%w: attachment name %q is reserved", apperr.ErrValidation, MetadataFilename)
	}
	return nil
}

// Normalize sorts and dedupes tags so encoded output is deterministic.
func (m *Metadata) Normalize() {
	slices.Sort(m.Tags)
	m.Tags = slices.Compact(m.Tags)
}

// HasTag reports whether the metadata carries the given tag.
func (m *Metadata) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// Clone returns a deep copy, so retry loops can recompute edits from a
// fresh read without aliasing the caller's record.
func (m *Metadata) Clone() Metadata {
	out := *m
	out.Authors = slices.Clone(m.Authors)
	out.Tags = slices.Clone(m.Tags)
	out.Files = slices.Clone(m.Files)
	if m.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	return out
}

// Reference is one bibliographic entry as read from the store. Revision
// is the marker of the metadata file at read time and must accompany
// any write.
type Reference struct {
	ID       string
	Metadata Metadata
	Revision remotetree.Revision
}

// Summary is the lightweight representation returned by list operations.
type Summary struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Year  string   `json:"year,omitempty"`
	Tags  []string `json:"tags"`
}
