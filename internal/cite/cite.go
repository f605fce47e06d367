// Package cite renders references into citation formats. Rendering is
// pure: it consumes store output and never touches storage, and for a
// fixed input set the output is byte-for-byte deterministic.
package cite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/models"
)

// Format selects a citation grammar.
type Format string

const (
	BibTeX Format = "bibtex"
	APA    Format = "apa"
	RIS    Format = "ris"
)

// Formats lists the supported formats in display order.
func Formats() []Format { return []Format{BibTeX, APA, RIS} }

// ParseFormat validates a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case BibTeX:
		return BibTeX, nil
	case APA:
		return APA, nil
	case RIS:
		return RIS, nil
	}
	return "", fmt.Errorf("unsupported citation format %q: %w", name, apperr.ErrValidation)
}

// Render formats a single reference. It fails when the record lacks
// the fields the grammar requires (title and at least one author).
func Render(format Format, id string, meta *models.Metadata) (string, error) {
	if meta.Title == "" {
		return "", fmt.Errorf("render %s: missing title: %w", id, apperr.ErrValidation)
	}
	if len(meta.Authors) == 0 || meta.Authors[0].Family == "" {
		return "", fmt.Errorf("render %s: missing author: %w", id, apperr.ErrValidation)
	}
	switch format {
	case BibTeX:
		return renderBibTeX(id, meta), nil
	case APA:
		return renderAPA(id, meta), nil
	case RIS:
		return renderRIS(id, meta), nil
	}
	return "", fmt.Errorf("unsupported citation format %q: %w", format, apperr.ErrValidation)
}

// BatchResult separates rendered entries from per-reference failures.
// A malformed record never aborts the batch; it is reported and
// omitted from the successes.
type BatchResult struct {
	Entries  []string
	Failures map[string]error
}

// Text joins the rendered entries with blank lines.
func (r BatchResult) Text() string {
	return strings.Join(r.Entries, "\n\n")
}

// ExportBatch renders refs in ID order.
func ExportBatch(format Format, refs []models.Reference) BatchResult {
	sorted := make([]models.Reference, len(refs))
	copy(sorted, refs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := BatchResult{Failures: make(map[string]error)}
	for _, ref := range sorted {
		entry, err := Render(format, ref.ID, &ref.Metadata)
		if err != nil {
			result.Failures[ref.ID] = err
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result
}
