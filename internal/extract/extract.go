// Package extract produces candidate metadata records from DOIs and
// PDF files. Extraction is an unreliable, possibly slow collaborator:
// every failure is per-item and callers must keep going past it.
package extract

import (
	"context"
	"regexp"

	"github.com/nken-eccs/gitrefer/internal/models"
)

// Extractor resolves an external identifier or document into a
// normalized metadata record.
type Extractor interface {
	FromDOI(ctx context.Context, doi string) (models.Metadata, error)
	FromPDF(ctx context.Context, name string, data []byte) (models.Metadata, error)
}

// PDFFetcher locates and downloads the publisher's full-text PDF for a
// DOI. Registries advertise full-text links unevenly, so most DOIs
// have none; callers treat a fetch failure as advisory.
type PDFFetcher interface {
	FetchPDF(ctx context.Context, doi string) (name string, data []byte, err error)
}

// doiPattern matches a bare DOI.
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/[-._;()/:a-zA-Z0-9]+$`)

// doiScanPattern finds DOI-shaped strings inside free text. The
// trailing-punctuation trim happens after matching.
var doiScanPattern = regexp.MustCompile(`10\.\d{4,9}/[-._;()/:a-zA-Z0-9]+`)

// ValidDOI reports whether doi is well-formed.
func ValidDOI(doi string) bool {
	return doiPattern.MatchString(doi)
}

// FindDOI returns the first DOI-shaped string in text, or "".
func FindDOI(text string) string {
	match := doiScanPattern.FindString(text)
	// A DOI at the end of a sentence drags the period along.
	for len(match) > 0 {
		switch match[len(match)-1] {
		case '.', ';', ')', ':', ',':
			match = match[:len(match)-1]
		default:
			return match
		}
	}
	return match
}
