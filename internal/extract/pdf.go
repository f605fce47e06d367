package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/models"
)

// pdfScanLimit caps how much extracted text is scanned for a DOI. The
// identifier sits on the first page of any sanely produced paper.
const pdfScanLimit = 64 << 10

// FromPDF extracts the document text, sniffs the first DOI-shaped
// string out of it, and resolves that DOI through the registries. The
// returned record carries PDF provenance.
func (r *Resolver) FromPDF(ctx context.Context, name string, data []byte) (models.Metadata, error) {
	text, err := pdfText(data)
	if err != nil {
		return models.Metadata{}, &apperr.ExtractionError{Source: "pdf", Input: name, Err: err}
	}
	doi := FindDOI(text)
	if doi == "" {
		return models.Metadata{}, &apperr.ExtractionError{Source: "pdf", Input: name, Err: fmt.Errorf("no DOI found in document text")}
	}
	meta, err := r.FromDOI(ctx, doi)
	if err != nil {
		return models.Metadata{}, &apperr.ExtractionError{Source: "pdf", Input: name, Err: err}
	}
	meta.Provenance = models.ProvenancePDF
	return meta, nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}
	text, err := io.ReadAll(io.LimitReader(plain, pdfScanLimit))
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return string(text), nil
}
