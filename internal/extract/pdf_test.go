package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/nken-eccs/gitrefer/internal/apperr"
)

func TestFromPDFRejectsGarbage(t *testing.T) {
	r := testResolver(t)
	_, err := r.FromPDF(context.Background(), "corrupt.pdf", []byte("this is not a pdf"))
	if !errors.Is(err, apperr.ErrExtraction) {
		t.Fatalf("FromPDF err = %v, want ErrExtraction", err)
	}
	var extraction *apperr.ExtractionError
	if !errors.As(err, &extraction) || extraction.Source != "pdf" || extraction.Input != "corrupt.pdf" {
		t.Errorf("err = %+v, want pdf extraction error naming the file", err)
	}
}

func TestFromPDFEmpty(t *testing.T) {
	r := testResolver(t)
	if _, err := r.FromPDF(context.Background(), "empty.pdf", nil); !errors.Is(err, apperr.ErrExtraction) {
		t.Fatalf("FromPDF err = %v, want ErrExtraction", err)
	}
}
