// Package testutil provides shared test helpers for setting up stores
// backed by the in-memory remote tree.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/remotetree"
)

// FixedTime is the deterministic clock value used by test stores so
// stored bytes are reproducible.
var FixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Logger returns a logger that discards output, keeping test output
// readable.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Store creates a store over a fresh in-memory tree with fast retries
// and a fixed clock.
func Store(t *testing.T) (*refstore.Store, *remotetree.Memory) {
	t.Helper()
	tree := remotetree.NewMemory()
	store, err := refstore.New(refstore.Config{
		Tree:            tree,
		ConflictBackoff: time.Millisecond,
		Logger:          Logger(),
		Now:             func() time.Time { return FixedTime },
	})
	if err != nil {
		t.Fatalf("refstore.New: %v", err)
	}
	return store, tree
}

// Metadata builds a minimal valid metadata record.
func Metadata(title, family, year string, tags ...string) models.Metadata {
	return models.Metadata{
		Type:       models.TypeArticle,
		Title:      title,
		Authors:    []models.Author{{Family: family}},
		Year:       year,
		Provenance: models.ProvenanceManual,
		Tags:       tags,
	}
}

// Seed creates a reference and fails the test on error.
func Seed(t *testing.T, store *refstore.Store, meta models.Metadata, files ...refstore.File) models.Reference {
	t.Helper()
	ref, err := store.Create(context.Background(), meta, files)
	if err != nil {
		t.Fatalf("Create(%q): %v", meta.Title, err)
	}
	return ref
}
