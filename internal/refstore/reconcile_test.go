package refstore_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/testutil"
)

func TestReconcileCleanStore(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Smith", "2023"))
	testutil.Seed(t, store, testutil.Metadata("B", "Jones", "2020"))

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.References != 2 {
		t.Errorf("References = %d, want 2", report.References)
	}
	if len(report.Orphans) != 0 || len(report.Duplicates) != 0 ||
		len(report.MissingFiles) != 0 || len(report.UnlistedFiles) != 0 {
		t.Errorf("clean store reported problems: %+v", report)
	}
}

func TestReconcileReportsOrphans(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Smith", "2023"))
	// Garbage from an interrupted create.
	tree.Write(ctx, "references/ghost2000/a.pdf", []byte("a"), "")
	tree.Write(ctx, "references/ghost2000/b.pdf", []byte("b"), "")

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.References != 1 {
		t.Errorf("References = %d, want 1", report.References)
	}
	if len(report.Orphans) != 1 {
		t.Fatalf("Orphans = %+v, want one", report.Orphans)
	}
	orphan := report.Orphans[0]
	if orphan.ID != "ghost2000" || !slices.Equal(orphan.Files, []string{"a.pdf", "b.pdf"}) {
		t.Errorf("orphan = %+v", orphan)
	}
}

func TestReconcileReportsUndecodableMetadata(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	tree.Write(ctx, "references/broken1999/metadata.json", []byte("{not json"), "")
	tree.Write(ctx, "references/broken1999/paper.pdf", []byte("pdf"), "")

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.References != 0 {
		t.Errorf("References = %d, want 0", report.References)
	}
	if len(report.Orphans) != 1 || report.Orphans[0].ID != "broken1999" {
		t.Errorf("Orphans = %+v", report.Orphans)
	}
}

func TestReconcileReportsDuplicates(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()

	// Same DOI under two IDs, the footprint of an interrupted rename.
	byDOI := testutil.Metadata("Optimistic Replication", "Saito", "2005")
	byDOI.DOI = "10.1145/1057977.1057980"
	testutil.Seed(t, store, byDOI)
	copied := byDOI
	copied.Title = "Optimistic Replication (copy)"
	copied.Authors = nil
	testutil.Seed(t, store, copied)

	// Same author, year, and title without a DOI.
	testutil.Seed(t, store, testutil.Metadata("Partial Synchrony", "Smith", "2023"))
	renamedTwin := testutil.Metadata("Partial  Synchrony", "SMITH", "2023")
	testutil.Seed(t, store, renamedTwin)

	testutil.Seed(t, store, testutil.Metadata("Unrelated", "Jones", "2020"))

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Duplicates) != 2 {
		t.Fatalf("Duplicates = %+v, want two groups", report.Duplicates)
	}
	for _, group := range report.Duplicates {
		if len(group) != 2 || !slices.IsSorted(group) {
			t.Errorf("group = %v, want two sorted ids", group)
		}
	}
}

func TestReconcileReportsFileDrift(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Smith", "2023"),
		refstore.File{Name: "paper.pdf", Content: []byte("pdf")})

	// A listed file disappears out of band; an unlisted one appears.
	_, rev, err := tree.Read(ctx, "references/smith2023/paper.pdf")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := tree.Delete(ctx, "references/smith2023/paper.pdf", rev); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tree.Write(ctx, "references/smith2023/stray.txt", []byte("stray"), ""); err != nil {
		t.Fatalf("Write: %v", err)
	}

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := report.MissingFiles["smith2023"]; !slices.Equal(got, []string{"paper.pdf"}) {
		t.Errorf("MissingFiles = %v", got)
	}
	if got := report.UnlistedFiles["smith2023"]; !slices.Equal(got, []string{"stray.txt"}) {
		t.Errorf("UnlistedFiles = %v", got)
	}
}

func TestReconcileRebuildsTagIndex(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Smith", "2023", "ml"))

	// Warm the index, then change tags behind the store's back.
	if _, err := store.References(ctx, refstore.Filter{Tag: "ml"}); err != nil {
		t.Fatalf("References: %v", err)
	}
	raw, rev, err := tree.Read(ctx, "references/smith2023/metadata.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	edited := strings.Replace(string(raw), `"ml"`, `"renamed-tag"`, 1)
	if _, err := tree.Write(ctx, "references/smith2023/metadata.json", []byte(edited), rev); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := store.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	refs, err := store.References(ctx, refstore.Filter{Tag: "renamed-tag"})
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("index not rebuilt from scanned state: %+v", refs)
	}
	refs, err = store.References(ctx, refstore.Filter{Tag: "ml"})
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("stale index entry survived reconcile: %+v", refs)
	}
}

func TestCleanupRemovesOrphansOnly(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Smith", "2023"),
		refstore.File{Name: "paper.pdf", Content: []byte("pdf")})
	tree.Write(ctx, "references/ghost2000/a.pdf", []byte("a"), "")

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := store.Cleanup(ctx, report); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, _, err := tree.Read(ctx, "references/ghost2000/a.pdf"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("orphan survived cleanup: %v", err)
	}
	if _, err := store.Get(ctx, "smith2023"); err != nil {
		t.Errorf("cleanup touched a live reference: %v", err)
	}
	if _, _, err := tree.Read(ctx, "references/smith2023/paper.pdf"); err != nil {
		t.Errorf("cleanup touched a live attachment: %v", err)
	}
}
