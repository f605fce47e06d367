package refstore_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/testutil"
)

func TestGetRoundTrip(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()

	created := testutil.Seed(t, store, testutil.Metadata("Partial Synchrony", "Smith", "2023", "consensus"))
	if created.ID != "smith2023" {
		t.Fatalf("ID = %q, want smith2023", created.ID)
	}
	if created.Revision == "" {
		t.Fatal("created reference carries no revision marker")
	}

	got, err := store.Get(ctx, "smith2023")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.Title != "Partial Synchrony" || got.Metadata.Year != "2023" {
		t.Errorf("Get = %+v", got.Metadata)
	}
	if got.Revision != created.Revision {
		t.Errorf("revision drifted: %q vs %q", got.Revision, created.Revision)
	}
	if got.Metadata.CreatedAt == "" || got.Metadata.CreatedAt != got.Metadata.UpdatedAt {
		t.Errorf("timestamps = %q / %q", got.Metadata.CreatedAt, got.Metadata.UpdatedAt)
	}

	if _, err := store.Get(ctx, "nobody1999"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get of missing err = %v, want ErrNotFound", err)
	}
}

func TestRawReturnsStoredBytes(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("Partial Synchrony", "Smith", "2023"))

	raw, err := store.Raw(ctx, "smith2023")
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	stored, _, err := tree.Read(ctx, "references/smith2023/metadata.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(raw) != string(stored) {
		t.Error("Raw does not return the stored bytes verbatim")
	}
	if !strings.HasPrefix(string(raw), "{\n") {
		t.Errorf("stored record is not indented JSON:\n%s", raw)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("C", "Zhu", "2019", "ml"))
	testutil.Seed(t, store, testutil.Metadata("A", "Adams", "2001", "ml", "survey"))
	testutil.Seed(t, store, testutil.Metadata("B", "Miller", "2010"))

	var ids []string
	for summary, err := range store.List(ctx, refstore.Filter{}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		ids = append(ids, summary.ID)
	}
	if want := []string{"adams2001", "miller2010", "zhu2019"}; !slices.Equal(ids, want) {
		t.Errorf("List order = %v, want %v", ids, want)
	}

	ids = nil
	for summary, err := range store.List(ctx, refstore.Filter{Tag: "ml"}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		ids = append(ids, summary.ID)
	}
	if want := []string{"adams2001", "zhu2019"}; !slices.Equal(ids, want) {
		t.Errorf("List(ml) = %v, want %v", ids, want)
	}

	for range store.List(ctx, refstore.Filter{Tag: "absent"}) {
		t.Fatal("List of an unknown tag yielded a summary")
	}
}

func TestListSkipsOrphans(t *testing.T) {
	store, tree := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("Live", "Smith", "2023"))
	// An interrupted create: attachment without metadata.
	if _, err := tree.Write(ctx, "references/ghost2000/paper.pdf", []byte("pdf"), ""); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var ids []string
	for summary, err := range store.List(ctx, refstore.Filter{}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		ids = append(ids, summary.ID)
	}
	if want := []string{"smith2023"}; !slices.Equal(ids, want) {
		t.Errorf("List = %v, want %v", ids, want)
	}
}

func TestReferencesMatchesList(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Adams", "2001", "ml"))
	testutil.Seed(t, store, testutil.Metadata("B", "Zhu", "2019"))

	refs, err := store.References(ctx, refstore.Filter{Tag: "ml"})
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "adams2001" || refs[0].Revision == "" {
		t.Errorf("References = %+v", refs)
	}
}

func TestWalk(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()
	testutil.Seed(t, store, testutil.Metadata("A", "Smith", "2023"),
		refstore.File{Name: "paper.pdf", Content: []byte("pdf")})

	paths, err := store.Walk(ctx)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{
		"references/smith2023/",
		"references/smith2023/metadata.json",
		"references/smith2023/paper.pdf",
	}
	if !slices.Equal(paths, want) {
		t.Errorf("Walk = %v, want %v", paths, want)
	}
}

func TestSummaryShape(t *testing.T) {
	store, _ := testutil.Store(t)
	testutil.Seed(t, store, testutil.Metadata("Partial Synchrony", "Smith", "2023", "consensus"))
	for summary, err := range store.List(context.Background(), refstore.Filter{}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := models.Summary{ID: "smith2023", Title: "Partial Synchrony", Year: "2023", Tags: []string{"consensus"}}
		if summary.ID != want.ID || summary.Title != want.Title || summary.Year != want.Year || !slices.Equal(summary.Tags, want.Tags) {
			t.Errorf("summary = %+v, want %+v", summary, want)
		}
	}
}

func TestConcurrentTagFilterDuringEdits(t *testing.T) {
	store, _ := testutil.Store(t)
	ctx := context.Background()

	testutil.Seed(t, store, testutil.Metadata("Partial Synchrony", "Smith", "2023", "consensus"))
	testutil.Seed(t, store, testutil.Metadata("Paxos Made Simple", "Jones", "2020", "consensus"))

	// Warm the index so every goroutine below shares it.
	for _, err := range store.List(ctx, refstore.Filter{Tag: "consensus"}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
	}

	var wg sync.WaitGroup
	for reader := 0; reader < 4; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				for _, err := range store.List(ctx, refstore.Filter{Tag: "consensus"}) {
					if err != nil {
						t.Errorf("List: %v", err)
						return
					}
				}
			}
		}()
	}
	// Writers edit distinct references so no conflict budget is spent;
	// the point is index reads racing index writes.
	for w, id := range []string{"smith2023", "jones2020"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				tag := fmt.Sprintf("pass-%d-%d", w, i)
				if _, err := store.AddTag(ctx, id, tag); err != nil {
					t.Errorf("AddTag(%s, %s): %v", id, tag, err)
					return
				}
				if _, err := store.RemoveTag(ctx, id, tag); err != nil {
					t.Errorf("RemoveTag(%s, %s): %v", id, tag, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "smith2023")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !slices.Equal(got.Metadata.Tags, []string{"consensus"}) {
		t.Errorf("tags after concurrent edits = %v", got.Metadata.Tags)
	}
}
