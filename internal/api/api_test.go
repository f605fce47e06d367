package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/testutil"
)

// testEnv sets up an in-memory store and router. An empty authToken
// means disabled mode.
func testEnv(t *testing.T, authToken string) (*refstore.Store, http.Handler) {
	t.Helper()
	store, _ := testutil.Store(t)
	router := NewRouter(store, authToken != "", authToken)
	return store, router
}

func seedOne(t *testing.T, store *refstore.Store) models.Reference {
	t.Helper()
	return testutil.Seed(t, store,
		testutil.Metadata("Partial Synchrony", "Smith", "2023", "consensus"))
}

func TestListReferences(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)
	testutil.Seed(t, store, testutil.Metadata("Unrelated", "Jones", "2020"))

	req := httptest.NewRequest(http.MethodGet, "/references", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ReferenceListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 || len(resp.References) != 2 {
		t.Errorf("response = %+v", resp)
	}
	if resp.References[0].ID != "jones2020" {
		t.Errorf("listing not in ID order: %+v", resp.References)
	}

	// Tag filter.
	req = httptest.NewRequest(http.MethodGet, "/references?tag=consensus", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 1 || resp.References[0].ID != "smith2023" {
		t.Errorf("filtered response = %+v", resp)
	}
}

func TestGetReference(t *testing.T) {
	store, router := testEnv(t, "")
	created := seedOne(t, store)

	req := httptest.NewRequest(http.MethodGet, "/references/smith2023", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ref ReferenceDetail
	if err := json.Unmarshal(w.Body.Bytes(), &ref); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if ref.ID != "smith2023" || ref.Metadata.Title != "Partial Synchrony" {
		t.Errorf("reference = %+v", ref)
	}
	if ref.Revision != string(created.Revision) {
		t.Errorf("revision = %q, want %q", ref.Revision, created.Revision)
	}

	req = httptest.NewRequest(http.MethodGet, "/references/ghost1999", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing reference status = %d, want 404", w.Code)
	}
}

func TestGetRawReference(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)

	req := httptest.NewRequest(http.MethodGet, "/references/smith2023/raw", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	raw, err := store.Raw(context.Background(), "smith2023")
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if w.Body.String() != string(raw) {
		t.Error("raw endpoint does not return the stored bytes verbatim")
	}
}

func TestCreateReference(t *testing.T) {
	_, router := testEnv(t, "")

	body, _ := json.Marshal(CreateReferenceRequest{
		Metadata: models.Metadata{Title: "Manual Entry", Authors: []models.Author{{Family: "Chen"}}, Year: "2024"},
	})
	req := httptest.NewRequest(http.MethodPost, "/references", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var ref ReferenceDetail
	if err := json.Unmarshal(w.Body.Bytes(), &ref); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if ref.ID != "chen2024" || ref.Metadata.Provenance != models.ProvenanceManual {
		t.Errorf("created = %+v", ref)
	}
}

func TestCreateReferenceRejectsInvalid(t *testing.T) {
	_, router := testEnv(t, "")
	body, _ := json.Marshal(CreateReferenceRequest{Metadata: models.Metadata{Title: ""}})
	req := httptest.NewRequest(http.MethodPost, "/references", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUpdateReferenceRequiresIfMatch(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)

	body, _ := json.Marshal(UpdateReferenceRequest{Metadata: testutil.Metadata("New", "Smith", "2023")})
	req := httptest.NewRequest(http.MethodPut, "/references/smith2023", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without If-Match", w.Code)
	}
}

func TestUpdateReferenceStaleRevision(t *testing.T) {
	store, router := testEnv(t, "")
	created := seedOne(t, store)

	// Move the revision forward behind the client's back.
	if _, err := store.AddTag(context.Background(), "smith2023", "ml"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}

	meta := created.Metadata
	meta.Title = "Lost Update"
	body, _ := json.Marshal(UpdateReferenceRequest{Metadata: meta})
	req := httptest.NewRequest(http.MethodPut, "/references/smith2023", bytes.NewReader(body))
	req.Header.Set("If-Match", string(created.Revision))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestUpdateReferenceRename(t *testing.T) {
	store, router := testEnv(t, "")
	created := seedOne(t, store)

	body, _ := json.Marshal(UpdateReferenceRequest{Metadata: created.Metadata, NewID: "smith-synchrony"})
	req := httptest.NewRequest(http.MethodPut, "/references/smith2023", bytes.NewReader(body))
	req.Header.Set("If-Match", string(created.Revision))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var ref ReferenceDetail
	if err := json.Unmarshal(w.Body.Bytes(), &ref); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if ref.ID != "smith-synchrony" {
		t.Errorf("ID = %q", ref.ID)
	}
	if _, err := store.Get(context.Background(), "smith2023"); err == nil {
		t.Error("old ID still resolves after rename")
	}
}

func TestDeleteReference(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)

	req := httptest.NewRequest(http.MethodDelete, "/references/smith2023", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	req = httptest.NewRequest(http.MethodDelete, "/references/smith2023", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestTagEndpoints(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)

	body, _ := json.Marshal(TagRequest{Tag: "ml"})
	req := httptest.NewRequest(http.MethodPost, "/references/smith2023/tags", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("add tag status = %d, body = %s", w.Code, w.Body.String())
	}
	var ref ReferenceDetail
	_ = json.Unmarshal(w.Body.Bytes(), &ref)
	if !ref.Metadata.HasTag("ml") {
		t.Errorf("tags = %v", ref.Metadata.Tags)
	}

	req = httptest.NewRequest(http.MethodDelete, "/references/smith2023/tags/ml", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("remove tag status = %d", w.Code)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &ref)
	if ref.Metadata.HasTag("ml") {
		t.Errorf("tag survived removal: %v", ref.Metadata.Tags)
	}
}

func TestExport(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)
	testutil.Seed(t, store, testutil.Metadata("Unrelated", "Jones", "2020"))

	req := httptest.NewRequest(http.MethodGet, "/export/bibtex?tag=consensus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("Content-Type = %q", got)
	}
	text := w.Body.String()
	if !strings.Contains(text, "@article{smith2023,") || strings.Contains(text, "jones2020") {
		t.Errorf("export body:\n%s", text)
	}

	req = httptest.NewRequest(http.MethodGet, "/export/mla", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", w.Code)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	store, router := testEnv(t, "")
	seedOne(t, store)

	req := httptest.NewRequest(http.MethodPost, "/reconcile", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var report refstore.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.References != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestAuth(t *testing.T) {
	store, router := testEnv(t, "secret")
	seedOne(t, store)

	req := httptest.NewRequest(http.MethodGet, "/references", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/references", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/references", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", w.Code)
	}
}
