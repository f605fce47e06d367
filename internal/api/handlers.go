package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/cite"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/remotetree"
)

// Handler holds API route handlers.
type Handler struct {
	store *refstore.Store
}

// NewHandler creates a new Handler.
func NewHandler(store *refstore.Store) *Handler {
	return &Handler{store: store}
}

// writeError maps store failures onto HTTP statuses. Conflicts and ID
// collisions are both 409: the client must re-read and retry either way.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrCollision):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrStoreBusy):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("store busy, retry later"))
	case errors.Is(err, apperr.ErrTransport):
		slog.Error(op+" failed upstream", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("upstream repository error"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListReferences handles GET /api/references.
//
//	@Summary		List references with optional tag filtering
//	@Tags			references
//	@Produce		json
//	@Param			tag	query		string	false	"Filter by tag"
//	@Success		200	{object}	ReferenceListResponse
//	@Security		BearerAuth
//	@Router			/references [get]
func (h *Handler) ListReferences(w http.ResponseWriter, r *http.Request) {
	filter := refstore.Filter{Tag: r.URL.Query().Get("tag")}
	references := []models.Summary{}
	for summary, err := range h.store.List(r.Context(), filter) {
		if err != nil {
			writeError(w, "list references", err)
			return
		}
		references = append(references, summary)
	}
	writeJSON(w, http.StatusOK, ReferenceListResponse{References: references, Total: len(references)})
}

// GetReference handles GET /api/references/{id}.
//
//	@Summary		Get a single reference by ID
//	@Tags			references
//	@Produce		json
//	@Param			id	path		string	true	"Reference ID"
//	@Success		200	{object}	ReferenceDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{id} [get]
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	ref, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get reference", err)
		return
	}
	writeJSON(w, http.StatusOK, detail(ref))
}

// GetRawReference handles GET /api/references/{id}/raw, returning the
// stored metadata bytes verbatim.
//
//	@Summary		Get the stored metadata file of a reference
//	@Tags			references
//	@Produce		json
//	@Param			id	path		string	true	"Reference ID"
//	@Success		200	{string}	string
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{id}/raw [get]
func (h *Handler) GetRawReference(w http.ResponseWriter, r *http.Request) {
	raw, err := h.store.Raw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "raw reference", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// CreateReference handles POST /api/references.
//
//	@Summary		Create a reference from manual metadata
//	@Tags			references
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateReferenceRequest	true	"Reference to create"
//	@Success		201		{object}	ReferenceDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references [post]
func (h *Handler) CreateReference(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	meta := req.Metadata
	if meta.Provenance == "" {
		meta.Provenance = models.ProvenanceManual
	}
	if meta.Type == "" {
		meta.Type = models.TypeMisc
	}
	ref, err := h.store.Create(r.Context(), meta, nil)
	if err != nil {
		writeError(w, "create reference", err)
		return
	}
	writeJSON(w, http.StatusCreated, detail(ref))
}

// UpdateReference handles PUT /api/references/{id} with optimistic
// concurrency: If-Match must carry the revision from a prior read.
//
//	@Summary		Update or rename a reference
//	@Tags			references
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string					true	"Reference ID"
//	@Param			If-Match	header		string					true	"Revision marker from a prior read"
//	@Param			body		body		UpdateReferenceRequest	true	"Updated metadata"
//	@Success		200			{object}	ReferenceDetail
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{id} [put]
func (h *Handler) UpdateReference(w http.ResponseWriter, r *http.Request) {
	revision := r.Header.Get("If-Match")
	if revision == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("If-Match header with the current revision is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req UpdateReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ref := models.Reference{
		ID:       chi.URLParam(r, "id"),
		Metadata: req.Metadata,
		Revision: remotetree.Revision(revision),
	}
	updated, err := h.store.Update(r.Context(), ref, req.NewID)
	if err != nil {
		writeError(w, "update reference", err)
		return
	}
	writeJSON(w, http.StatusOK, detail(updated))
}

// DeleteReference handles DELETE /api/references/{id}.
//
//	@Summary		Delete a reference and its attachments
//	@Tags			references
//	@Param			id	path	string	true	"Reference ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{id} [delete]
func (h *Handler) DeleteReference(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete reference", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTag handles POST /api/references/{id}/tags.
//
//	@Summary		Add a tag to a reference
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Reference ID"
//	@Param			body	body		TagRequest	true	"Tag to add"
//	@Success		200		{object}	ReferenceDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{id}/tags [post]
func (h *Handler) AddTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	ref, err := h.store.AddTag(r.Context(), chi.URLParam(r, "id"), req.Tag)
	if err != nil {
		writeError(w, "add tag", err)
		return
	}
	writeJSON(w, http.StatusOK, detail(ref))
}

// RemoveTag handles DELETE /api/references/{id}/tags/{tag}.
//
//	@Summary		Remove a tag from a reference
//	@Tags			tags
//	@Produce		json
//	@Param			id	path		string	true	"Reference ID"
//	@Param			tag	path		string	true	"Tag to remove"
//	@Success		200	{object}	ReferenceDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/references/{id}/tags/{tag} [delete]
func (h *Handler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	ref, err := h.store.RemoveTag(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, "remove tag", err)
		return
	}
	writeJSON(w, http.StatusOK, detail(ref))
}

// Export handles GET /api/export/{format}.
//
//	@Summary		Export references as formatted citations
//	@Tags			export
//	@Produce		plain
//	@Param			format	path		string	true	"Citation format"	Enums(bibtex, apa, ris)
//	@Param			tag		query		string	false	"Filter by tag"
//	@Success		200		{string}	string
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export/{format} [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := cite.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	refs, err := h.store.References(r.Context(), refstore.Filter{Tag: r.URL.Query().Get("tag")})
	if err != nil {
		writeError(w, "export", err)
		return
	}
	result := cite.ExportBatch(format, refs)
	for id, renderErr := range result.Failures {
		slog.Warn("reference skipped in export",
			slog.String("id", id), slog.String("error", renderErr.Error()))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.Text()))
}

// Reconcile handles POST /api/reconcile: a full consistency scan.
//
//	@Summary		Scan the store for orphans, duplicates, and file drift
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	refstore.Report
//	@Security		BearerAuth
//	@Router			/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Reconcile(r.Context())
	if err != nil {
		writeError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
