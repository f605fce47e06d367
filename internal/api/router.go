package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/nken-eccs/gitrefer/internal/refstore"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(store *refstore.Store, authEnabled bool, token string) chi.Router {
	h := NewHandler(store)

	r := chi.NewRouter()
	r.Use(bearerAuth(authEnabled, token))

	// References CRUD.
	r.Get("/references", h.ListReferences)
	r.Post("/references", h.CreateReference)
	r.Get("/references/{id}", h.GetReference)
	r.Put("/references/{id}", h.UpdateReference)
	r.Delete("/references/{id}", h.DeleteReference)
	r.Get("/references/{id}/raw", h.GetRawReference)

	// Tags.
	r.Post("/references/{id}/tags", h.AddTag)
	r.Delete("/references/{id}/tags/{tag}", h.RemoveTag)

	// Citation export.
	r.Get("/export/{format}", h.Export)

	// Maintenance.
	r.Post("/reconcile", h.Reconcile)

	return r
}
