package api

import (
	"github.com/nken-eccs/gitrefer/internal/models"
)

// CreateReferenceRequest is the request body for creating a reference
// from manually supplied metadata.
type CreateReferenceRequest struct {
	Metadata models.Metadata `json:"metadata" validate:"required"`
}

// UpdateReferenceRequest is the request body for updating a reference.
// NewID, when non-empty, renames the reference.
type UpdateReferenceRequest struct {
	Metadata models.Metadata `json:"metadata" validate:"required"`
	NewID    string          `json:"new_id,omitempty" example:"smith-survey"`
}

// TagRequest is the request body for adding a tag.
type TagRequest struct {
	Tag string `json:"tag" example:"machine-learning" validate:"required"`
}

// ReferenceDetail is the full reference response type. Revision is the
// marker clients must echo in If-Match on update and delete.
type ReferenceDetail struct {
	ID       string          `json:"id" example:"smith2023" validate:"required"`
	Metadata models.Metadata `json:"metadata" validate:"required"`
	Revision string          `json:"revision" validate:"required"`
}

// ReferenceListResponse wraps reference listings.
type ReferenceListResponse struct {
	References []models.Summary `json:"references" validate:"required"`
	Total      int              `json:"total" example:"42" validate:"required"`
}

func detail(ref models.Reference) ReferenceDetail {
	return ReferenceDetail{ID: ref.ID, Metadata: ref.Metadata, Revision: string(ref.Revision)}
}
