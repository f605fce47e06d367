// Package remotetree abstracts the hosted, version-controlled directory
// tree that holds all reference data. Every read returns an opaque
// revision marker; every write must present the marker it read, and the
// remote rejects stale writers. That compare-and-swap handshake is the
// only concurrency-safety mechanism in the system.
package remotetree

import "context"

// Revision is the opaque marker identifying the exact stored version of
// a path. Markers are compared by equality only.
type Revision string

// NoRevision is passed to Write when the path must not yet exist.
const NoRevision Revision = ""

// Entry describes one item in a directory listing.
type Entry struct {
	Name     string
	Path     string
	IsDir    bool
	Revision Revision
}

// Tree is the remote content API consumed by the store.
//
// Failure mapping: a missing path on Read or Delete is
// apperr.ErrNotFound; a stale (or, for creation, unexpectedly present)
// revision on Write or Delete is apperr.ErrConflict; network and auth
// failures are *apperr.TransportError. List of a missing directory
// returns an empty slice, matching the common remote behavior of
// directories existing only by virtue of their contents.
type Tree interface {
	// List returns the direct children of path, files and
	// subdirectories both.
	List(ctx context.Context, path string) ([]Entry, error)

	// Read returns the content of the file at path together with its
	// current revision marker.
	Read(ctx context.Context, path string) ([]byte, Revision, error)

	// Write stores content at path. With expected == NoRevision the
	// path must not exist yet (first creation); otherwise expected
	// must equal the path's current marker. Returns the new marker.
	Write(ctx context.Context, path string, content []byte, expected Revision) (Revision, error)

	// Delete removes the file at path; expected must equal its
	// current marker.
	Delete(ctx context.Context, path string, expected Revision) error
}
