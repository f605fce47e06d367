// Package refstore orchestrates reference CRUD over the remote tree:
// ID allocation, the optimistic-concurrency write protocol, tag-index
// maintenance, and the reconcile repair pass.
//
// There is no client-side locking. Every mutating operation reads a
// revision marker, computes its edit, and writes with that marker; the
// remote rejects stale writers and the store retries from a fresh read
// up to a bounded attempt count.
package refstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/codec"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/remotetree"
	"github.com/nken-eccs/gitrefer/internal/tagindex"
)

// DefaultRoot is the top-level directory holding one subdirectory per
// reference.
const DefaultRoot = "references"

// Config configures a Store.
type Config struct {
	// Tree is the remote content API. Wrap it with
	// remotetree.WithRetry to get transport-level retries; the store
	// itself only runs the conflict-retry loop.
	Tree remotetree.Tree

	// Root is the directory holding the references. Defaults to
	// DefaultRoot.
	Root string

	// ConflictRetries bounds the read-modify-write loop of tag and
	// file edits, and the allocation loop of create. Defaults to 4.
	ConflictRetries int

	// ConflictBackoff is the base delay between conflict retries; it
	// doubles per attempt with jitter. Defaults to 150ms.
	ConflictBackoff time.Duration

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Now supplies timestamps. Defaults to time.Now. Tests inject a
	// fixed clock for deterministic stored bytes.
	Now func() time.Time
}

// Store is the reference store engine. One Store serves one remote
// tree; construct several for several trees (there is no global
// current-repository state).
type Store struct {
	tree            remotetree.Tree
	root            string
	conflictRetries int
	conflictBackoff time.Duration
	logger          *slog.Logger
	now             func() time.Time

	// idxMu guards idx. A CLI invocation is single-threaded, but the
	// HTTP surface serves concurrent requests from one shared Store.
	idxMu sync.Mutex

	// idx is the lazily built derived tag index, nil until first use.
	idx *tagindex.Index
}

// New creates a Store from the given configuration.
func New(config Config) (*Store, error) {
	if config.Tree == nil {
		return nil, fmt.Errorf("refstore: tree is required")
	}
	s := &Store{
		tree:            config.Tree,
		root:            config.Root,
		conflictRetries: config.ConflictRetries,
		conflictBackoff: config.ConflictBackoff,
		logger:          config.Logger,
		now:             config.Now,
	}
	if s.root == "" {
		s.root = DefaultRoot
	}
	if s.conflictRetries <= 0 {
		s.conflictRetries = 4
	}
	if s.conflictBackoff <= 0 {
		s.conflictBackoff = 150 * time.Millisecond
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) refDir(id string) string {
	return s.root + "/" + id
}

func (s *Store) metaPath(id string) string {
	return s.refDir(id) + "/" + models.MetadataFilename
}

func (s *Store) filePath(id, name string) string {
	return s.refDir(id) + "/" + name
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Get reads one reference together with its current revision marker.
func (s *Store) Get(ctx context.Context, id string) (models.Reference, error) {
	data, rev, err := s.tree.Read(ctx, s.metaPath(id))
	if err != nil {
		return models.Reference{}, fmt.Errorf("get %s: %w", id, err)
	}
	meta, err := codec.Decode(data)
	if err != nil {
		return models.Reference{}, fmt.Errorf("get %s: %w", id, err)
	}
	return models.Reference{ID: id, Metadata: meta, Revision: rev}, nil
}

// Raw returns the stored metadata bytes of id verbatim.
func (s *Store) Raw(ctx context.Context, id string) ([]byte, error) {
	data, _, err := s.tree.Read(ctx, s.metaPath(id))
	if err != nil {
		return nil, fmt.Errorf("raw %s: %w", id, err)
	}
	return data, nil
}

// Filter narrows a listing. The zero value matches everything.
type Filter struct {
	// Tag restricts to references carrying the tag, resolved through
	// the derived tag index.
	Tag string
}

// List returns a lazy sequence of reference summaries in ascending ID
// order. Directories without a metadata file (orphans) are skipped;
// they are reconcile's business, not a valid reference.
func (s *Store) List(ctx context.Context, filter Filter) iter.Seq2[models.Summary, error] {
	return func(yield func(models.Summary, error) bool) {
		ids, err := s.ids(ctx)
		if err != nil {
			yield(models.Summary{}, fmt.Errorf("list: %w", err))
			return
		}
		if filter.Tag != "" {
			tagged, err := s.taggedIDs(ctx, filter.Tag)
			if err != nil {
				yield(models.Summary{}, fmt.Errorf("list: %w", err))
				return
			}
			ids = tagged
		}
		for _, id := range ids {
			ref, err := s.Get(ctx, id)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					continue // orphaned directory, no metadata
				}
				yield(models.Summary{}, err)
				return
			}
			summary := models.Summary{
				ID:    ref.ID,
				Title: ref.Metadata.Title,
				Year:  ref.Metadata.Year,
				Tags:  ref.Metadata.Tags,
			}
			if !yield(summary, nil) {
				return
			}
		}
	}
}

// ids lists the reference directories under the root, sorted.
func (s *Store) ids(ctx context.Context) ([]string, error) {
	entries, err := s.tree.List(ctx, s.root)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir {
			ids = append(ids, entry.Name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// exists builds the collision predicate handed to the ID allocator
// from one directory listing.
func (s *Store) existing(ctx context.Context) (func(string) bool, error) {
	ids, err := s.ids(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }, nil
}

// taggedIDs resolves a tag filter through the index, building it on
// first use. IDs returns a copy, so the lock covers every access to
// the index maps.
func (s *Store) taggedIDs(ctx context.Context, tag string) ([]string, error) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s.idx.IDs(tag), nil
}

// ensureIndex builds the tag index on first use by scanning every
// reference once. Caller holds idxMu; the unfiltered List below never
// touches the index, so the scan cannot deadlock on it.
func (s *Store) ensureIndex(ctx context.Context) error {
	if s.idx != nil {
		return nil
	}
	tags := make(map[string][]string)
	for summary, err := range s.List(ctx, Filter{}) {
		if err != nil {
			return err
		}
		tags[summary.ID] = summary.Tags
	}
	s.idx = tagindex.Rebuild(tags)
	return nil
}

// indexApply updates the index only when it has been built; a nil
// index stays lazy and will be rebuilt from fresh state on first use.
func (s *Store) indexApply(id string, before, after []string) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if s.idx != nil {
		s.idx.Apply(id, before, after)
	}
}

func (s *Store) indexRemove(id string) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if s.idx != nil {
		s.idx.Remove(id)
	}
}

// replaceIndex installs a freshly rebuilt index, used by reconcile.
func (s *Store) replaceIndex(idx *tagindex.Index) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	s.idx = idx
}

// References collects the full records matching filter, in ascending
// ID order. The citation exporter consumes this.
func (s *Store) References(ctx context.Context, filter Filter) ([]models.Reference, error) {
	var out []models.Reference
	for summary, err := range s.List(ctx, filter) {
		if err != nil {
			return nil, err
		}
		ref, err := s.Get(ctx, summary.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// Walk returns every path under the store root, depth first, for the
// tree view. Directories carry a trailing slash.
func (s *Store) Walk(ctx context.Context) ([]string, error) {
	var out []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.tree.List(ctx, dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir {
				out = append(out, entry.Path+"/")
				if err := walk(entry.Path); err != nil {
					return err
				}
			} else {
				out = append(out, entry.Path)
			}
		}
		return nil
	}
	if err := walk(s.root); err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	return out, nil
}

// sleepBackoff waits the jittered exponential delay for the given
// conflict retry attempt, or returns early on cancellation.
func (s *Store) sleepBackoff(ctx context.Context, attempt int) error {
	delay := s.conflictBackoff << (attempt - 1)
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay)+1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
