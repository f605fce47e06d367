package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/citekey"
	"github.com/nken-eccs/gitrefer/internal/codec"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/remotetree"
)

// File is one attachment supplied to Create or AddFile.
type File struct {
	Name    string
	Content []byte
}

// Create allocates an ID and writes a new reference. Attachments go
// first, the metadata file last: an interruption leaves orphaned
// attachments with no metadata pointing at them, which reconcile
// detects, instead of metadata referencing files that don't exist.
// An ID race against a concurrent creator retries allocation up to
// the configured attempt count, then fails with ErrStoreBusy.
func (s *Store) Create(ctx context.Context, meta models.Metadata, files []File) (models.Reference, error) {
	meta = meta.Clone()
	meta.Normalize()
	meta.Files = nil
	for _, file := range files {
		if file.Name == models.MetadataFilename {
			return models.Reference{}, fmt.Errorf("create: %w: attachment name %q is reserved", apperr.ErrValidation, file.Name)
		}
		meta.Files = append(meta.Files, file.Name)
	}
	now := s.timestamp()
	meta.CreatedAt, meta.UpdatedAt = now, now
	encoded, err := codec.Encode(&meta)
	if err != nil {
		return models.Reference{}, fmt.Errorf("create: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		if attempt > 1 {
			if err := s.sleepBackoff(ctx, attempt-1); err != nil {
				return models.Reference{}, err
			}
		}
		exists, err := s.existing(ctx)
		if err != nil {
			return models.Reference{}, fmt.Errorf("create: %w", err)
		}
		id, err := citekey.Allocate(&meta, exists)
		if err != nil {
			return models.Reference{}, fmt.Errorf("create: %w", err)
		}

		rev, err := s.createAt(ctx, id, encoded, files)
		if err == nil {
			s.indexApply(id, nil, meta.Tags)
			s.logger.Info("reference created", slog.String("id", id))
			return models.Reference{ID: id, Metadata: meta, Revision: rev}, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return models.Reference{}, fmt.Errorf("create %s: %w", id, err)
		}
		// Another creator claimed the ID between listing and write.
		lastErr = err
		s.logger.Warn("create raced on id, reallocating",
			slog.String("id", id), slog.Int("attempt", attempt))
	}
	return models.Reference{}, fmt.Errorf("create: allocation retries exhausted: %v: %w", lastErr, apperr.ErrStoreBusy)
}

// createAt writes one create attempt at a fixed ID. On an ID race the
// already written attachments are removed best effort; anything left
// behind is the recognized orphan garbage state.
func (s *Store) createAt(ctx context.Context, id string, encodedMeta []byte, files []File) (remotetree.Revision, error) {
	written := make(map[string]remotetree.Revision, len(files))
	cleanup := func() {
		for path, rev := range written {
			if err := s.tree.Delete(ctx, path, rev); err != nil {
				s.logger.Warn("orphaned attachment left behind",
					slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
	for _, file := range files {
		path := s.filePath(id, file.Name)
		rev, err := s.tree.Write(ctx, path, file.Content, remotetree.NoRevision)
		if err != nil {
			cleanup()
			return remotetree.NoRevision, err
		}
		written[path] = rev
	}
	rev, err := s.tree.Write(ctx, s.metaPath(id), encodedMeta, remotetree.NoRevision)
	if err != nil {
		cleanup()
		return remotetree.NoRevision, err
	}
	return rev, nil
}

// Update replaces a reference's metadata, and renames it when newID is
// non-empty. ref must come from a prior Get: its revision marker is
// the CAS token, and a stale marker fails with ErrConflict without
// touching stored state. No merging, ever.
func (s *Store) Update(ctx context.Context, ref models.Reference, newID string) (models.Reference, error) {
	meta := ref.Metadata.Clone()
	meta.Normalize()
	meta.UpdatedAt = s.timestamp()
	encoded, err := codec.Encode(&meta)
	if err != nil {
		return models.Reference{}, fmt.Errorf("update %s: %w", ref.ID, err)
	}

	if newID == "" || newID == ref.ID {
		rev, err := s.tree.Write(ctx, s.metaPath(ref.ID), encoded, ref.Revision)
		if err != nil {
			return models.Reference{}, fmt.Errorf("update %s: %w", ref.ID, err)
		}
		s.indexApply(ref.ID, ref.Metadata.Tags, meta.Tags)
		return models.Reference{ID: ref.ID, Metadata: meta, Revision: rev}, nil
	}
	return s.rename(ctx, ref, newID, meta, encoded)
}

// rename moves a reference to a new ID: copy every attachment and the
// metadata to the new directory, verify the copies, then delete the
// old path. A failure after the copies leaves a detectable duplicate
// for reconcile, never silent data loss.
func (s *Store) rename(ctx context.Context, ref models.Reference, newID string, meta models.Metadata, encoded []byte) (models.Reference, error) {
	exists, err := s.existing(ctx)
	if err != nil {
		return models.Reference{}, fmt.Errorf("rename %s: %w", ref.ID, err)
	}
	if err := citekey.ValidateRename(ref.ID, newID, exists); err != nil {
		return models.Reference{}, err
	}

	// A stale caller must fail before anything is copied, or the new
	// path would materialize a duplicate missing the concurrent
	// writer's edit. The old-path delete below still carries the
	// marker for the window after this check.
	if _, current, err := s.tree.Read(ctx, s.metaPath(ref.ID)); err != nil {
		return models.Reference{}, fmt.Errorf("rename %s: %w", ref.ID, err)
	} else if current != ref.Revision {
		return models.Reference{}, fmt.Errorf("rename %s: stale revision: %w", ref.ID, apperr.ErrConflict)
	}

	// Copy attachments.
	entries, err := s.tree.List(ctx, s.refDir(ref.ID))
	if err != nil {
		return models.Reference{}, fmt.Errorf("rename %s: %w", ref.ID, err)
	}
	type oldFile struct {
		path     string
		revision remotetree.Revision
	}
	var attachments []oldFile
	for _, entry := range entries {
		if entry.IsDir || entry.Name == models.MetadataFilename {
			continue
		}
		content, rev, err := s.tree.Read(ctx, entry.Path)
		if err != nil {
			return models.Reference{}, fmt.Errorf("rename %s: reading %s: %w", ref.ID, entry.Name, err)
		}
		if _, err := s.tree.Write(ctx, s.filePath(newID, entry.Name), content, remotetree.NoRevision); err != nil {
			return models.Reference{}, fmt.Errorf("rename %s -> %s: copying %s: %w", ref.ID, newID, entry.Name, err)
		}
		attachments = append(attachments, oldFile{path: entry.Path, revision: rev})
	}

	// Metadata last, same ordering rationale as create.
	newRev, err := s.tree.Write(ctx, s.metaPath(newID), encoded, remotetree.NoRevision)
	if err != nil {
		return models.Reference{}, fmt.Errorf("rename %s -> %s: %w", ref.ID, newID, err)
	}

	// Verify every copy landed before destroying the old path.
	copied := make([]string, 0, len(attachments)+1)
	copied = append(copied, models.MetadataFilename)
	for _, attachment := range attachments {
		copied = append(copied, attachment.path[len(s.refDir(ref.ID))+1:])
	}
	if err := s.verifyCopies(ctx, newID, copied); err != nil {
		return models.Reference{}, fmt.Errorf("rename %s -> %s: %w", ref.ID, newID, err)
	}

	// Delete old path, metadata first. The caller's revision marker
	// guards against a concurrent edit of the old reference.
	if err := s.tree.Delete(ctx, s.metaPath(ref.ID), ref.Revision); err != nil {
		return models.Reference{}, fmt.Errorf("rename %s -> %s: old path left as duplicate: %w", ref.ID, newID, err)
	}
	for _, attachment := range attachments {
		if err := s.tree.Delete(ctx, attachment.path, attachment.revision); err != nil {
			s.logger.Warn("rename left orphaned attachment",
				slog.String("path", attachment.path), slog.String("error", err.Error()))
		}
	}

	s.indexRemove(ref.ID)
	s.indexApply(newID, nil, meta.Tags)
	s.logger.Info("reference renamed", slog.String("from", ref.ID), slog.String("to", newID))
	return models.Reference{ID: newID, Metadata: meta, Revision: newRev}, nil
}

// verifyCopies re-lists the new directory and confirms every expected
// name is present before the old path is deleted.
func (s *Store) verifyCopies(ctx context.Context, newID string, names []string) error {
	entries, err := s.tree.List(ctx, s.refDir(newID))
	if err != nil {
		return fmt.Errorf("verifying copies: %w", err)
	}
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[entry.Name] = true
	}
	for _, name := range names {
		if !present[name] {
			return fmt.Errorf("verifying copies: %s missing at new path", name)
		}
	}
	return nil
}

// Delete removes a reference: the metadata file first, so no live
// reference ever points at partially deleted attachments, then the
// attachment files. A crash mid-way leaves orphaned attachments only.
func (s *Store) Delete(ctx context.Context, id string) error {
	ref, err := s.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if err := s.tree.Delete(ctx, s.metaPath(id), ref.Revision); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	entries, err := s.tree.List(ctx, s.refDir(id))
	if err != nil {
		return fmt.Errorf("delete %s: listing attachments: %w", id, err)
	}
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if err := s.tree.Delete(ctx, entry.Path, entry.Revision); err != nil {
			return fmt.Errorf("delete %s: attachment %s: %w", id, entry.Name, err)
		}
	}
	s.indexRemove(id)
	s.logger.Info("reference deleted", slog.String("id", id))
	return nil
}

// mutate runs the bounded conflict-retry read-modify-write loop: read
// fresh state, apply edit, attempt the CAS write; on a stale marker,
// back off and start over from a fresh read. Exhaustion surfaces
// ErrConflict rather than retrying forever.
func (s *Store) mutate(ctx context.Context, id, op string, edit func(meta *models.Metadata) (bool, error)) (models.Reference, error) {
	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		if attempt > 1 {
			if err := s.sleepBackoff(ctx, attempt-1); err != nil {
				return models.Reference{}, err
			}
		}
		ref, err := s.Get(ctx, id)
		if err != nil {
			return models.Reference{}, fmt.Errorf("%s %s: %w", op, id, err)
		}
		meta := ref.Metadata.Clone()
		changed, err := edit(&meta)
		if err != nil {
			return models.Reference{}, fmt.Errorf("%s %s: %w", op, id, err)
		}
		if !changed {
			return ref, nil
		}
		meta.Normalize()
		meta.UpdatedAt = s.timestamp()
		encoded, err := codec.Encode(&meta)
		if err != nil {
			return models.Reference{}, fmt.Errorf("%s %s: %w", op, id, err)
		}
		rev, err := s.tree.Write(ctx, s.metaPath(id), encoded, ref.Revision)
		if err == nil {
			s.indexApply(id, ref.Metadata.Tags, meta.Tags)
			return models.Reference{ID: id, Metadata: meta, Revision: rev}, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return models.Reference{}, fmt.Errorf("%s %s: %w", op, id, err)
		}
		s.logger.Warn("write conflict, re-reading",
			slog.String("op", op), slog.String("id", id), slog.Int("attempt", attempt))
	}
	return models.Reference{}, fmt.Errorf("%s %s: retries exhausted: %w", op, id, apperr.ErrConflict)
}

// AddTag adds a tag, idempotently.
func (s *Store) AddTag(ctx context.Context, id, tag string) (models.Reference, error) {
	if tag == "" {
		return models.Reference{}, fmt.Errorf("add tag %s: empty tag: %w", id, apperr.ErrValidation)
	}
	return s.mutate(ctx, id, "add tag", func(meta *models.Metadata) (bool, error) {
		if meta.HasTag(tag) {
			return false, nil
		}
		meta.Tags = append(meta.Tags, tag)
		return true, nil
	})
}

// RemoveTag removes a tag; removing an absent tag is a no-op.
func (s *Store) RemoveTag(ctx context.Context, id, tag string) (models.Reference, error) {
	return s.mutate(ctx, id, "remove tag", func(meta *models.Metadata) (bool, error) {
		if !meta.HasTag(tag) {
			return false, nil
		}
		meta.Tags = slices.DeleteFunc(meta.Tags, func(t string) bool { return t == tag })
		return true, nil
	})
}

// AddFile uploads an attachment blob, then records it in the metadata
// through the conflict-retry loop. The blob goes first for the same
// reason create writes attachments first.
func (s *Store) AddFile(ctx context.Context, id string, file File) (models.Reference, error) {
	if file.Name == "" || file.Name == models.MetadataFilename {
		return models.Reference{}, fmt.Errorf("add file %s: %w: invalid attachment name %q", id, apperr.ErrValidation, file.Name)
	}
	// Fail fast on an unknown reference before writing any blob.
	if _, err := s.Get(ctx, id); err != nil {
		return models.Reference{}, fmt.Errorf("add file %s: %w", id, err)
	}
	if _, err := s.tree.Write(ctx, s.filePath(id, file.Name), file.Content, remotetree.NoRevision); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return models.Reference{}, fmt.Errorf("add file %s: attachment %q already exists: %w", id, file.Name, apperr.ErrCollision)
		}
		return models.Reference{}, fmt.Errorf("add file %s: %w", id, err)
	}
	return s.mutate(ctx, id, "add file", func(meta *models.Metadata) (bool, error) {
		if slices.Contains(meta.Files, file.Name) {
			return false, nil
		}
		meta.Files = append(meta.Files, file.Name)
		return true, nil
	})
}

// DeleteFile removes an attachment: first the metadata entry, so no
// live record points at a missing blob, then the blob itself.
func (s *Store) DeleteFile(ctx context.Context, id, name string) (models.Reference, error) {
	ref, err := s.mutate(ctx, id, "delete file", func(meta *models.Metadata) (bool, error) {
		if !slices.Contains(meta.Files, name) {
			return false, fmt.Errorf("attachment %q: %w", name, apperr.ErrNotFound)
		}
		meta.Files = slices.DeleteFunc(meta.Files, func(f string) bool { return f == name })
		return true, nil
	})
	if err != nil {
		return models.Reference{}, err
	}
	path := s.filePath(id, name)
	_, rev, err := s.tree.Read(ctx, path)
	if err == nil {
		err = s.tree.Delete(ctx, path, rev)
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		// The metadata no longer lists the file; what's left is the
		// benign orphan state reconcile reports.
		s.logger.Warn("attachment blob left orphaned",
			slog.String("id", id), slog.String("file", name), slog.String("error", err.Error()))
	}
	return ref, nil
}

// RenameFile moves an attachment to a new name: copy the blob first,
// swap the name in the metadata through the conflict-retry loop, then
// delete the old blob. The copy-first ordering means the record never
// lists a name without a blob behind it.
func (s *Store) RenameFile(ctx context.Context, id, oldName, newName string) (models.Reference, error) {
	if newName == "" || newName == models.MetadataFilename {
		return models.Reference{}, fmt.Errorf("rename file %s: %w: invalid attachment name %q", id, apperr.ErrValidation, newName)
	}
	if newName == oldName {
		return s.Get(ctx, id)
	}
	ref, err := s.Get(ctx, id)
	if err != nil {
		return models.Reference{}, fmt.Errorf("rename file %s: %w", id, err)
	}
	if !slices.Contains(ref.Metadata.Files, oldName) {
		return models.Reference{}, fmt.Errorf("rename file %s: attachment %q: %w", id, oldName, apperr.ErrNotFound)
	}

	content, oldRev, err := s.tree.Read(ctx, s.filePath(id, oldName))
	if err != nil {
		return models.Reference{}, fmt.Errorf("rename file %s: reading %s: %w", id, oldName, err)
	}
	if _, err := s.tree.Write(ctx, s.filePath(id, newName), content, remotetree.NoRevision); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return models.Reference{}, fmt.Errorf("rename file %s: attachment %q already exists: %w", id, newName, apperr.ErrCollision)
		}
		return models.Reference{}, fmt.Errorf("rename file %s: %w", id, err)
	}

	ref, err = s.mutate(ctx, id, "rename file", func(meta *models.Metadata) (bool, error) {
		if !slices.Contains(meta.Files, oldName) {
			return false, fmt.Errorf("attachment %q: %w", oldName, apperr.ErrNotFound)
		}
		meta.Files = slices.DeleteFunc(meta.Files, func(f string) bool { return f == oldName })
		if !slices.Contains(meta.Files, newName) {
			meta.Files = append(meta.Files, newName)
		}
		return true, nil
	})
	if err != nil {
		return models.Reference{}, err
	}

	if err := s.tree.Delete(ctx, s.filePath(id, oldName), oldRev); err != nil {
		// The record already points at the new name; the old blob is
		// the benign unlisted state reconcile reports.
		s.logger.Warn("attachment blob left orphaned",
			slog.String("id", id), slog.String("file", oldName), slog.String("error", err.Error()))
	}
	return ref, nil
}
