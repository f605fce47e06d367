package refstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/citekey"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/tagindex"
)

// Orphan is a reference directory with attachment files but no
// metadata file: the recognized garbage left by an interrupted create
// or delete.
type Orphan struct {
	ID    string
	Files []string
}

// Report is the outcome of a reconcile scan. It is data, not an
// error: structural problems are reported for a separate, explicit
// cleanup decision, and nothing is deleted during the scan.
type Report struct {
	// References is the number of live references found.
	References int

	// Orphans lists directories with files but no metadata.
	Orphans []Orphan

	// Duplicates groups reference IDs that appear to be copies of the
	// same work, usually the artifact of an interrupted rename. The key
	// is the DOI when present, else normalized author/year/title.
	Duplicates [][]string

	// MissingFiles maps reference IDs to attachment names listed in
	// metadata but absent from the directory.
	MissingFiles map[string][]string

	// UnlistedFiles maps reference IDs to files present in the
	// directory but not listed in metadata.
	UnlistedFiles map[string][]string
}

// Reconcile scans the remote tree directly, bypassing the cached tag
// index, rebuilds the index from scratch, and reports every orphaned
// attachment set and duplicate-ID artifact it finds. Nothing is
// deleted; Cleanup applies the repair separately.
func (s *Store) Reconcile(ctx context.Context) (Report, error) {
	report := Report{
		MissingFiles:  make(map[string][]string),
		UnlistedFiles: make(map[string][]string),
	}
	tags := make(map[string][]string)
	fingerprints := make(map[string][]string)

	ids, err := s.ids(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}
	for _, id := range ids {
		entries, err := s.tree.List(ctx, s.refDir(id))
		if err != nil {
			return Report{}, fmt.Errorf("reconcile %s: %w", id, err)
		}
		present := make([]string, 0, len(entries))
		hasMeta := false
		for _, entry := range entries {
			if entry.IsDir {
				continue
			}
			if entry.Name == models.MetadataFilename {
				hasMeta = true
				continue
			}
			present = append(present, entry.Name)
		}
		sort.Strings(present)

		if !hasMeta {
			report.Orphans = append(report.Orphans, Orphan{ID: id, Files: present})
			continue
		}

		ref, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrValidation) {
				// Undecodable metadata is reported alongside orphans:
				// the files are intact but the record is not live.
				report.Orphans = append(report.Orphans, Orphan{ID: id, Files: present})
				s.logger.Warn("reference has unreadable metadata",
					slog.String("id", id), slog.String("error", err.Error()))
				continue
			}
			return Report{}, fmt.Errorf("reconcile %s: %w", id, err)
		}
		report.References++
		tags[id] = ref.Metadata.Tags

		key := fingerprint(&ref.Metadata)
		fingerprints[key] = append(fingerprints[key], id)

		presentSet := make(map[string]bool, len(present))
		for _, name := range present {
			presentSet[name] = true
		}
		listedSet := make(map[string]bool, len(ref.Metadata.Files))
		for _, name := range ref.Metadata.Files {
			listedSet[name] = true
			if !presentSet[name] {
				report.MissingFiles[id] = append(report.MissingFiles[id], name)
			}
		}
		for _, name := range present {
			if !listedSet[name] {
				report.UnlistedFiles[id] = append(report.UnlistedFiles[id], name)
			}
		}
	}

	keys := make([]string, 0, len(fingerprints))
	for key := range fingerprints {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if group := fingerprints[key]; len(group) > 1 {
			sort.Strings(group)
			report.Duplicates = append(report.Duplicates, group)
		}
	}

	s.replaceIndex(tagindex.Rebuild(tags))
	s.logger.Info("reconcile complete",
		slog.Int("references", report.References),
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("duplicate_groups", len(report.Duplicates)))
	return report, nil
}

// Cleanup deletes the orphaned attachment sets named in a reconcile
// report. It is the single sanctioned repair path; reconcile itself
// never deletes.
func (s *Store) Cleanup(ctx context.Context, report Report) error {
	for _, orphan := range report.Orphans {
		entries, err := s.tree.List(ctx, s.refDir(orphan.ID))
		if err != nil {
			return fmt.Errorf("cleanup %s: %w", orphan.ID, err)
		}
		for _, entry := range entries {
			if entry.IsDir {
				continue
			}
			if err := s.tree.Delete(ctx, entry.Path, entry.Revision); err != nil {
				return fmt.Errorf("cleanup %s: %s: %w", orphan.ID, entry.Name, err)
			}
		}
		s.logger.Info("orphan removed", slog.String("id", orphan.ID))
	}
	return nil
}

// fingerprint keys duplicate detection: DOI when present, otherwise
// normalized first-author surname, year, and title.
func fingerprint(meta *models.Metadata) string {
	if meta.DOI != "" {
		return "doi:" + meta.DOI
	}
	surname := ""
	if len(meta.Authors) > 0 {
		surname = meta.Authors[0].Family
	}
	return strings.Join([]string{
		citekey.Normalize(surname),
		citekey.Normalize(meta.Year),
		citekey.Normalize(meta.Title),
	}, "|")
}
