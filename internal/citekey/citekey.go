// Package citekey derives stable reference IDs from bibliographic
// metadata. Allocation is a pure proposal: reserving the ID against
// concurrent creators is the store's create transaction, not ours.
package citekey

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/models"
)

// asciiFold strips combining marks after NFD decomposition, turning
// "Müller" into "Muller" and "Ramírez" into "Ramirez".
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// suffixes are appended, in order, when the bare candidate collides.
const suffixes = "abcdefghijklmnopqrstuvwxyz"

// Allocate proposes a unique ID for meta: normalized first-author
// surname plus publication year, with a letter suffix on collision.
// exists reports whether a candidate is already taken.
func Allocate(meta *models.Metadata, exists func(string) bool) (string, error) {
	base := baseKey(meta)
	if !exists(base) {
		return base, nil
	}
	for _, c := range suffixes {
		candidate := base + string(c)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("allocate id %q: suffix alphabet exhausted: %w", base, apperr.ErrCollision)
}

// ValidateRename checks that newID is well-formed and free. A rename
// to the current ID is a no-op and always valid.
func ValidateRename(oldID, newID string, exists func(string) bool) error {
	if !idPattern.MatchString(newID) {
		return fmt.Errorf("rename %s -> %s: malformed id: %w", oldID, newID, apperr.ErrValidation)
	}
	if newID != oldID && exists(newID) {
		return fmt.Errorf("rename %s -> %s: %w", oldID, newID, apperr.ErrCollision)
	}
	return nil
}

func baseKey(meta *models.Metadata) string {
	surname := ""
	if len(meta.Authors) > 0 {
		surname = Normalize(meta.Authors[0].Family)
	}
	if surname == "" {
		surname = firstTitleWord(meta.Title)
	}
	if surname == "" {
		surname = "ref"
	}
	return surname + Normalize(meta.Year)
}

// Normalize lowercases, ASCII-folds, and strips everything outside
// [a-z0-9] so the result is safe as a directory name component.
func Normalize(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstTitleWord(title string) string {
	for _, word := range strings.Fields(title) {
		if n := Normalize(word); n != "" {
			return n
		}
	}
	return ""
}
