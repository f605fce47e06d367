package cite

import (
	"fmt"
	"strings"

	"github.com/nken-eccs/gitrefer/internal/models"
)

// renderAPA emits an APA-style line: authors, parenthesized year,
// title, venue with volume(issue) and pages, then DOI or URL.
func renderAPA(_ string, meta *models.Metadata) string {
	var b strings.Builder
	b.WriteString(apaAuthors(meta.Authors))
	if meta.Year != "" {
		fmt.Fprintf(&b, " (%s).", meta.Year)
	}
	fmt.Fprintf(&b, " %s.", strings.TrimRight(meta.Title, "."))
	if meta.Venue != "" {
		fmt.Fprintf(&b, " %s", meta.Venue)
		if meta.Volume != "" {
			fmt.Fprintf(&b, ", %s", meta.Volume)
			if meta.Issue != "" {
				fmt.Fprintf(&b, "(%s)", meta.Issue)
			}
		}
		if meta.FirstPage != "" && meta.LastPage != "" {
			fmt.Fprintf(&b, ", %s-%s", meta.FirstPage, meta.LastPage)
		}
		b.WriteString(".")
	}
	switch {
	case meta.DOI != "":
		fmt.Fprintf(&b, " https://doi.org/%s", meta.DOI)
	case meta.URL != "":
		fmt.Fprintf(&b, " %s", meta.URL)
	}
	return b.String()
}

// apaAuthors renders "Family, G., Family, G., & Family, G." with
// given names reduced to initials.
func apaAuthors(authors []models.Author) string {
	parts := make([]string, 0, len(authors))
	for _, author := range authors {
		name := author.Family
		if initial := apaInitial(author.Given); initial != "" {
			name += ", " + initial
		}
		parts = append(parts, name)
	}
	switch len(parts) {
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", & " + parts[len(parts)-1]
	}
}

func apaInitial(given string) string {
	initials := make([]string, 0, 2)
	for _, word := range strings.Fields(given) {
		runes := []rune(word)
		if len(runes) > 0 {
			initials = append(initials, string(runes[0])+".")
		}
	}
	return strings.Join(initials, " ")
}
