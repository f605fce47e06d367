package cite

import (
	"strings"

	"github.com/nken-eccs/gitrefer/internal/models"
)

// risTypes maps the stored entry type to an RIS TY value. Unknown
// types fall back to GEN.
var risTypes = map[string]string{
	models.TypeArticle:       "JOUR",
	models.TypeBook:          "BOOK",
	models.TypeThesis:        "THES",
	models.TypeReport:        "RPRT",
	models.TypeInProceedings: "CONF",
	models.TypeMisc:          "GEN",
}

// renderRIS emits line-oriented "TAG  - value" pairs terminated by ER.
func renderRIS(_ string, meta *models.Metadata) string {
	risType, ok := risTypes[meta.Type]
	if !ok {
		risType = "GEN"
	}

	var b strings.Builder
	tag(&b, "TY", risType)
	for _, author := range meta.Authors {
		name := author.Family
		if author.Given != "" {
			name += ", " + author.Given
		}
		tag(&b, "AU", name)
	}
	tag(&b, "TI", meta.Title)
	tag(&b, "PY", meta.Year)
	tag(&b, "JF", meta.Venue)
	tag(&b, "VL", meta.Volume)
	tag(&b, "IS", meta.Issue)
	tag(&b, "SP", meta.FirstPage)
	tag(&b, "EP", meta.LastPage)
	tag(&b, "PB", meta.Publisher)
	tag(&b, "DO", meta.DOI)
	if meta.DOI == "" {
		tag(&b, "UR", meta.URL)
	}
	b.WriteString("ER  -")
	return b.String()
}

func tag(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(name)
	b.WriteString("  - ")
	// RIS is line-oriented; embedded newlines would start a bogus tag.
	b.WriteString(strings.ReplaceAll(value, "\n", " "))
	b.WriteString("\n")
}
