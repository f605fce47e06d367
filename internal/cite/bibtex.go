package cite

import (
	"fmt"
	"strings"

	"github.com/nken-eccs/gitrefer/internal/models"
)

// bibtexTypes maps the stored entry type to a BibTeX entry type.
// Unknown types fall back to @misc.
var bibtexTypes = map[string]string{
	models.TypeArticle:       "article",
	models.TypeBook:          "book",
	models.TypeThesis:        "phdthesis",
	models.TypeReport:        "techreport",
	models.TypeInProceedings: "inproceedings",
	models.TypeMisc:          "misc",
}

// bibtexEscaper escapes the characters that are grammar-significant in
// BibTeX field values. Braces are left alone: values are emitted
// brace-wrapped, and stored titles may legitimately use inner braces
// to protect capitalization.
var bibtexEscaper = strings.NewReplacer(
	"&", `\&`,
	"%", `\%`,
	"$", `\$`,
	"#", `\#`,
	"_", `\_`,
)

func renderBibTeX(id string, meta *models.Metadata) string {
	entryType, ok := bibtexTypes[meta.Type]
	if !ok {
		entryType = "misc"
	}

	names := make([]string, 0, len(meta.Authors))
	for _, author := range meta.Authors {
		if author.Given != "" {
			names = append(names, fmt.Sprintf("%s, %s", author.Family, author.Given))
		} else {
			names = append(names, author.Family)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "@%s{%s,\n", entryType, id)
	field(&b, "author", strings.Join(names, " and "))
	field(&b, "title", meta.Title)
	field(&b, "year", meta.Year)
	field(&b, "month", meta.Month)
	field(&b, "journal", meta.Venue)
	field(&b, "volume", meta.Volume)
	field(&b, "number", meta.Issue)
	if meta.FirstPage != "" && meta.LastPage != "" {
		field(&b, "pages", meta.FirstPage+"--"+meta.LastPage)
	}
	field(&b, "publisher", meta.Publisher)
	field(&b, "doi", meta.DOI)
	if meta.DOI == "" {
		field(&b, "url", meta.URL)
	}
	field(&b, "note", meta.Note)
	b.WriteString("}")
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s = {%s},\n", name, bibtexEscaper.Replace(value))
}
