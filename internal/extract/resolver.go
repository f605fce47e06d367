package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/models"
)

const (
	defaultCrossrefBaseURL = "https://api.crossref.org"
	defaultDataCiteBaseURL = "https://api.datacite.org"
)

// crossrefTypes maps Crossref work types onto the stored entry types.
var crossrefTypes = map[string]string{
	"journal-article":     models.TypeArticle,
	"book":                models.TypeBook,
	"monograph":           models.TypeBook,
	"book-chapter":        models.TypeBook,
	"dissertation":        models.TypeThesis,
	"report":              models.TypeReport,
	"proceedings-article": models.TypeInProceedings,
	"posted-content":      models.TypeMisc,
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// CrossrefBaseURL and DataCiteBaseURL override the registry API
	// roots, for tests.
	CrossrefBaseURL string
	DataCiteBaseURL string

	// HTTPClient is used for all lookups. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Resolver implements Extractor against the Crossref and DataCite
// registries, routing each DOI by its registration agency the way the
// Crossref agency endpoint reports it.
type Resolver struct {
	crossrefBaseURL string
	dataciteBaseURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewResolver creates a registry-backed metadata resolver.
func NewResolver(config ResolverConfig) *Resolver {
	r := &Resolver{
		crossrefBaseURL: strings.TrimRight(config.CrossrefBaseURL, "/"),
		dataciteBaseURL: strings.TrimRight(config.DataCiteBaseURL, "/"),
		httpClient:      config.HTTPClient,
		logger:          config.Logger,
	}
	if r.crossrefBaseURL == "" {
		r.crossrefBaseURL = defaultCrossrefBaseURL
	}
	if r.dataciteBaseURL == "" {
		r.dataciteBaseURL = defaultDataCiteBaseURL
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// FromDOI resolves doi into a metadata record with DOI provenance.
func (r *Resolver) FromDOI(ctx context.Context, doi string) (models.Metadata, error) {
	if !ValidDOI(doi) {
		return models.Metadata{}, &apperr.ExtractionError{Source: "doi", Input: doi, Err: fmt.Errorf("malformed DOI")}
	}
	agency, err := r.agency(ctx, doi)
	if err != nil {
		return models.Metadata{}, err
	}
	var meta models.Metadata
	switch agency {
	case "crossref":
		meta, err = r.fromCrossref(ctx, doi)
	case "datacite":
		meta, err = r.fromDataCite(ctx, doi)
	default:
		err = &apperr.ExtractionError{Source: "doi", Input: doi, Err: fmt.Errorf("unsupported registration agency %q", agency)}
	}
	if err != nil {
		return models.Metadata{}, err
	}
	meta.DOI = doi
	meta.Provenance = models.ProvenanceDOI
	if meta.Type == "" {
		meta.Type = models.TypeMisc
	}
	if meta.URL == "" {
		meta.URL = "https://doi.org/" + doi
	}
	return meta, nil
}

// agency asks Crossref which registry holds the DOI.
func (r *Resolver) agency(ctx context.Context, doi string) (string, error) {
	var wire struct {
		Message struct {
			Agency struct {
				ID string `json:"id"`
			} `json:"agency"`
		} `json:"message"`
	}
	endpoint := fmt.Sprintf("%s/works/%s/agency", r.crossrefBaseURL, url.PathEscape(doi))
	if err := r.getJSON(ctx, doi, endpoint, &wire); err != nil {
		return "", err
	}
	return wire.Message.Agency.ID, nil
}

func (r *Resolver) fromCrossref(ctx context.Context, doi string) (models.Metadata, error) {
	var wire struct {
		Message struct {
			Type   string   `json:"type"`
			Title  []string `json:"title"`
			Author []struct {
				Family string `json:"family"`
				Given  string `json:"given"`
			} `json:"author"`
			PublishedPrint  crossrefDate `json:"published-print"`
			PublishedOnline crossrefDate `json:"published-online"`
			ContainerTitle  []string     `json:"container-title"`
			Volume          string       `json:"volume"`
			Issue           string       `json:"issue"`
			Page            string       `json:"page"`
			Publisher       string       `json:"publisher"`
			Abstract        string       `json:"abstract"`
			Subject         []string     `json:"subject"`
			Resource        struct {
				Primary struct {
					URL string `json:"URL"`
				} `json:"primary"`
			} `json:"resource"`
		} `json:"message"`
	}
	endpoint := fmt.Sprintf("%s/works/%s", r.crossrefBaseURL, url.PathEscape(doi))
	if err := r.getJSON(ctx, doi, endpoint, &wire); err != nil {
		return models.Metadata{}, err
	}

	msg := wire.Message
	meta := models.Metadata{
		Type:      crossrefTypes[msg.Type],
		Volume:    msg.Volume,
		Issue:     msg.Issue,
		Publisher: msg.Publisher,
		Abstract:  msg.Abstract,
		Keywords:  strings.Join(msg.Subject, ", "),
		URL:       msg.Resource.Primary.URL,
	}
	if len(msg.Title) > 0 {
		meta.Title = msg.Title[0]
	}
	for _, author := range msg.Author {
		meta.Authors = append(meta.Authors, models.Author{Family: author.Family, Given: author.Given})
	}
	if len(msg.ContainerTitle) > 0 {
		meta.Venue = msg.ContainerTitle[0]
	}
	date := msg.PublishedPrint
	if len(date.DateParts) == 0 || len(date.DateParts[0]) == 0 {
		date = msg.PublishedOnline
	}
	meta.Year, meta.Month = date.yearMonth()
	if first, last, ok := strings.Cut(msg.Page, "-"); ok {
		meta.FirstPage, meta.LastPage = first, last
	} else {
		meta.FirstPage = msg.Page
	}
	return meta, nil
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

func (d crossrefDate) yearMonth() (year, month string) {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return "", ""
	}
	parts := d.DateParts[0]
	year = strconv.Itoa(parts[0])
	if len(parts) > 1 {
		month = strconv.Itoa(parts[1])
	}
	return year, month
}

func (r *Resolver) fromDataCite(ctx context.Context, doi string) (models.Metadata, error) {
	var wire struct {
		Data struct {
			Attributes struct {
				Types struct {
					BibTeX string `json:"bibtex"`
				} `json:"types"`
				Creators []struct {
					FamilyName string `json:"familyName"`
					GivenName  string `json:"givenName"`
				} `json:"creators"`
				Titles []struct {
					Title string `json:"title"`
				} `json:"titles"`
				PublicationYear int    `json:"publicationYear"`
				Publisher       string `json:"publisher"`
				Descriptions    []struct {
					Description string `json:"description"`
				} `json:"descriptions"`
				Subjects []struct {
					Subject string `json:"subject"`
				} `json:"subjects"`
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/dois/%s", r.dataciteBaseURL, url.PathEscape(doi))
	if err := r.getJSON(ctx, doi, endpoint, &wire); err != nil {
		return models.Metadata{}, err
	}

	attrs := wire.Data.Attributes
	meta := models.Metadata{
		Publisher: attrs.Publisher,
		URL:       attrs.URL,
	}
	switch strings.ToLower(attrs.Types.BibTeX) {
	case "article":
		meta.Type = models.TypeArticle
	case "book":
		meta.Type = models.TypeBook
	case "phdthesis", "mastersthesis":
		meta.Type = models.TypeThesis
	case "techreport":
		meta.Type = models.TypeReport
	case "inproceedings":
		meta.Type = models.TypeInProceedings
	}
	for _, creator := range attrs.Creators {
		meta.Authors = append(meta.Authors, models.Author{Family: creator.FamilyName, Given: creator.GivenName})
	}
	if len(attrs.Titles) > 0 {
		meta.Title = attrs.Titles[0].Title
	}
	if attrs.PublicationYear != 0 {
		meta.Year = strconv.Itoa(attrs.PublicationYear)
	}
	if len(attrs.Descriptions) > 0 {
		meta.Abstract = attrs.Descriptions[0].Description
	}
	subjects := make([]string, 0, len(attrs.Subjects))
	for _, subject := range attrs.Subjects {
		subjects = append(subjects, subject.Subject)
	}
	meta.Keywords = strings.Join(subjects, ", ")
	return meta, nil
}

// arxivAbstract matches a DataCite contentUrl that points at an arXiv
// abstract page, whose PDF lives at the parallel /pdf/ path.
var arxivAbstract = regexp.MustCompile(`^(https?://arxiv\.org)/abs/(.+)$`)

// FetchPDF locates the publisher's full-text PDF for doi and downloads
// it. Registries advertise full-text links unevenly; a DOI with no
// usable link fails with an ExtractionError and the caller decides
// whether that matters.
func (r *Resolver) FetchPDF(ctx context.Context, doi string) (string, []byte, error) {
	if !ValidDOI(doi) {
		return "", nil, &apperr.ExtractionError{Source: "pdf", Input: doi, Err: fmt.Errorf("malformed DOI")}
	}
	agency, err := r.agency(ctx, doi)
	if err != nil {
		return "", nil, err
	}
	var link string
	switch agency {
	case "crossref":
		link, err = r.crossrefPDFLink(ctx, doi)
	case "datacite":
		link, err = r.datacitePDFLink(ctx, doi)
	default:
		err = &apperr.ExtractionError{Source: "pdf", Input: doi, Err: fmt.Errorf("unsupported registration agency %q", agency)}
	}
	if err != nil {
		return "", nil, err
	}
	if link == "" {
		return "", nil, &apperr.ExtractionError{Source: "pdf", Input: doi, Err: fmt.Errorf("registry advertises no full-text link")}
	}
	data, err := r.download(ctx, doi, link)
	if err != nil {
		return "", nil, err
	}
	return pdfFileName(link), data, nil
}

// crossrefPDFLink picks the first full-text link from the work record.
// Publishers that tag no content type at all still usually serve the
// PDF, so "unspecified" counts.
func (r *Resolver) crossrefPDFLink(ctx context.Context, doi string) (string, error) {
	var wire struct {
		Message struct {
			Link []struct {
				URL         string `json:"URL"`
				ContentType string `json:"content-type"`
			} `json:"link"`
		} `json:"message"`
	}
	endpoint := fmt.Sprintf("%s/works/%s", r.crossrefBaseURL, url.PathEscape(doi))
	if err := r.getJSON(ctx, doi, endpoint, &wire); err != nil {
		return "", err
	}
	for _, link := range wire.Message.Link {
		if link.ContentType == "application/pdf" || link.ContentType == "unspecified" {
			return link.URL, nil
		}
	}
	return "", nil
}

func (r *Resolver) datacitePDFLink(ctx context.Context, doi string) (string, error) {
	var wire struct {
		Data struct {
			Attributes struct {
				ContentURL string `json:"contentUrl"`
			} `json:"attributes"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/dois/%s", r.dataciteBaseURL, url.PathEscape(doi))
	if err := r.getJSON(ctx, doi, endpoint, &wire); err != nil {
		return "", err
	}
	contentURL := wire.Data.Attributes.ContentURL
	if strings.HasSuffix(contentURL, ".pdf") {
		return contentURL, nil
	}
	if m := arxivAbstract.FindStringSubmatch(contentURL); m != nil {
		return m[1] + "/pdf/" + m[2], nil
	}
	return "", nil
}

func (r *Resolver) download(ctx context.Context, doi, link string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, &apperr.ExtractionError{Source: "pdf", Input: doi, Err: err}
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, &apperr.ExtractionError{Source: "pdf", Input: doi, Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, &apperr.ExtractionError{Source: "pdf", Input: doi,
			Err: fmt.Errorf("GET %s: status %d", link, response.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, 100<<20))
	if err != nil {
		return nil, &apperr.ExtractionError{Source: "pdf", Input: doi, Err: err}
	}
	return data, nil
}

// pdfFileName derives the attachment name from the link's last path
// segment, normalizing to a .pdf suffix.
func pdfFileName(link string) string {
	name := link
	if parsed, err := url.Parse(link); err == nil && parsed.Path != "" {
		name = parsed.Path
	}
	name = name[strings.LastIndex(name, "/")+1:]
	if name == "" {
		name = "fulltext"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func (r *Resolver) getJSON(ctx context.Context, doi, endpoint string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &apperr.ExtractionError{Source: "doi", Input: doi, Err: err}
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return &apperr.ExtractionError{Source: "doi", Input: doi, Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return &apperr.ExtractionError{Source: "doi", Input: doi,
			Err: fmt.Errorf("GET %s: status %d", endpoint, response.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, 10<<20))
	if err != nil {
		return &apperr.ExtractionError{Source: "doi", Input: doi, Err: err}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &apperr.ExtractionError{Source: "doi", Input: doi, Err: fmt.Errorf("decoding registry response: %w", err)}
	}
	return nil
}
