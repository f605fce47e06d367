package remotetree

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nken-eccs/gitrefer/internal/apperr"
)

// githubAPIVersion pins the GitHub REST API version header so behavior
// stays consistent as the API evolves.
const githubAPIVersion = "2022-11-28"

// defaultGitHubBaseURL is the base URL for the public GitHub API.
const defaultGitHubBaseURL = "https://api.github.com"

// GitHubConfig holds configuration for a GitHub-backed tree.
type GitHubConfig struct {
	// Repo is the repository in "owner/name" form.
	Repo string

	// Token is a personal access token with repo scope.
	Token string

	// Branch is the target branch. Empty means the repository default.
	Branch string

	// BaseURL overrides the API root, for GitHub Enterprise or tests.
	// Must use HTTPS unless it points at loopback.
	BaseURL string

	// HTTPClient is used for all requests. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// GitHub implements Tree on top of the GitHub repository contents API.
// The blob SHA that the API returns with every file is the revision
// marker: writes and deletes carry it as the "sha" field and the API
// rejects the request when it no longer matches.
type GitHub struct {
	baseURL    string
	repo       string
	branch     string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGitHub creates a GitHub-backed tree from the given configuration.
func NewGitHub(config GitHubConfig) (*GitHub, error) {
	if config.Repo == "" || strings.Count(config.Repo, "/") != 1 {
		return nil, fmt.Errorf("remotetree: repo must be \"owner/name\" (got %q)", config.Repo)
	}
	if config.Token == "" {
		return nil, fmt.Errorf("remotetree: token is required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "https://") && !isLoopback(baseURL) {
		return nil, fmt.Errorf("remotetree: API base URL requires HTTPS (got %q)", baseURL)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHub{
		baseURL:    baseURL,
		repo:       config.Repo,
		branch:     config.Branch,
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func isLoopback(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// contentsEntry is the wire shape of one contents-API item.
type contentsEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int    `json:"size"`
	Type        string `json:"type"` // "file" or "dir"
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	DownloadURL string `json:"download_url"`
}

func (g *GitHub) List(ctx context.Context, path string) ([]Entry, error) {
	body, status, err := g.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &apperr.TransportError{Op: "list", Path: path, StatusCode: status, Err: apiMessage(body)}
	}
	var items []contentsEntry
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &apperr.TransportError{Op: "list", Path: path, Err: fmt.Errorf("decoding directory listing: %w", err)}
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			Name:     item.Name,
			Path:     item.Path,
			IsDir:    item.Type == "dir",
			Revision: Revision(item.SHA),
		})
	}
	return entries, nil
}

func (g *GitHub) Read(ctx context.Context, path string) ([]byte, Revision, error) {
	body, status, err := g.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, NoRevision, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, NoRevision, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	default:
		return nil, NoRevision, &apperr.TransportError{Op: "read", Path: path, StatusCode: status, Err: apiMessage(body)}
	}
	var item contentsEntry
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, NoRevision, &apperr.TransportError{Op: "read", Path: path, Err: fmt.Errorf("decoding file response: %w", err)}
	}
	content, err := g.decodeContent(ctx, path, &item)
	if err != nil {
		return nil, NoRevision, err
	}
	return content, Revision(item.SHA), nil
}

// decodeContent handles both inline base64 payloads and the oversized
// files the contents API serves only through download_url.
func (g *GitHub) decodeContent(ctx context.Context, path string, item *contentsEntry) ([]byte, error) {
	if item.Content != "" {
		raw := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, item.Content)
		content, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, &apperr.TransportError{Op: "read", Path: path, Err: fmt.Errorf("decoding base64 content: %w", err)}
		}
		return content, nil
	}
	if item.Size == 0 {
		return nil, nil
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, item.DownloadURL, nil)
	if err != nil {
		return nil, &apperr.TransportError{Op: "read", Path: path, Err: err}
	}
	response, err := g.httpClient.Do(request)
	if err != nil {
		return nil, &apperr.TransportError{Op: "read", Path: path, Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, &apperr.TransportError{Op: "read", Path: path, StatusCode: response.StatusCode, Err: fmt.Errorf("downloading raw content")}
	}
	return io.ReadAll(response.Body)
}

func (g *GitHub) Write(ctx context.Context, path string, content []byte, expected Revision) (Revision, error) {
	payload := map[string]any{
		"message": fmt.Sprintf("gitrefer: write %s", path),
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if expected != NoRevision {
		payload["sha"] = string(expected)
	}
	if g.branch != "" {
		payload["branch"] = g.branch
	}
	body, status, err := g.do(ctx, http.MethodPut, path, payload)
	if err != nil {
		return NoRevision, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return NoRevision, fmt.Errorf("write %s: %w", path, apperr.ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409 is a stale sha; 422 covers the create-only case where
		// the path already exists and no sha was supplied.
		return NoRevision, fmt.Errorf("write %s: %v: %w", path, apiMessage(body), apperr.ErrConflict)
	default:
		return NoRevision, &apperr.TransportError{Op: "write", Path: path, StatusCode: status, Err: apiMessage(body)}
	}
	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Content.SHA == "" {
		return NoRevision, &apperr.TransportError{Op: "write", Path: path, Err: fmt.Errorf("missing blob sha in write response")}
	}
	return Revision(result.Content.SHA), nil
}

func (g *GitHub) Delete(ctx context.Context, path string, expected Revision) error {
	payload := map[string]any{
		"message": fmt.Sprintf("gitrefer: delete %s", path),
		"sha":     string(expected),
	}
	if g.branch != "" {
		payload["branch"] = g.branch
	}
	body, status, err := g.do(ctx, http.MethodDelete, path, payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("delete %s: %w", path, apperr.ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("delete %s: %v: %w", path, apiMessage(body), apperr.ErrConflict)
	default:
		return &apperr.TransportError{Op: "delete", Path: path, StatusCode: status, Err: apiMessage(body)}
	}
}

// do executes one authenticated contents-API request and returns the
// response body and status. Network-level failures come back as
// *apperr.TransportError; HTTP status handling is the caller's job
// because the mapping differs per operation.
func (g *GitHub) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s", g.baseURL, g.repo, url.PathEscape(strings.Trim(path, "/")))
	// PathEscape keeps slashes meaningful inside the tree path.
	endpoint = strings.ReplaceAll(endpoint, "%2F", "/")
	if method == http.MethodGet && g.branch != "" {
		endpoint += "?ref=" + url.QueryEscape(g.branch)
	}

	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, &apperr.TransportError{Op: strings.ToLower(method), Path: path, Err: fmt.Errorf("encoding request body: %w", err)}
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, 0, &apperr.TransportError{Op: strings.ToLower(method), Path: path, Err: err}
	}
	request.Header.Set("Authorization", "Bearer "+g.token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := g.httpClient.Do(request)
	if err != nil {
		return nil, 0, &apperr.TransportError{Op: strings.ToLower(method), Path: path, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 100<<20))
	if err != nil {
		return nil, 0, &apperr.TransportError{Op: strings.ToLower(method), Path: path, Err: fmt.Errorf("reading response body: %w", err)}
	}
	return body, response.StatusCode, nil
}

// apiMessage extracts the "message" field GitHub puts in error bodies.
func apiMessage(body []byte) error {
	var wire struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Message != "" {
		return fmt.Errorf("%s", wire.Message)
	}
	return fmt.Errorf("unexpected API response")
}
