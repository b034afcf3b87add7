// Package enrich fetches repository context used to ground estimation
// prompts. Enrichment is best-effort: failures surface as warnings on the
// job, never as errors.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	maxFileLines  = 200
	maxTotalChars = 80_000
)

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	"vendor":       {},
	"__pycache__":  {},
	".next":        {},
	"coverage":     {},
}

// docs first, then source, then configs
var priorityExtensions = []string{
	".md", ".rst", ".txt",
	".py", ".ts", ".tsx", ".js", ".jsx", ".go", ".java", ".rb", ".rs", ".cs", ".cpp", ".c",
	".json", ".yaml", ".yml", ".toml", ".env.example",
}

var githubURLRe = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)(?:/tree/([^/]+))?`)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the enrich package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// RepoRef identifies a repository tree to summarize.
type RepoRef struct {
	Owner  string
	Repo   string
	Branch string
}

// ParseURL extracts owner, repo and branch from a GitHub URL. Both plain
// repo URLs and /tree/<branch> URLs are accepted; the branch defaults to main.
func ParseURL(raw string) (RepoRef, error) {
	m := githubURLRe.FindStringSubmatch(strings.TrimRight(raw, "/"))
	if m == nil {
		return RepoRef{}, fmt.Errorf("cannot parse github url: %s", raw)
	}

	ref := RepoRef{
		Owner:  m[1],
		Repo:   strings.TrimSuffix(m[2], ".git"),
		Branch: m[3],
	}
	if ref.Branch == "" {
		ref.Branch = "main"
	}

	return ref, nil
}

// Client fetches repository trees and file contents from GitHub.
type Client struct {
	apiBase string
	rawBase string
	token   string
	httpc   *http.Client
}

// NewClient builds a GitHub client. The token may be empty for public
// repositories. A nil httpClient gets a 30 second timeout.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		apiBase: "https://api.github.com",
		rawBase: "https://raw.githubusercontent.com",
		token:   token,
		httpc:   httpClient,
	}
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type treeResponse struct {
	Tree []treeEntry `json:"tree"`
}

func (c *Client) fetchTree(ctx context.Context, ref RepoRef, token string) ([]treeEntry, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.apiBase, ref.Owner, ref.Repo, ref.Branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build tree request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tree request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tree request: unexpected status %d", resp.StatusCode)
	}

	var tr treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}

	blobs := make([]treeEntry, 0, len(tr.Tree))
	for _, e := range tr.Tree {
		if e.Type == "blob" {
			blobs = append(blobs, e)
		}
	}

	return blobs, nil
}

func (c *Client) fetchFile(ctx context.Context, ref RepoRef, path, token string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase, ref.Owner, ref.Repo, ref.Branch, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build file request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("file request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("file request: unexpected status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file body: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(lines) > maxFileLines {
		lines = append(lines[:maxFileLines], fmt.Sprintf("[truncated after %d lines]", maxFileLines))
	}

	return strings.Join(lines, "\n"), nil
}

func shouldSkip(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if _, ok := skipDirs[part]; ok {
			return true
		}
	}

	return false
}

func extensionPriority(path string) int {
	for i, ext := range priorityExtensions {
		if strings.HasSuffix(path, ext) {
			return i
		}
	}

	return len(priorityExtensions)
}

// Summarize fetches the repository tree and stitches prioritized file
// contents into a single markdown context document, capped at 80k
// characters. An empty token falls back to the client's configured token.
// It returns the summary and a warning; the warning is empty on success.
func (c *Client) Summarize(ctx context.Context, githubURL, token string) (summary, warning string) {
	if token == "" {
		token = c.token
	}

	ref, err := ParseURL(githubURL)
	if err != nil {
		return "", err.Error()
	}

	blobs, err := c.fetchTree(ctx, ref, token)
	if err != nil {
		logger.Warn("github tree fetch failed", "repo", ref.Owner+"/"+ref.Repo, "err", err)
		return "", fmt.Sprintf("GitHub fetch failed: %v", err)
	}

	kept := make([]treeEntry, 0, len(blobs))
	for _, b := range blobs {
		if !shouldSkip(b.Path) {
			kept = append(kept, b)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return extensionPriority(kept[i].Path) < extensionPriority(kept[j].Path)
	})

	var sb strings.Builder
	header := fmt.Sprintf("# Repository: %s/%s (branch: %s)\n", ref.Owner, ref.Repo, ref.Branch)
	sb.WriteString(header)
	total := len(header)

	for _, blob := range kept {
		content, err := c.fetchFile(ctx, ref, blob.Path, token)
		if err != nil {
			logger.Debug("skipping repository file", "path", blob.Path, "err", err)
			continue
		}

		chunk := fmt.Sprintf("\n## %s\n```\n%s\n```\n", blob.Path, content)
		if total+len(chunk) > maxTotalChars {
			fmt.Fprintf(&sb, "\n[Repository summary truncated at %d characters]", maxTotalChars)
			break
		}
		sb.WriteString(chunk)
		total += len(chunk)
	}

	return sb.String(), ""
}
