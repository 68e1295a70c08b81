package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/types"
)

// ErrNoTarget indicates a PR reference without a usable number.
var ErrNoTarget = errors.New("pr reference has no number")

const (
	defaultAPIBase = "https://api.github.com"
	perPage        = 100
	maxPages       = 10
)

// GitHub implements Provider over the GitHub REST API.
type GitHub struct {
	client  *http.Client
	tokens  creds.Source
	baseURL string
}

// NewGitHub creates a provider. Tokens are resolved per reference from
// the credential source.
func NewGitHub(tokens creds.Source) *GitHub {
	return &GitHub{
		client:  &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		baseURL: defaultAPIBase,
	}
}

// WithBaseURL points the provider at a different API host. Used by tests
// and GitHub Enterprise installs.
func (g *GitHub) WithBaseURL(url string) *GitHub {
	g.baseURL = strings.TrimRight(url, "/")
	return g
}

type issueComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

func (g *GitHub) UpsertComment(ctx context.Context, ref *types.PRRef, searchTag, body string) error {
	if ref == nil || ref.Number() == 0 {
		return ErrNoTarget
	}

	token := ""
	if ref.TokenRef != "" {
		var err error
		token, err = g.tokens.Get(ctx, ref.TokenRef)
		if err != nil {
			return fmt.Errorf("resolve vcs token: %w", err)
		}
	}

	existing, err := g.findComment(ctx, ref, token, searchTag)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}

	if existing != 0 {
		url := fmt.Sprintf("%s/repos/%s/issues/comments/%d", g.baseURL, ref.Repo, existing)
		return g.send(ctx, http.MethodPatch, url, token, payload)
	}
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", g.baseURL, ref.Repo, ref.Number())
	return g.send(ctx, http.MethodPost, url, token, payload)
}

// findComment pages through issue comments looking for the search tag.
// Returns 0 when no comment matches.
func (g *GitHub) findComment(ctx context.Context, ref *types.PRRef, token, searchTag string) (int64, error) {
	if searchTag == "" {
		return 0, nil
	}

	for page := 1; page <= maxPages; page++ {
		url := fmt.Sprintf("%s/repos/%s/issues/%d/comments?per_page=%d&page=%d",
			g.baseURL, ref.Repo, ref.Number(), perPage, page)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		g.auth(req, token)

		resp, err := g.client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("list comments: %w", err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, err
		}
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("list comments: status %d: %s", resp.StatusCode, truncate(data))
		}

		var comments []issueComment
		if err := json.Unmarshal(data, &comments); err != nil {
			return 0, fmt.Errorf("parse comments: %w", err)
		}
		for _, c := range comments {
			if strings.Contains(c.Body, searchTag) {
				return c.ID, nil
			}
		}
		if len(comments) < perPage {
			break
		}
	}
	return 0, nil
}

func (g *GitHub) send(ctx context.Context, method, url, token string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	g.auth(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, truncate(data))
	}
	return nil
}

func (g *GitHub) auth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
}

func truncate(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

var _ Provider = (*GitHub)(nil)
