package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/types"
)

// ErrNoSource indicates an order source with neither a bundle location nor
// a repository.
var ErrNoSource = errors.New("order has no code source")

// Fetcher materialises an order's code source as a relative-path map.
type Fetcher interface {
	Fetch(ctx context.Context, src types.Source) (map[string][]byte, error)
}

// SourceFetcher routes to the right backend per source shape: bundle
// locations read a pre-built zip from the artifact store, repositories
// clone through git.
type SourceFetcher struct {
	artifacts artifact.Store
	git       *GitFetcher
}

// NewSourceFetcher creates a fetcher over the artifact store and a git
// clone cache. git may be nil when repository sources are not in play.
func NewSourceFetcher(artifacts artifact.Store, git *GitFetcher) *SourceFetcher {
	return &SourceFetcher{artifacts: artifacts, git: git}
}

func (f *SourceFetcher) Fetch(ctx context.Context, src types.Source) (map[string][]byte, error) {
	switch {
	case src.BundleLocation != "":
		data, err := f.artifacts.ReadBundle(ctx, src.BundleLocation)
		if err != nil {
			return nil, fmt.Errorf("fetch bundle %s: %w", src.BundleLocation, err)
		}
		return Unpack(data)
	case src.Repo != "":
		if f.git == nil {
			return nil, fmt.Errorf("repo source %s: git fetcher not configured", src.Repo)
		}
		return f.git.Fetch(ctx, src)
	default:
		return nil, ErrNoSource
	}
}

// GitFetcher clones repositories and extracts order folders. Clones are
// shared per (repo, commit) so a job with many orders on the same source
// pays for one clone.
type GitFetcher struct {
	tokens   creds.Source
	cacheDir string
	host     string

	mu     sync.Mutex
	clones map[string]string
}

// NewGitFetcher creates a fetcher with its clone cache rooted at cacheDir.
func NewGitFetcher(tokens creds.Source, cacheDir string) *GitFetcher {
	return &GitFetcher{
		tokens:   tokens,
		cacheDir: cacheDir,
		host:     "github.com",
		clones:   make(map[string]string),
	}
}

func (g *GitFetcher) Fetch(ctx context.Context, src types.Source) (map[string][]byte, error) {
	dir, err := g.clone(ctx, src)
	if err != nil {
		return nil, err
	}

	root := dir
	if src.Folder != "" {
		root = filepath.Join(dir, filepath.Clean(src.Folder))
		if !strings.HasPrefix(root, dir+string(os.PathSeparator)) {
			return nil, fmt.Errorf("folder %q escapes the clone", src.Folder)
		}
	}
	return readTree(root)
}

// clone materialises (repo, commit) once and reuses it afterwards.
func (g *GitFetcher) clone(ctx context.Context, src types.Source) (string, error) {
	cacheKey := src.Repo + "@" + src.Commit

	g.mu.Lock()
	defer g.mu.Unlock()
	if dir, ok := g.clones[cacheKey]; ok {
		return dir, nil
	}

	token := ""
	if src.TokenRef != "" {
		var err error
		token, err = g.tokens.Get(ctx, src.TokenRef)
		if err != nil {
			return "", fmt.Errorf("resolve token for %s: %w", src.Repo, err)
		}
	}

	if err := os.MkdirAll(g.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	dir, err := os.MkdirTemp(g.cacheDir, "clone-")
	if err != nil {
		return "", fmt.Errorf("create clone dir: %w", err)
	}

	url := fmt.Sprintf("https://%s/%s.git", g.host, src.Repo)
	if token != "" {
		url = fmt.Sprintf("https://x-access-token:%s@%s/%s.git", token, g.host, src.Repo)
	}

	args := []string{"clone", "--depth", "1"}
	if src.Commit == "" {
		args = append(args, url, dir)
		if err := runGit(ctx, "", args...); err != nil {
			return "", fmt.Errorf("clone %s: %w", src.Repo, err)
		}
	} else {
		// A pinned commit cannot be shallow-cloned directly; init and
		// fetch the single revision instead.
		if err := runGit(ctx, "", "init", dir); err != nil {
			return "", fmt.Errorf("init %s: %w", src.Repo, err)
		}
		if err := runGit(ctx, dir, "fetch", "--depth", "1", url, src.Commit); err != nil {
			return "", fmt.Errorf("fetch %s@%s: %w", src.Repo, src.Commit, err)
		}
		if err := runGit(ctx, dir, "checkout", "FETCH_HEAD"); err != nil {
			return "", fmt.Errorf("checkout %s@%s: %w", src.Repo, src.Commit, err)
		}
	}

	g.clones[cacheKey] = dir
	return dir, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// readTree loads a directory into a relative-path map, skipping .git.
func readTree(root string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", root, err)
	}
	return files, nil
}
