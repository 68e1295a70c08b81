// Package bundle assembles order execution bundles: fetched code, the
// merged environment, sealed secrets, and a manifest. The bundle is the
// only thing a worker needs besides its key reference.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/types"
)

// Bundle entry names alongside the code/ tree.
const (
	OrderEntry    = "order.json"
	EnvEntry      = "env.enc"
	ManifestEntry = "manifest.json"
	CodePrefix    = "code/"
)

// OrderEntryPayload is the worker-facing execution descriptor inside a
// bundle.
type OrderEntryPayload struct {
	Cmds     []string `json:"cmds"`
	TimeoutS int      `json:"timeout_s"`
}

// Manifest records what a bundle contains by name only. Values never
// appear here; the manifest is safe to log and audit.
type Manifest struct {
	Files   []string `json:"files"`
	Env     []string `json:"env"`
	Secrets []string `json:"secrets"`
}

// Builder assembles bundles from an order plus run-scoped inputs.
type Builder struct {
	fetcher Fetcher
	secrets creds.Source
	config  creds.Source
}

// NewBuilder creates a builder. config and secrets may share one source.
func NewBuilder(fetcher Fetcher, config, secrets creds.Source) *Builder {
	return &Builder{fetcher: fetcher, config: config, secrets: secrets}
}

// BuildInput carries the per-order inputs admission derives before
// bundling.
type BuildInput struct {
	Order     *types.Order
	Intro     Introspection
	PublicKey string
}

// Build fetches the order's code, resolves config and secret references,
// seals the whole merged environment against the order key, and packs
// everything into one archive. An order without a code source still gets
// a bundle; its archive carries the order entry and sealed env alone.
func (b *Builder) Build(ctx context.Context, in BuildInput) ([]byte, error) {
	var code map[string][]byte
	if in.Order.Source.HasCode() {
		var err error
		code, err = b.fetcher.Fetch(ctx, in.Order.Source)
		if err != nil {
			return nil, err
		}
	}

	config, err := b.resolve(ctx, b.config, in.Order.ConfigPaths)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	secrets, err := b.resolve(ctx, b.secrets, in.Order.SecretPaths)
	if err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	env := MergeEnv(in.Order.EnvVars, config, secrets, in.Intro)

	files := make(map[string][]byte, len(code)+3)
	for path, content := range code {
		files[CodePrefix+path] = content
	}

	orderPayload, err := json.Marshal(OrderEntryPayload{
		Cmds:     in.Order.Cmds,
		TimeoutS: in.Order.TimeoutS,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order entry: %w", err)
	}
	files[OrderEntry] = orderPayload

	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal env: %w", err)
	}
	sealed, err := keycrypt.Seal(plaintext, in.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("seal env: %w", err)
	}
	files[EnvEntry] = sealed

	manifest, err := json.Marshal(buildManifest(code, env, secrets))
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	files[ManifestEntry] = manifest

	return Pack(files)
}

// resolve fetches a reference list into an env map. The env name is the
// last path segment of each reference.
func (b *Builder) resolve(ctx context.Context, src creds.Source, refs []string) (map[string]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	named := make(map[string]string, len(refs))
	for _, ref := range refs {
		named[EnvName(ref)] = ref
	}
	return creds.Resolve(ctx, src, named)
}

// EnvName derives the env-var name from a reference path.
func EnvName(ref string) string {
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func buildManifest(code map[string][]byte, env, secrets map[string]string) Manifest {
	m := Manifest{
		Files:   make([]string, 0, len(code)),
		Env:     make([]string, 0, len(env)),
		Secrets: make([]string, 0, len(secrets)),
	}
	for path := range code {
		m.Files = append(m.Files, path)
	}
	for name := range env {
		m.Env = append(m.Env, name)
	}
	for name := range secrets {
		m.Secrets = append(m.Secrets, name)
	}
	sort.Strings(m.Files)
	sort.Strings(m.Env)
	sort.Strings(m.Secrets)
	return m
}
