// Package creds resolves secret references into values at admission time.
// Secrets enter bundles encrypted and never touch the state store.
package creds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrUnknownRef indicates a secret reference that no source can resolve.
var ErrUnknownRef = errors.New("unknown secret reference")

// callTimeout bounds every individual credential fetch.
const callTimeout = 10 * time.Second

// Source resolves one secret reference to its value.
type Source interface {
	Get(ctx context.Context, ref string) (string, error)
}

// Reference schemes. A bare reference defaults to the parameter store.
const (
	schemeSSM     = "ssm://"
	schemeSecrets = "secrets://"
)

// Router dispatches references to a source by scheme prefix.
type Router struct {
	params  Source
	secrets Source
}

// NewRouter creates a router over the two backing sources. Either may be
// nil; references routed to a nil source fail with ErrUnknownRef.
func NewRouter(params, secrets Source) *Router {
	return &Router{params: params, secrets: secrets}
}

func (r *Router) Get(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, schemeSecrets):
		if r.secrets == nil {
			return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
		}
		return r.secrets.Get(ctx, strings.TrimPrefix(ref, schemeSecrets))
	case strings.HasPrefix(ref, schemeSSM):
		ref = strings.TrimPrefix(ref, schemeSSM)
		fallthrough
	default:
		if r.params == nil {
			return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
		}
		return r.params.Get(ctx, ref)
	}
}

// Resolve fetches a whole reference map, keyed by env-var name.
func Resolve(ctx context.Context, src Source, refs map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	for name, ref := range refs {
		val, err := src.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

// SSMSource fetches decrypted parameters from the parameter store.
type SSMSource struct {
	client *ssm.Client
}

func NewSSMSource(client *ssm.Client) *SSMSource {
	return &SSMSource{client: client}
}

func (s *SSMSource) Get(ctx context.Context, ref string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetParameter(callCtx, &ssm.GetParameterInput{
		Name:           aws.String(ref),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", ref, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	return *out.Parameter.Value, nil
}

// SecretsSource fetches values from the secrets manager.
type SecretsSource struct {
	client *secretsmanager.Client
}

func NewSecretsSource(client *secretsmanager.Client) *SecretsSource {
	return &SecretsSource{client: client}
}

func (s *SecretsSource) Get(ctx context.Context, ref string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetSecretValue(callCtx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", ref, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	return *out.SecretString, nil
}

// StaticSource serves a fixed reference map, for tests and local runs.
type StaticSource map[string]string

func (s StaticSource) Get(_ context.Context, ref string) (string, error) {
	val, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	return val, nil
}
