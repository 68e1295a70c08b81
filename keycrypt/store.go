package keycrypt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrKeyNotFound indicates a key reference with no stored keypair.
var ErrKeyNotFound = errors.New("key not found")

const callTimeout = 10 * time.Second

// KeyStore persists per-order keypairs under opaque references. Keys for a
// run are deleted at finalisation; deletion is best effort.
type KeyStore interface {
	// PutKey stores a keypair for an order and returns its reference.
	PutKey(ctx context.Context, runID, orderNum string, pair *KeyPair) (string, error)

	// GetKey fetches a keypair by reference, or ErrKeyNotFound.
	GetKey(ctx context.Context, ref string) (*KeyPair, error)

	// DeleteRunKeys removes every key stored for a run.
	DeleteRunKeys(ctx context.Context, runID string) error
}

// SSMKeyStore keeps keypairs as SecureString parameters under
// <prefix>/<run_id>/<order_num>.
type SSMKeyStore struct {
	client *ssm.Client
	prefix string
}

// NewSSMKeyStore creates a key store rooted at prefix.
func NewSSMKeyStore(client *ssm.Client, prefix string) *SSMKeyStore {
	return &SSMKeyStore{client: client, prefix: strings.TrimRight(prefix, "/")}
}

func (s *SSMKeyStore) keyRef(runID, orderNum string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, runID, orderNum)
}

func (s *SSMKeyStore) PutKey(ctx context.Context, runID, orderNum string, pair *KeyPair) (string, error) {
	payload, err := json.Marshal(pair)
	if err != nil {
		return "", fmt.Errorf("marshal keypair: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ref := s.keyRef(runID, orderNum)
	_, err = s.client.PutParameter(callCtx, &ssm.PutParameterInput{
		Name:      aws.String(ref),
		Value:     aws.String(string(payload)),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("put key %s: %w", ref, err)
	}
	return ref, nil
}

func (s *SSMKeyStore) GetKey(ctx context.Context, ref string) (*KeyPair, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetParameter(callCtx, &ssm.GetParameterInput{
		Name:           aws.String(ref),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
		}
		return nil, fmt.Errorf("get key %s: %w", ref, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
	}

	var pair KeyPair
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &pair); err != nil {
		return nil, fmt.Errorf("parse key %s: %w", ref, err)
	}
	return &pair, nil
}

func (s *SSMKeyStore) DeleteRunKeys(ctx context.Context, runID string) error {
	root := s.prefix + "/" + runID
	var names []string
	var next *string
	for {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		out, err := s.client.GetParametersByPath(callCtx, &ssm.GetParametersByPathInput{
			Path:      aws.String(root),
			Recursive: aws.Bool(true),
			NextToken: next,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("list keys %s: %w", root, err)
		}
		for _, p := range out.Parameters {
			if p.Name != nil {
				names = append(names, *p.Name)
			}
		}
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	// DeleteParameters accepts at most ten names per call.
	for len(names) > 0 {
		batch := names
		if len(batch) > 10 {
			batch = batch[:10]
		}
		names = names[len(batch):]

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		_, err := s.client.DeleteParameters(callCtx, &ssm.DeleteParametersInput{Names: batch})
		cancel()
		if err != nil {
			return fmt.Errorf("delete keys %s: %w", root, err)
		}
	}
	return nil
}

// MemoryKeyStore is an in-memory KeyStore for tests.
type MemoryKeyStore struct {
	mu     sync.Mutex
	prefix string
	keys   map[string]*KeyPair
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{prefix: "/keys", keys: make(map[string]*KeyPair)}
}

func (s *MemoryKeyStore) PutKey(_ context.Context, runID, orderNum string, pair *KeyPair) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := fmt.Sprintf("%s/%s/%s", s.prefix, runID, orderNum)
	cp := *pair
	s.keys[ref] = &cp
	return ref, nil
}

func (s *MemoryKeyStore) GetKey(_ context.Context, ref string) (*KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.keys[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
	}
	cp := *pair
	return &cp, nil
}

func (s *MemoryKeyStore) DeleteRunKeys(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.prefix + "/" + runID + "/"
	for ref := range s.keys {
		if strings.HasPrefix(ref, root) {
			delete(s.keys, ref)
		}
	}
	return nil
}

var (
	_ KeyStore = (*SSMKeyStore)(nil)
	_ KeyStore = (*MemoryKeyStore)(nil)
)
