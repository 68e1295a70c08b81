package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/foreman/types"
)

// MemoryStore is an in-memory artifact store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

const (
	memInternalBucket = "internal"
	memDoneBucket     = "done"
)

func (s *MemoryStore) PutBundle(_ context.Context, runID, orderNum string, data []byte) (string, error) {
	key := BundleKey(runID, orderNum)
	s.set(memInternalBucket, key, data)
	return URI(memInternalBucket, key), nil
}

func (s *MemoryStore) ReadBundle(_ context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	data, ok := s.lookup(bucket, key)
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Op: "read_bundle", Key: key, Err: ErrNotFound}
	}
	return data, nil
}

func (s *MemoryStore) PresignCallback(_ context.Context, runID, orderNum string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?expires=%d", memInternalBucket, CallbackKey(runID, orderNum), int(expiry.Seconds())), nil
}

func (s *MemoryStore) ResultExists(_ context.Context, runID, orderNum string) (bool, error) {
	_, ok := s.lookup(memInternalBucket, CallbackKey(runID, orderNum))
	return ok, nil
}

func (s *MemoryStore) ReadResult(_ context.Context, runID, orderNum string) (*types.CallbackResult, error) {
	key := CallbackKey(runID, orderNum)
	data, ok := s.lookup(memInternalBucket, key)
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Op: "read_result", Key: key, Err: ErrNotFound}
	}
	var res types.CallbackResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse result %s: %w", key, err)
	}
	return &res, nil
}

func (s *MemoryStore) WriteResult(_ context.Context, runID, orderNum string, res *types.CallbackResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	s.set(memInternalBucket, CallbackKey(runID, orderNum), data)
	return nil
}

func (s *MemoryStore) WriteStartMarker(ctx context.Context, runID string) error {
	return s.WriteResult(ctx, runID, types.StartOrderNum, &types.CallbackResult{
		Status: types.StartMarkerStatus,
	})
}

func (s *MemoryStore) WriteDone(_ context.Context, runID string, marker *types.DoneMarker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	s.set(memDoneBucket, DoneKey(runID), data)
	return nil
}

func (s *MemoryStore) ReadDone(_ context.Context, runID string) (*types.DoneMarker, error) {
	key := DoneKey(runID)
	data, ok := s.lookup(memDoneBucket, key)
	if !ok {
		return nil, &StoreError{Kind: ErrNotFound, Op: "read_done", Key: key, Err: ErrNotFound}
	}
	var marker types.DoneMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("parse done marker %s: %w", key, err)
	}
	return &marker, nil
}

// Done fetches a run's done marker, for test assertions.
func (s *MemoryStore) Done(runID string) (*types.DoneMarker, bool) {
	data, ok := s.lookup(memDoneBucket, DoneKey(runID))
	if !ok {
		return nil, false
	}
	var marker types.DoneMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, false
	}
	return &marker, true
}

func (s *MemoryStore) set(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[bucket+"/"+key] = cp
}

func (s *MemoryStore) lookup(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	return data, ok
}

var _ Store = (*MemoryStore)(nil)
