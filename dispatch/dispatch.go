// Package dispatch hands ready orders to execution backends. All three
// backends are identical from the kernel's standpoint: they receive the
// bundle URI, the key reference, and the callback URL, and the kernel
// hears back only through the callback write.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/foreman/types"
)

// Dispatcher starts an order on its execution backend and returns an
// opaque execution handle (an ID or URL usable for operator lookup).
// Dispatch carries a deterministic token derived from (run_id, order_num)
// so a redelivered notification re-dispatches with the same identity.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *types.OrderRecord) (string, error)
}

// Payload is the worker-facing dispatch message.
type Payload struct {
	RunID         string              `json:"run_id"`
	OrderNum      string              `json:"order_num"`
	BundleURI     string              `json:"bundle_uri"`
	KeyRef        string              `json:"key_ref"`
	CallbackURI   string              `json:"callback_uri"`
	TimeoutS      int                 `json:"timeout_s"`
	DispatchToken string              `json:"dispatch_token"`
	Targets       []types.AgentTarget `json:"targets,omitempty"`
	DocumentRef   string              `json:"document_ref,omitempty"`
}

// tokenNamespace scopes dispatch tokens. Fixed so tokens are stable
// across deployments.
var tokenNamespace = uuid.MustParse("5f1c63a0-9f2e-4c45-9a41-7e8f1d2b6c03")

// Token derives the deterministic dispatch token for an order.
func Token(runID, orderNum string) string {
	return uuid.NewSHA1(tokenNamespace, []byte(runID+":"+orderNum)).String()
}

// NewPayload builds the dispatch message for an order record.
func NewPayload(rec *types.OrderRecord) Payload {
	return Payload{
		RunID:         rec.RunID,
		OrderNum:      rec.OrderNum,
		BundleURI:     rec.BundleURI,
		KeyRef:        rec.EncryptionKeyRef,
		CallbackURI:   rec.CallbackURI,
		TimeoutS:      rec.TimeoutS,
		DispatchToken: Token(rec.RunID, rec.OrderNum),
		Targets:       rec.Targets,
		DocumentRef:   rec.DocumentRef,
	}
}

// Recorder is a Dispatcher that records dispatches, for tests. Safe for
// concurrent use; fan-out dispatches in parallel.
type Recorder struct {
	mu         sync.Mutex
	dispatched []Payload
	Fail       map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{Fail: make(map[string]error)}
}

func (r *Recorder) Dispatch(_ context.Context, rec *types.OrderRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[rec.PK()]; err != nil {
		return "", err
	}
	r.dispatched = append(r.dispatched, NewPayload(rec))
	return fmt.Sprintf("recorded:%s", rec.PK()), nil
}

// Dispatched returns a snapshot of recorded payloads.
func (r *Recorder) Dispatched() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payload, len(r.dispatched))
	copy(out, r.dispatched)
	return out
}
