package artifact

import (
	"context"
	"time"

	"github.com/pithecene-io/foreman/types"
)

// Store is the artifact-store surface the kernel depends on. Bundles and
// callback results live in the internal bucket; the done marker lives in a
// separate bucket with its own access control.
type Store interface {
	// PutBundle uploads a zipped execution bundle and returns its URI.
	PutBundle(ctx context.Context, runID, orderNum string, data []byte) (string, error)

	// ReadBundle fetches a bundle by the URI PutBundle returned.
	ReadBundle(ctx context.Context, uri string) ([]byte, error)

	// PresignCallback returns a time-limited write URL for an order's
	// callback path. Workers use it to report results without credentials.
	PresignCallback(ctx context.Context, runID, orderNum string, expiry time.Duration) (string, error)

	// ResultExists probes for an order's callback result without reading it.
	ResultExists(ctx context.Context, runID, orderNum string) (bool, error)

	// ReadResult fetches and parses an order's callback result. Returns
	// ErrNotFound when no result has been written yet.
	ReadResult(ctx context.Context, runID, orderNum string) (*types.CallbackResult, error)

	// WriteResult writes a callback result directly, bypassing the
	// presigned URL. The watchdog uses this for synthetic timeouts.
	WriteResult(ctx context.Context, runID, orderNum string, res *types.CallbackResult) error

	// WriteStartMarker writes the order_num 0000 stub that triggers the
	// first orchestrator pass for a run.
	WriteStartMarker(ctx context.Context, runID string) error

	// WriteDone writes the finalisation marker for a run.
	WriteDone(ctx context.Context, runID string, marker *types.DoneMarker) error

	// ReadDone fetches a run's finalisation marker. Returns ErrNotFound
	// while the run is still in flight.
	ReadDone(ctx context.Context, runID string) (*types.DoneMarker, error)
}
