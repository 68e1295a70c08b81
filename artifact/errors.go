package artifact

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Sentinel errors for artifact store classification.
var (
	// ErrNotFound indicates the requested object does not exist. Absence
	// is an expected outcome when probing for callback results.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates the store rejected the call.
	ErrAccessDenied = errors.New("access denied")
)

// StoreError wraps an underlying error with artifact classification.
type StoreError struct {
	Kind error
	Op   string
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: classify(err), Op: op, Key: key, Err: err}
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return ErrNotFound
		case "AccessDenied":
			return ErrAccessDenied
		}
	}
	return errors.New("artifact error")
}
