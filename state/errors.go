// Package state provides the durable store for orders, events, and per-run
// locks: conditional updates, TTL-expiring records, and an explicit retry
// policy for transient failures.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// Sentinel errors for store failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConditionFailed indicates a conditional write lost its race.
	// For lock acquisition this is the intended "someone else holds it"
	// signal; it is never retried.
	ErrConditionFailed = errors.New("condition failed")

	// ErrThrottled indicates the store rejected the call under load.
	ErrThrottled = errors.New("store throttled")

	// ErrTimeout indicates a store call exceeded its deadline.
	ErrTimeout = errors.New("store timeout")
)

// StoreError wraps an underlying error with store classification.
// It preserves the original error in the chain for inspection via errors.As.
type StoreError struct {
	// Kind is the sentinel error for classification.
	Kind error
	// Op is the operation that failed (e.g., "put_order", "acquire_lock").
	Op string
	// Key is the record key involved, if any.
	Key string
	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapError classifies and wraps a store operation error.
// Returns nil if err is nil.
func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: classify(err), Op: op, Key: key, Err: err}
}

// Throttling fault codes that warrant a retry.
var throttleCodes = map[string]struct{}{
	"ProvisionedThroughputExceededException": {},
	"ThrottlingException":                    {},
	"RequestLimitExceeded":                   {},
	"LimitExceededException":                 {},
}

// classify determines the appropriate sentinel for the given error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "ConditionalCheckFailedException" {
			return ErrConditionFailed
		}
		if _, ok := throttleCodes[code]; ok {
			return ErrThrottled
		}
		if code == "ResourceNotFoundException" {
			return ErrNotFound
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return ErrTimeout
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate exceeded"):
		return ErrThrottled
	default:
		return errors.New("store error")
	}
}

// isTransient reports whether an error warrants a retry under the store
// policy. Condition failures and missing records never retry.
func isTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrTimeout)
}
