// Package artifact provides the blob store for execution bundles, callback
// results, and finalisation markers. Callback writes are the kernel's sole
// orchestration trigger, so the key layout here is load-bearing.
package artifact

import (
	"fmt"
	"strings"
)

// Key layout inside the internal bucket:
//
//	exec/<run_id>/<order_num>/bundle        zipped execution bundles
//	callbacks/<run_id>/<order_num>/result   worker/watchdog callback payloads
//
// The done marker lives in its own bucket under done/<run_id>/done so
// result consumers never need access to the internal namespace.
const (
	execPrefix     = "exec"
	callbackPrefix = "callbacks"
	donePrefix     = "done"
)

// BundleKey returns the internal-bucket key for an order's execution bundle.
func BundleKey(runID, orderNum string) string {
	return fmt.Sprintf("%s/%s/%s/bundle", execPrefix, runID, orderNum)
}

// CallbackKey returns the internal-bucket key for an order's callback result.
func CallbackKey(runID, orderNum string) string {
	return fmt.Sprintf("%s/%s/%s/result", callbackPrefix, runID, orderNum)
}

// DoneKey returns the done-bucket key for a run's finalisation marker.
func DoneKey(runID string) string {
	return fmt.Sprintf("%s/%s/done", donePrefix, runID)
}

// ParseCallbackKey extracts (run_id, order_num) from a callback object key.
// Accepts exactly callbacks/<run_id>/<order_num>/result; anything else is a
// malformed notification.
func ParseCallbackKey(key string) (runID, orderNum string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != callbackPrefix || parts[3] != "result" {
		return "", "", fmt.Errorf("malformed callback key %q", key)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed callback key %q", key)
	}
	return parts[1], parts[2], nil
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, ok = strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 uri: %q", uri)
	}
	return bucket, key, nil
}

// URI builds an s3://bucket/key URI.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
