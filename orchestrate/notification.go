package orchestrate

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"github.com/pithecene-io/foreman/artifact"
)

// RunIDsFromEvent extracts the run IDs named by a callback-write
// notification batch. Keys arrive URL-encoded; paths outside the
// callbacks namespace are rejected. Duplicate run IDs within one batch
// collapse to a single pass.
func RunIDsFromEvent(raw json.RawMessage) ([]string, error) {
	var ev events.S3Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}
	if len(ev.Records) == 0 {
		return nil, fmt.Errorf("notification has no records")
	}

	seen := make(map[string]bool)
	var runIDs []string
	for _, rec := range ev.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("decode object key %q: %w", rec.S3.Object.Key, err)
		}
		runID, _, err := artifact.ParseCallbackKey(key)
		if err != nil {
			return nil, err
		}
		if !seen[runID] {
			seen[runID] = true
			runIDs = append(runIDs, runID)
		}
	}
	return runIDs, nil
}
