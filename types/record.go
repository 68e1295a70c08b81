package types

import (
	"fmt"
	"time"
)

// OrderRecord is the durable per-order row in the orders collection.
// PK format: <run_id>:<order_num>.
type OrderRecord struct {
	RunID     string `dynamodbav:"run_id" json:"run_id"`
	OrderNum  string `dynamodbav:"order_num" json:"order_num"`
	TraceID   string `dynamodbav:"trace_id" json:"trace_id"`
	FlowID    string `dynamodbav:"flow_id" json:"flow_id"`
	OrderName string `dynamodbav:"order_name" json:"order_name"`

	Cmds            []string        `dynamodbav:"cmds" json:"cmds"`
	Status          Status          `dynamodbav:"status" json:"status"`
	ExecutionTarget ExecutionTarget `dynamodbav:"execution_target" json:"execution_target"`
	QueueID         string          `dynamodbav:"queue_id,omitempty" json:"queue_id,omitempty"`
	Dependencies    []string        `dynamodbav:"dependencies,omitempty" json:"dependencies,omitempty"`
	MustSucceed     bool            `dynamodbav:"must_succeed" json:"must_succeed"`
	TimeoutS        int             `dynamodbav:"timeout_s" json:"timeout_s"`
	JobTimeoutS     int             `dynamodbav:"job_timeout_s" json:"job_timeout_s"`

	// Derived at admission.
	BundleURI        string `dynamodbav:"bundle_uri,omitempty" json:"bundle_uri,omitempty"`
	CallbackURI      string `dynamodbav:"callback_uri,omitempty" json:"callback_uri,omitempty"`
	EncryptionKeyRef string `dynamodbav:"encryption_key_ref,omitempty" json:"encryption_key_ref,omitempty"`

	// Remote-agent dispatch inputs.
	Targets     []AgentTarget `dynamodbav:"targets,omitempty" json:"targets,omitempty"`
	DocumentRef string        `dynamodbav:"document_ref,omitempty" json:"document_ref,omitempty"`

	// PR collaborator inputs, carried so the orchestrator can post the
	// final comment without the original submission.
	PRReference *PRRef `dynamodbav:"pr_reference,omitempty" json:"pr_reference,omitempty"`
	SearchTag   string `dynamodbav:"pr_comment_search_tag,omitempty" json:"pr_comment_search_tag,omitempty"`

	// Set by the orchestrator at dispatch.
	ExecutionURL   string `dynamodbav:"execution_url,omitempty" json:"execution_url,omitempty"`
	WatchdogHandle string `dynamodbav:"watchdog_handle,omitempty" json:"watchdog_handle,omitempty"`

	// Set at reconciliation.
	Log           string `dynamodbav:"log,omitempty" json:"log,omitempty"`
	FailureReason string `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	CreatedAt  int64 `dynamodbav:"created_at" json:"created_at"`
	LastUpdate int64 `dynamodbav:"last_update" json:"last_update"`
	TTL        int64 `dynamodbav:"ttl,omitempty" json:"ttl,omitempty"`
}

// PK returns the composite primary key for the orders collection.
func (r *OrderRecord) PK() string {
	return r.RunID + ":" + r.OrderNum
}

// OrderRecordTTL is how long order rows live after creation.
const OrderRecordTTL = 24 * time.Hour

// OrderEvent is an append-only audit record in the events collection.
// Keyed by (trace_id, "<order_name>:<epoch_ms>"). Events are never
// rewritten.
type OrderEvent struct {
	TraceID   string `dynamodbav:"trace_id" json:"trace_id"`
	SK        string `dynamodbav:"sk" json:"sk"`
	OrderName string `dynamodbav:"order_name" json:"order_name"`
	EpochMS   int64  `dynamodbav:"epoch_ms" json:"epoch_ms"`
	EventType string `dynamodbav:"event_type" json:"event_type"`
	Status    Status `dynamodbav:"status" json:"status"`
	FlowID    string `dynamodbav:"flow_id,omitempty" json:"flow_id,omitempty"`
	RunID     string `dynamodbav:"run_id,omitempty" json:"run_id,omitempty"`

	// Data carries an event-specific payload; the kernel treats it as opaque.
	Data map[string]any `dynamodbav:"data,omitempty" json:"data,omitempty"`

	TTL int64 `dynamodbav:"ttl,omitempty" json:"ttl,omitempty"`
}

// EventSK builds the events sort key from an order name and a millisecond
// epoch. Identical-millisecond collisions within one order break by arrival.
func EventSK(orderName string, epochMS int64) string {
	return fmt.Sprintf("%s:%d", orderName, epochMS)
}

// OrderEventTTL is how long event rows live after creation.
const OrderEventTTL = 90 * 24 * time.Hour

// Lock states for the per-run exclusion record.
const (
	LockActive    = "active"
	LockCompleted = "completed"
)

// LockRecord grants exclusive orchestrator execution rights for one run.
// Acquire is a conditional put that succeeds only when no record exists or
// the existing record is completed; release unconditionally marks it
// completed. The lock lifecycle is entirely intra-invocation.
type LockRecord struct {
	RunID      string `dynamodbav:"run_id" json:"run_id"`
	HolderID   string `dynamodbav:"holder_id" json:"holder_id"`
	State      string `dynamodbav:"state" json:"state"`
	AcquiredAt int64  `dynamodbav:"acquired_at" json:"acquired_at"`
	FlowID     string `dynamodbav:"flow_id,omitempty" json:"flow_id,omitempty"`
	TraceID    string `dynamodbav:"trace_id,omitempty" json:"trace_id,omitempty"`
	TTL        int64  `dynamodbav:"ttl,omitempty" json:"ttl,omitempty"`
}

// LockPK returns the locks collection key for a run.
func LockPK(runID string) string {
	return "lock:" + runID
}
