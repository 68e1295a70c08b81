// Package types defines the data model shared by the admission pipeline,
// the orchestrator, and the watchdog: job descriptors as submitted, the
// durable records they become, and the artifacts workers report through.
package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Source identifies where an order's code comes from. Exactly one of
// BundleLocation or Repo must be set (validated at admission).
type Source struct {
	// BundleLocation is an s3://bucket/key URI of a pre-built code zip.
	BundleLocation string `json:"bundle_location,omitempty" yaml:"bundle_location,omitempty"`
	// Repo is a VCS repository in owner/name form.
	Repo string `json:"repo,omitempty" yaml:"repo,omitempty"`
	// TokenRef is the credential-source path of the VCS access token.
	TokenRef string `json:"token_ref,omitempty" yaml:"token_ref,omitempty"`
	// Folder restricts the bundle to a subdirectory of the clone.
	Folder string `json:"folder,omitempty" yaml:"folder,omitempty"`
	// Commit pins the clone to a specific revision.
	Commit string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// HasCode reports whether the source names any code to fetch. Remote-agent
// orders may run a command document alone, with no code source.
func (s Source) HasCode() bool {
	return s.BundleLocation != "" || s.Repo != ""
}

// Order is one unit of work within a job, as submitted.
type Order struct {
	OrderName       string          `json:"order_name,omitempty" yaml:"order_name,omitempty"`
	ExecutionTarget ExecutionTarget `json:"execution_target,omitempty" yaml:"execution_target,omitempty"`
	Cmds            []string        `json:"cmds" yaml:"cmds"`
	TimeoutS        int             `json:"timeout_s" yaml:"timeout_s"`
	MustSucceed     *bool           `json:"must_succeed,omitempty" yaml:"must_succeed,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	QueueID         string          `json:"queue_id,omitempty" yaml:"queue_id,omitempty"`
	EnvVars         map[string]string `json:"env_vars,omitempty" yaml:"env_vars,omitempty"`
	ConfigPaths     []string        `json:"config_paths,omitempty" yaml:"config_paths,omitempty"`
	SecretPaths     []string        `json:"secret_paths,omitempty" yaml:"secret_paths,omitempty"`
	Source          Source          `json:"source" yaml:"source"`

	// Remote-agent only: instance targets and the command document to run.
	Targets     []AgentTarget `json:"targets,omitempty" yaml:"targets,omitempty"`
	DocumentRef string        `json:"document_ref,omitempty" yaml:"document_ref,omitempty"`

	// UseLambda is the legacy backend selector, honoured only when
	// execution_target is absent: true maps to inline, false to container.
	UseLambda *bool `json:"use_lambda,omitempty" yaml:"use_lambda,omitempty"`
}

// AgentTarget is one key/values selector for remote-agent dispatch.
type AgentTarget struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values" yaml:"values"`
}

// MustSucceedValue returns the must_succeed flag, defaulting to true.
func (o *Order) MustSucceedValue() bool {
	if o.MustSucceed == nil {
		return true
	}
	return *o.MustSucceed
}

// Target resolves the effective execution target, applying the legacy
// use_lambda mapping when execution_target is absent.
func (o *Order) Target() ExecutionTarget {
	if o.ExecutionTarget != "" {
		return o.ExecutionTarget
	}
	if o.UseLambda != nil {
		if *o.UseLambda {
			return TargetInline
		}
		return TargetContainer
	}
	return ""
}

// Job is a submission unit: global fields plus one or more orders.
type Job struct {
	Username         string   `json:"username" yaml:"username"`
	FlowLabel        string   `json:"flow_label,omitempty" yaml:"flow_label,omitempty"`
	TraceID          string   `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	RunID            string   `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	JobTimeoutS      int      `json:"job_timeout_s,omitempty" yaml:"job_timeout_s,omitempty"`
	PresignExpiryS   int      `json:"presign_expiry_s,omitempty" yaml:"presign_expiry_s,omitempty"`
	PRReference      *PRRef   `json:"pr_reference,omitempty" yaml:"pr_reference,omitempty"`
	EncryptionKeyRef string   `json:"encryption_key_ref,omitempty" yaml:"encryption_key_ref,omitempty"`
	SearchTag        string   `json:"pr_comment_search_tag,omitempty" yaml:"pr_comment_search_tag,omitempty"`
	Orders           []*Order `json:"orders" yaml:"orders"`
}

// PRRef points the kernel's PR collaborator at a pull request or issue.
// The kernel only passes it through to the VCS provider.
type PRRef struct {
	Repo        string `json:"repo" yaml:"repo"`
	PRNumber    int    `json:"pr_number,omitempty" yaml:"pr_number,omitempty"`
	IssueNumber int    `json:"issue_number,omitempty" yaml:"issue_number,omitempty"`
	TokenRef    string `json:"token_ref,omitempty" yaml:"token_ref,omitempty"`
}

// Number returns the PR number, falling back to the issue number.
func (p *PRRef) Number() int {
	if p == nil {
		return 0
	}
	if p.PRNumber != 0 {
		return p.PRNumber
	}
	return p.IssueNumber
}

// Job defaults applied by ApplyDefaults.
const (
	DefaultFlowLabel     = "exec"
	DefaultJobTimeoutS   = 3600
	DefaultPresignExpiry = 7200
)

// ApplyDefaults fills zero-valued job fields with their documented defaults.
func (j *Job) ApplyDefaults() {
	if j.FlowLabel == "" {
		j.FlowLabel = DefaultFlowLabel
	}
	if j.JobTimeoutS <= 0 {
		j.JobTimeoutS = DefaultJobTimeoutS
	}
	if j.PresignExpiryS <= 0 {
		j.PresignExpiryS = DefaultPresignExpiry
	}
	for i, o := range j.Orders {
		if o.OrderName == "" {
			o.OrderName = fmt.Sprintf("order-%s", OrderNum(i))
		}
	}
}

// OrderNum formats a zero-based order index as the zero-padded, one-based
// sequence position used in record keys and artifact paths. Position 0000
// is reserved for the start marker.
func OrderNum(index int) string {
	return fmt.Sprintf("%04d", index+1)
}

// JobFromB64 decodes a base64(JSON) job descriptor envelope.
func JobFromB64(s string) (*Job, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode job parameters: %w", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("parse job parameters: %w", err)
	}
	return &job, nil
}

// ToB64 encodes the job descriptor as a base64(JSON) envelope.
func (j *Job) ToB64() (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
