package admission

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pithecene-io/foreman/types"
)

// RemoteAgentRequest is the dedicated submission shape for running a
// command document against a named agent fleet. It maps onto a
// single-order remote-agent job so the rest of the kernel treats it like
// any other run.
type RemoteAgentRequest struct {
	Username    string              `json:"username"`
	FlowLabel   string              `json:"flow_label,omitempty"`
	TraceID     string              `json:"trace_id,omitempty"`
	DocumentRef string              `json:"document_ref"`
	Targets     []types.AgentTarget `json:"targets"`
	Cmds        []string            `json:"cmds,omitempty"`
	TimeoutS    int                 `json:"timeout_s,omitempty"`
	EnvVars     map[string]string   `json:"env_vars,omitempty"`
	ConfigPaths []string            `json:"config_paths,omitempty"`
	SecretPaths []string            `json:"secret_paths,omitempty"`
	Source      *types.Source       `json:"source,omitempty"`
}

// DefaultRemoteTimeoutS bounds remote-agent runs submitted without an
// explicit timeout.
const DefaultRemoteTimeoutS = 1800

// ParseRemoteAgentJob converts a remote-agent request body into a job.
func ParseRemoteAgentJob(body []byte) (*types.Job, error) {
	var req RemoteAgentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse remote-agent request: %w", err)
	}
	return req.Job()
}

// Job builds the single-order job a remote-agent request stands for.
func (r *RemoteAgentRequest) Job() (*types.Job, error) {
	if r.Username == "" {
		return nil, errors.New("remote-agent request: username is required")
	}
	if r.DocumentRef == "" {
		return nil, errors.New("remote-agent request: document_ref is required")
	}
	if len(r.Targets) == 0 {
		return nil, errors.New("remote-agent request: targets are required")
	}

	timeout := r.TimeoutS
	if timeout <= 0 {
		timeout = DefaultRemoteTimeoutS
	}

	order := &types.Order{
		OrderName:       "remote-agent",
		ExecutionTarget: types.TargetRemoteAgent,
		Cmds:            r.Cmds,
		TimeoutS:        timeout,
		EnvVars:         r.EnvVars,
		ConfigPaths:     r.ConfigPaths,
		SecretPaths:     r.SecretPaths,
		Targets:         r.Targets,
		DocumentRef:     r.DocumentRef,
	}
	if r.Source != nil {
		order.Source = *r.Source
	}

	return &types.Job{
		Username:  r.Username,
		FlowLabel: r.FlowLabel,
		TraceID:   r.TraceID,
		Orders:    []*types.Order{order},
	}, nil
}
