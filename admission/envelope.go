// Package admission accepts submitted jobs: envelope normalisation,
// validation, per-order packaging, persistence, and the start signal
// that wakes the orchestrator. Admission never dispatches.
package admission

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/pithecene-io/foreman/types"
)

// ErrMethodNotAllowed indicates an HTTP submission with a method other
// than POST. Handlers should map it to a 405 response.
var ErrMethodNotAllowed = errors.New("method not allowed")

// directEnvelope is the shape of a direct invocation payload. The
// canonical key is job_parameters_b64; the bare name is accepted for
// older submitters.
type directEnvelope struct {
	JobParametersB64 string `json:"job_parameters_b64"`
	JobParameters    string `json:"job_parameters"`
}

func (e directEnvelope) payload() string {
	if e.JobParametersB64 != "" {
		return e.JobParametersB64
	}
	return e.JobParameters
}

// Normalize extracts the job descriptor from any supported delivery
// shape: a topic notification, an HTTP gateway request (v1 or v2), or a
// direct invocation envelope.
func Normalize(raw json.RawMessage) (*types.Job, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse submission envelope: %w", err)
	}

	if _, ok := probe["Records"]; ok {
		return fromSNS(raw)
	}
	if _, ok := probe["httpMethod"]; ok {
		return fromHTTPv1(raw)
	}
	if _, ok := probe["requestContext"]; ok {
		return fromHTTPv2(raw)
	}
	return fromDirect(raw)
}

func fromSNS(raw json.RawMessage) (*types.Job, error) {
	var ev events.SNSEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("parse notification envelope: %w", err)
	}
	if len(ev.Records) == 0 {
		return nil, errors.New("notification envelope has no records")
	}
	return parseBody(ev.Records[0].SNS.Message)
}

func fromHTTPv1(raw json.RawMessage) (*types.Job, error) {
	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("parse gateway request: %w", err)
	}
	if req.HTTPMethod != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.HTTPMethod)
	}
	return parseBody(req.Body)
}

func fromHTTPv2(raw json.RawMessage) (*types.Job, error) {
	var req events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("parse gateway request: %w", err)
	}
	if req.RequestContext.HTTP.Method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.RequestContext.HTTP.Method)
	}
	return parseBody(req.Body)
}

func fromDirect(raw json.RawMessage) (*types.Job, error) {
	var env directEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse direct envelope: %w", err)
	}
	if b64 := env.payload(); b64 != "" {
		return types.JobFromB64(b64)
	}

	// A direct invocation may also carry the bare descriptor.
	var job types.Job
	if err := json.Unmarshal(raw, &job); err == nil && len(job.Orders) > 0 {
		return &job, nil
	}
	return nil, errors.New("submission has no job_parameters_b64")
}

// parseBody accepts a JSON envelope carrying job_parameters_b64, the raw
// JSON descriptor, or a bare base64 descriptor.
func parseBody(body string) (*types.Job, error) {
	if json.Valid([]byte(body)) {
		var env directEnvelope
		if err := json.Unmarshal([]byte(body), &env); err == nil && env.payload() != "" {
			return types.JobFromB64(env.payload())
		}
		var job types.Job
		if err := json.Unmarshal([]byte(body), &job); err == nil && len(job.Orders) > 0 {
			return &job, nil
		}
	}
	return types.JobFromB64(body)
}
