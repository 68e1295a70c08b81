// Package main is the deployed admission handler. It accepts job
// submissions from the notification topic, the HTTP gateway, or direct
// invocation, normalizes the envelope, and runs the admission pipeline.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/pithecene-io/foreman/admission"
	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/bundle"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/metrics"
	"github.com/pithecene-io/foreman/state"
	"github.com/pithecene-io/foreman/types"
	"github.com/pithecene-io/foreman/vcs"
)

func main() {
	lambda.Start(newHandler())
}

type handler struct {
	pipeline *admission.Pipeline
	logger   *log.Logger

	// webhookSecret guards HTTP submissions when configured.
	webhookSecret string
}

func newHandler() func(ctx context.Context, raw json.RawMessage) (any, error) {
	logger := log.NewLogger(log.RunContext{})
	h, err := build(context.Background(), logger)
	if err != nil {
		logger.Error("admission startup failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	return h.handle
}

func build(ctx context.Context, logger *log.Logger) (*handler, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateKernel(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	ssmClient := ssm.NewFromConfig(awsCfg)
	store := state.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), state.Tables{
		Orders: cfg.OrdersTable,
		Events: cfg.OrderEventsTable,
		Locks:  cfg.LocksTable,
	})
	artifacts := artifact.NewS3Store(s3.NewFromConfig(awsCfg), artifact.Buckets{
		Internal: cfg.InternalBucket,
		Done:     cfg.DoneBucket,
	})
	router := creds.NewRouter(
		creds.NewSSMSource(ssmClient),
		creds.NewSecretsSource(secretsmanager.NewFromConfig(awsCfg)),
	)
	git := bundle.NewGitFetcher(router, filepath.Join(os.TempDir(), "foreman-git"))
	builder := bundle.NewBuilder(bundle.NewSourceFetcher(artifacts, git), router, router)
	keys := keycrypt.NewSSMKeyStore(ssmClient, cfg.KeyPrefix)

	var webhookSecret string
	if cfg.WebhookSecretRef != "" {
		webhookSecret, err = router.Get(ctx, cfg.WebhookSecretRef)
		if err != nil {
			return nil, fmt.Errorf("resolve webhook secret: %w", err)
		}
	}

	pipeline := admission.NewPipeline(store, artifacts, builder, keys, vcs.NewGitHub(router), logger, cfg).
		WithMetrics(metrics.NewCollector("admission", ""))
	return &handler{pipeline: pipeline, logger: logger, webhookSecret: webhookSecret}, nil
}

func (h *handler) handle(ctx context.Context, raw json.RawMessage) (any, error) {
	if h.webhookSecret != "" && isHTTP(raw) {
		if err := verifyWebhook(raw, h.webhookSecret); err != nil {
			h.logger.Warn("webhook rejected", map[string]any{"error": err.Error()})
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusUnauthorized,
				Body:       `{"error":"invalid signature"}`,
			}, nil
		}
	}

	job, err := normalizeByRoute(raw)
	if err != nil {
		if isHTTP(raw) {
			return httpParseError(err), nil
		}
		return nil, err
	}

	result, err := h.pipeline.Admit(ctx, job)
	if err != nil {
		if isHTTP(raw) {
			return httpError(err), nil
		}
		return nil, err
	}

	if isHTTP(raw) {
		body, _ := json.Marshal(result)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       string(body),
		}, nil
	}
	return result, nil
}

// normalizeByRoute picks the submission parser. The /ssm route carries a
// remote-agent request; every other shape goes through the standard
// envelope normalization.
func normalizeByRoute(raw json.RawMessage) (*types.Job, error) {
	var req struct {
		Path            string `json:"path"`    // gateway v1
		RawPath         string `json:"rawPath"` // gateway v2
		HTTPMethod      string `json:"httpMethod"`
		Body            string `json:"body"`
		IsBase64Encoded bool   `json:"isBase64Encoded"`
		RequestContext  struct {
			HTTP struct {
				Method string `json:"method"`
				Path   string `json:"path"`
			} `json:"http"`
		} `json:"requestContext"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return admission.Normalize(raw)
	}

	path := req.Path
	if path == "" {
		path = req.RawPath
	}
	if path == "" {
		path = req.RequestContext.HTTP.Path
	}
	if !strings.HasSuffix(path, "/ssm") {
		return admission.Normalize(raw)
	}

	method := req.HTTPMethod
	if method == "" {
		method = req.RequestContext.HTTP.Method
	}
	if method != http.MethodPost {
		return nil, admission.ErrMethodNotAllowed
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("decode request body: %w", err)
		}
		body = decoded
	}
	return admission.ParseRemoteAgentJob(body)
}

// isHTTP reports whether the raw event came through the HTTP gateway and
// therefore needs a proxy-shaped response.
func isHTTP(raw json.RawMessage) bool {
	var probe struct {
		HTTPMethod     string          `json:"httpMethod"`
		RequestContext json.RawMessage `json:"requestContext"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.HTTPMethod != "" || len(probe.RequestContext) > 0
}

// verifyWebhook checks the request body against its HMAC signature
// header. Works for both gateway payload versions; headers arrive
// lowercased in v2 and as sent in v1.
func verifyWebhook(raw json.RawMessage, secret string) error {
	var req struct {
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}

	var signature string
	for name, value := range req.Headers {
		if strings.EqualFold(name, vcs.SignatureHeader) {
			signature = value
			break
		}
	}
	return vcs.VerifySignature([]byte(req.Body), signature, secret)
}

// httpParseError shapes an envelope failure: a malformed request is a
// 400, a non-POST is a 405.
func httpParseError(err error) events.APIGatewayProxyResponse {
	if errors.Is(err, admission.ErrMethodNotAllowed) {
		return httpError(err)
	}
	body, _ := json.Marshal(map[string]any{"status": "error", "errors": []string{err.Error()}})
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusBadRequest,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// httpError shapes a failure response: validation problems surface as a
// 400 with the problem list, anything else as a 500.
func httpError(err error) events.APIGatewayProxyResponse {
	status := http.StatusInternalServerError
	payload := map[string]any{"status": "error", "error": err.Error()}

	var verr *admission.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		payload = map[string]any{"status": "error", "errors": verr.Problems}
	case errors.Is(err, admission.ErrCycle):
		status = http.StatusBadRequest
		payload = map[string]any{"status": "error", "errors": []string{err.Error()}}
	case errors.Is(err, admission.ErrMethodNotAllowed):
		status = http.StatusMethodNotAllowed
	}

	body, _ := json.Marshal(payload)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
