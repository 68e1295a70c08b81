package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/bundle"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/metrics"
	"github.com/pithecene-io/foreman/state"
	"github.com/pithecene-io/foreman/types"
	"github.com/pithecene-io/foreman/vcs"
)

// packageParallelism bounds concurrent per-order packaging.
const packageParallelism = 16

// Pipeline runs the admission stages for one submitted job.
type Pipeline struct {
	store     state.Store
	artifacts artifact.Store
	builder   *bundle.Builder
	keys      keycrypt.KeyStore
	pr        vcs.Provider
	logger    *log.Logger
	metrics   *metrics.Collector
	cfg       config.Config
}

// NewPipeline wires the admission pipeline.
func NewPipeline(store state.Store, artifacts artifact.Store, builder *bundle.Builder, keys keycrypt.KeyStore, pr vcs.Provider, logger *log.Logger, cfg config.Config) *Pipeline {
	if pr == nil {
		pr = vcs.Nop{}
	}
	return &Pipeline{
		store:     store,
		artifacts: artifacts,
		builder:   builder,
		keys:      keys,
		pr:        pr,
		logger:    logger,
		cfg:       cfg,
	}
}

// WithMetrics attaches a collector. Counter methods are nil-safe, so the
// pipeline works without one.
func (p *Pipeline) WithMetrics(c *metrics.Collector) *Pipeline {
	p.metrics = c
	return p
}

// Result is the synchronous admission response.
type Result struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
	TraceID string `json:"trace_id"`
	FlowID  string `json:"flow_id"`
	DoneURI string `json:"done_uri"`
}

// packaged is one order's admission output, ready to persist.
type packaged struct {
	record *types.OrderRecord
}

// Admit runs the full pipeline: identifiers, validation, packaging,
// persistence, start signal. On any validation or packaging failure the
// job is rejected whole; nothing is persisted.
func (p *Pipeline) Admit(ctx context.Context, job *types.Job) (*Result, error) {
	job.ApplyDefaults()

	// Adopt submitter-supplied identifiers, generate the rest.
	if job.RunID == "" {
		job.RunID = uuid.New().String()
	}
	if job.TraceID == "" {
		job.TraceID = types.NewTraceID()
	}
	flowID := types.FlowID(job.Username, job.TraceID, job.FlowLabel)
	if job.SearchTag == "" && job.PRReference != nil {
		job.SearchTag = fmt.Sprintf("<!-- foreman:%s -->", job.TraceID)
	}

	logger := p.logger.WithRun(log.RunContext{RunID: job.RunID, TraceID: job.TraceID, FlowID: flowID})

	if err := ValidateJob(job); err != nil {
		p.metrics.IncJobRejected()
		logger.Warn("job rejected", map[string]any{"error": err.Error()})
		return nil, err
	}

	records, err := p.packageOrders(ctx, job, flowID)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := p.store.PutOrder(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist order %s: %w", rec.PK(), err)
		}
	}

	now := time.Now()
	if err := p.store.PutEvent(ctx, &types.OrderEvent{
		TraceID:   job.TraceID,
		SK:        types.EventSK(types.JobOrderName, now.UnixMilli()),
		OrderName: types.JobOrderName,
		EpochMS:   now.UnixMilli(),
		EventType: types.EventJobStarted,
		Status:    types.StatusQueued,
		FlowID:    flowID,
		RunID:     job.RunID,
		Data:      map[string]any{"orders": len(records)},
		TTL:       now.Add(types.OrderEventTTL).Unix(),
	}); err != nil {
		return nil, fmt.Errorf("record job start: %w", err)
	}

	if err := p.artifacts.WriteStartMarker(ctx, job.RunID); err != nil {
		return nil, fmt.Errorf("emit start signal: %w", err)
	}

	p.notifyPR(ctx, job, flowID)

	p.metrics.IncJobAdmitted()
	logger.Info("job admitted", map[string]any{"orders": len(records)})
	if p.metrics != nil {
		logger.Debug("admission metrics", p.metrics.Snapshot().Fields())
	}
	return &Result{
		Status:  "ok",
		RunID:   job.RunID,
		TraceID: job.TraceID,
		FlowID:  flowID,
		DoneURI: p.cfg.DoneURI(job.RunID),
	}, nil
}

// packageOrders builds every order's bundle concurrently. One failure
// aborts the job; partially uploaded bundles are orphaned and expire
// with the internal prefix.
func (p *Pipeline) packageOrders(ctx context.Context, job *types.Job, flowID string) ([]*types.OrderRecord, error) {
	records := make([]*types.OrderRecord, len(job.Orders))
	errs := make([]error, len(job.Orders))

	sem := make(chan struct{}, packageParallelism)
	var wg sync.WaitGroup
	for i, order := range job.Orders {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, order *types.Order) {
			defer wg.Done()
			defer func() { <-sem }()
			records[i], errs[i] = p.packageOrder(ctx, job, flowID, order, types.OrderNum(i))
		}(i, order)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("package order %s: %w", job.Orders[i].OrderName, err)
		}
	}
	return records, nil
}

func (p *Pipeline) packageOrder(ctx context.Context, job *types.Job, flowID string, order *types.Order, orderNum string) (*types.OrderRecord, error) {
	keyRef, publicKey, err := p.orderKey(ctx, job, orderNum)
	if err != nil {
		return nil, err
	}

	expiry := time.Duration(job.PresignExpiryS) * time.Second
	callbackURL, err := p.artifacts.PresignCallback(ctx, job.RunID, orderNum, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign callback: %w", err)
	}

	// Every order gets a bundle, a sourceless remote-agent order too: its
	// archive carries the command list and sealed env without a code tree.
	data, err := p.builder.Build(ctx, bundle.BuildInput{
		Order: order,
		Intro: bundle.Introspection{
			RunID:       job.RunID,
			OrderNum:    orderNum,
			OrderName:   order.OrderName,
			TraceID:     job.TraceID,
			CallbackURL: callbackURL,
			TimeoutS:    order.TimeoutS,
		},
		PublicKey: publicKey,
	})
	if err != nil {
		return nil, err
	}
	bundleURI, err := p.artifacts.PutBundle(ctx, job.RunID, orderNum, data)
	if err != nil {
		return nil, fmt.Errorf("upload bundle: %w", err)
	}

	now := time.Now()
	return &types.OrderRecord{
		RunID:            job.RunID,
		OrderNum:         orderNum,
		TraceID:          job.TraceID,
		FlowID:           flowID,
		OrderName:        order.OrderName,
		Cmds:             order.Cmds,
		Status:           types.StatusQueued,
		ExecutionTarget:  order.Target(),
		QueueID:          order.QueueID,
		Dependencies:     order.Dependencies,
		MustSucceed:      order.MustSucceedValue(),
		TimeoutS:         order.TimeoutS,
		JobTimeoutS:      job.JobTimeoutS,
		BundleURI:        bundleURI,
		CallbackURI:      callbackURL,
		EncryptionKeyRef: keyRef,
		Targets:          order.Targets,
		DocumentRef:      order.DocumentRef,
		PRReference:      job.PRReference,
		SearchTag:        job.SearchTag,
		CreatedAt:        now.Unix(),
		LastUpdate:       now.Unix(),
		TTL:              now.Add(types.OrderRecordTTL).Unix(),
	}, nil
}

// orderKey resolves the encryption key for one order: a job-supplied
// reference is reused, otherwise an ephemeral pair is generated and its
// private half stored under the order's key path.
func (p *Pipeline) orderKey(ctx context.Context, job *types.Job, orderNum string) (ref, publicKey string, err error) {
	if job.EncryptionKeyRef != "" {
		pair, err := p.keys.GetKey(ctx, job.EncryptionKeyRef)
		if err != nil {
			return "", "", fmt.Errorf("resolve encryption key: %w", err)
		}
		return job.EncryptionKeyRef, pair.Public, nil
	}

	pair, err := keycrypt.GenerateKeyPair()
	if err != nil {
		return "", "", err
	}
	ref, err = p.keys.PutKey(ctx, job.RunID, orderNum, pair)
	if err != nil {
		return "", "", fmt.Errorf("store encryption key: %w", err)
	}
	return ref, pair.Public, nil
}

// notifyPR posts the admission comment. Best effort: a PR failure never
// fails an admitted job.
func (p *Pipeline) notifyPR(ctx context.Context, job *types.Job, flowID string) {
	if job.PRReference == nil {
		return
	}
	tag := job.SearchTag
	body := fmt.Sprintf("%s\n**Run `%s`** (`%s`) admitted with %d order(s). Results: `%s`",
		tag, job.RunID, flowID, len(job.Orders), p.cfg.DoneURI(job.RunID))
	if err := p.pr.UpsertComment(ctx, job.PRReference, tag, body); err != nil {
		p.logger.Warn("pr notification failed", map[string]any{
			"run_id": job.RunID,
			"error":  err.Error(),
		})
	}
}
