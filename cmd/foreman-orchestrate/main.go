// Package main is the deployed orchestrator handler. It is triggered by
// callback-object notifications and runs one orchestration pass per run
// named in the batch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/dispatch"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/metrics"
	"github.com/pithecene-io/foreman/orchestrate"
	"github.com/pithecene-io/foreman/state"
	"github.com/pithecene-io/foreman/vcs"
	"github.com/pithecene-io/foreman/watchdog"
)

func main() {
	logger := log.NewLogger(log.RunContext{})
	orch, err := build(context.Background(), logger)
	if err != nil {
		logger.Error("orchestrator startup failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, raw json.RawMessage) error {
		runIDs, err := orchestrate.RunIDsFromEvent(raw)
		if err != nil {
			return err
		}
		for _, runID := range runIDs {
			if err := orch.HandleRun(ctx, runID); err != nil {
				return fmt.Errorf("run %s: %w", runID, err)
			}
		}
		return nil
	})
}

func build(ctx context.Context, logger *log.Logger) (*orchestrate.Orchestrator, error) {
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
	backends := dispatch.NewAWSDispatcher(
		awslambda.NewFromConfig(awsCfg),
		codebuild.NewFromConfig(awsCfg),
		ssmClient,
		dispatch.Backends{
			WorkerFunction:   cfg.WorkerTarget,
			ContainerProject: cfg.ContainerProject,
		},
	)
	starter := watchdog.NewSFNStarter(sfn.NewFromConfig(awsCfg), cfg.WatchdogHandle)
	keys := keycrypt.NewSSMKeyStore(ssmClient, cfg.KeyPrefix)
	router := creds.NewRouter(
		creds.NewSSMSource(ssmClient),
		creds.NewSecretsSource(secretsmanager.NewFromConfig(awsCfg)),
	)

	return orchestrate.New(
		store,
		artifacts,
		backends,
		starter,
		keys,
		vcs.NewGitHub(router),
		logger,
		metrics.NewCollector("orchestrator", ""),
		cfg,
	), nil
}
