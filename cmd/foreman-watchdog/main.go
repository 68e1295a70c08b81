// Package main is the deployed watchdog handler. The watchdog state
// machine invokes it with one in-flight order; it polls until the order's
// result appears or the deadline passes, then writes the synthetic
// timeout result if needed.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/watchdog"
)

func main() {
	logger := log.NewLogger(log.RunContext{})
	dog, err := build(context.Background(), logger)
	if err != nil {
		logger.Error("watchdog startup failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, in watchdog.Input) (string, error) {
		outcome, err := dog.Run(ctx, in)
		if err != nil {
			return "", fmt.Errorf("watch %s/%s: %w", in.RunID, in.OrderNum, err)
		}
		return outcome.String(), nil
	})
}

func build(ctx context.Context, logger *log.Logger) (*watchdog.Watchdog, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if cfg.InternalBucket == "" || cfg.DoneBucket == "" {
		return nil, fmt.Errorf("missing configuration: [%s %s]", config.EnvInternalBucket, config.EnvDoneBucket)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	artifacts := artifact.NewS3Store(s3.NewFromConfig(awsCfg), artifact.Buckets{
		Internal: cfg.InternalBucket,
		Done:     cfg.DoneBucket,
	})
	return watchdog.New(artifacts, logger), nil
}
