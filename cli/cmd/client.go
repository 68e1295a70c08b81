package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/bundle"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/state"
	"github.com/pithecene-io/foreman/vcs"
)

// kernelClients bundles the store handles a CLI command needs. Built
// once per command invocation from the merged file and environment
// configuration.
type kernelClients struct {
	cfg       config.Config
	store     *state.DynamoStore
	artifacts *artifact.S3Store
	keys      *keycrypt.SSMKeyStore
	creds     *creds.Router
}

// newKernelClients loads configuration and constructs AWS-backed stores.
func newKernelClients(ctx context.Context, c *cli.Context) (*kernelClients, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateKernel(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	ssmClient := ssm.NewFromConfig(awsCfg)
	return &kernelClients{
		cfg: cfg,
		store: state.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), state.Tables{
			Orders: cfg.OrdersTable,
			Events: cfg.OrderEventsTable,
			Locks:  cfg.LocksTable,
		}),
		artifacts: artifact.NewS3Store(s3.NewFromConfig(awsCfg), artifact.Buckets{
			Internal: cfg.InternalBucket,
			Done:     cfg.DoneBucket,
		}),
		keys: keycrypt.NewSSMKeyStore(ssmClient, cfg.KeyPrefix),
		creds: creds.NewRouter(
			creds.NewSSMSource(ssmClient),
			creds.NewSecretsSource(secretsmanager.NewFromConfig(awsCfg)),
		),
	}, nil
}

// newBuilder wires the bundle builder for local admission.
func (kc *kernelClients) newBuilder() *bundle.Builder {
	git := bundle.NewGitFetcher(kc.creds, filepath.Join(os.TempDir(), "foreman-git"))
	fetcher := bundle.NewSourceFetcher(kc.artifacts, git)
	return bundle.NewBuilder(fetcher, kc.creds, kc.creds)
}

// prProvider returns the VCS collaborator backed by the credential router.
func (kc *kernelClients) prProvider() vcs.Provider {
	return vcs.NewGitHub(kc.creds)
}
