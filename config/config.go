// Package config builds the explicit configuration value every kernel
// invocation starts from. Values come from the environment, optionally
// seeded by a YAML defaults file; nothing is read from process-wide state
// after construction.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variable names. These are the only ambient inputs the kernel
// reads.
const (
	EnvOrdersTable      = "ORDERS_TABLE"
	EnvOrderEventsTable = "ORDER_EVENTS_TABLE"
	EnvLocksTable       = "LOCKS_TABLE"
	EnvInternalBucket   = "INTERNAL_BUCKET"
	EnvDoneBucket       = "DONE_BUCKET"
	EnvWorkerTarget     = "WORKER_TARGET"
	EnvContainerProject = "CONTAINER_PROJECT"
	EnvWatchdogHandle   = "WATCHDOG_HANDLE"
	EnvEventsSink       = "EVENTS_SINK"
	EnvKeyPrefix        = "KEY_PREFIX"
	EnvWebhookSecretRef = "WEBHOOK_SECRET_REF"
	EnvRegion           = "AWS_REGION"
)

// Config carries every externally provided name the kernel needs.
// Constructed once per invocation; passed down explicitly.
type Config struct {
	// State store collections.
	OrdersTable      string `yaml:"orders_table"`
	OrderEventsTable string `yaml:"order_events_table"`
	LocksTable       string `yaml:"locks_table"`

	// Artifact store buckets.
	InternalBucket string `yaml:"internal_bucket"`
	DoneBucket     string `yaml:"done_bucket"`

	// Backend names.
	WorkerTarget     string `yaml:"worker_target"`     // inline worker function name
	ContainerProject string `yaml:"container_project"` // container build project name
	WatchdogHandle   string `yaml:"watchdog_handle"`   // watchdog state machine ARN

	// EventsSink is the notification topic admission accepts submissions
	// from; empty disables the SNS source.
	EventsSink string `yaml:"events_sink"`

	// KeyPrefix roots ephemeral encryption keys in the key store.
	KeyPrefix string `yaml:"key_prefix"`

	// WebhookSecretRef is the credential-source path of the webhook HMAC
	// secret; empty disables signature checks on HTTP submissions.
	WebhookSecretRef string `yaml:"webhook_secret_ref"`

	Region string `yaml:"region"`
}

// DefaultKeyPrefix roots ephemeral key parameters when KEY_PREFIX is unset.
const DefaultKeyPrefix = "/foreman/keys"

// FromEnv builds a Config from the environment.
func FromEnv() Config {
	return Config{
		OrdersTable:      os.Getenv(EnvOrdersTable),
		OrderEventsTable: os.Getenv(EnvOrderEventsTable),
		LocksTable:       os.Getenv(EnvLocksTable),
		InternalBucket:   os.Getenv(EnvInternalBucket),
		DoneBucket:       os.Getenv(EnvDoneBucket),
		WorkerTarget:     os.Getenv(EnvWorkerTarget),
		ContainerProject: os.Getenv(EnvContainerProject),
		WatchdogHandle:   os.Getenv(EnvWatchdogHandle),
		EventsSink:       os.Getenv(EnvEventsSink),
		KeyPrefix:        os.Getenv(EnvKeyPrefix),
		WebhookSecretRef: os.Getenv(EnvWebhookSecretRef),
		Region:           os.Getenv(EnvRegion),
	}
}

// Load reads YAML defaults from path (if non-empty and present), then
// overlays any environment values. CLI and local runs use the file;
// deployed invocations normally run env-only.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.overlayEnv()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return cfg, nil
}

func (c *Config) overlayEnv() {
	overlay := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	overlay(&c.OrdersTable, EnvOrdersTable)
	overlay(&c.OrderEventsTable, EnvOrderEventsTable)
	overlay(&c.LocksTable, EnvLocksTable)
	overlay(&c.InternalBucket, EnvInternalBucket)
	overlay(&c.DoneBucket, EnvDoneBucket)
	overlay(&c.WorkerTarget, EnvWorkerTarget)
	overlay(&c.ContainerProject, EnvContainerProject)
	overlay(&c.WatchdogHandle, EnvWatchdogHandle)
	overlay(&c.EventsSink, EnvEventsSink)
	overlay(&c.KeyPrefix, EnvKeyPrefix)
	overlay(&c.WebhookSecretRef, EnvWebhookSecretRef)
	overlay(&c.Region, EnvRegion)
}

// ValidateKernel checks the fields every kernel invocation needs.
func (c *Config) ValidateKernel() error {
	var missing []string
	require := func(v, name string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	require(c.OrdersTable, EnvOrdersTable)
	require(c.OrderEventsTable, EnvOrderEventsTable)
	require(c.LocksTable, EnvLocksTable)
	require(c.InternalBucket, EnvInternalBucket)
	require(c.DoneBucket, EnvDoneBucket)
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %v", missing)
	}
	return nil
}

// DoneURI returns the s3 URI of a run's done marker.
func (c *Config) DoneURI(runID string) string {
	return fmt.Sprintf("s3://%s/done/%s/done", c.DoneBucket, runID)
}
