package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvOrdersTable, "orders")
	t.Setenv(EnvLocksTable, "locks")

	cfg := FromEnv()
	if cfg.OrdersTable != "orders" {
		t.Errorf("orders table = %s", cfg.OrdersTable)
	}
	if cfg.LocksTable != "locks" {
		t.Errorf("locks table = %s", cfg.LocksTable)
	}
}

func TestLoadFileWithEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foreman.yaml")
	content := []byte("orders_table: file-orders\ninternal_bucket: file-bucket\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvOrdersTable, "env-orders")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OrdersTable != "env-orders" {
		t.Errorf("env should override file, got %s", cfg.OrdersTable)
	}
	if cfg.InternalBucket != "file-bucket" {
		t.Errorf("file value should survive, got %s", cfg.InternalBucket)
	}
	if cfg.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("key prefix default missing, got %s", cfg.KeyPrefix)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing defaults file should be tolerated: %v", err)
	}
}

func TestValidateKernel(t *testing.T) {
	cfg := Config{
		OrdersTable:      "o",
		OrderEventsTable: "e",
		LocksTable:       "l",
		InternalBucket:   "i",
		DoneBucket:       "d",
	}
	if err := cfg.ValidateKernel(); err != nil {
		t.Errorf("complete config should validate: %v", err)
	}

	cfg.DoneBucket = ""
	if err := cfg.ValidateKernel(); err == nil {
		t.Error("expected error for missing done bucket")
	}
}

func TestDoneURI(t *testing.T) {
	cfg := Config{DoneBucket: "results"}
	if got := cfg.DoneURI("r1"); got != "s3://results/done/r1/done" {
		t.Errorf("done uri = %s", got)
	}
}
