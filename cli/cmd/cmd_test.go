package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJobFileYAML(t *testing.T) {
	path := writeFile(t, "job.yaml", `
username: alice
orders:
  - order_name: build
    cmds: ["make"]
    timeout_s: 300
    source:
      bundle_location: s3://bucket/code.zip
`)
	job, err := loadJobFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if job.Username != "alice" || len(job.Orders) != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.Orders[0].OrderName != "build" || job.Orders[0].TimeoutS != 300 {
		t.Errorf("order = %+v", job.Orders[0])
	}
}

func TestLoadJobFileJSON(t *testing.T) {
	path := writeFile(t, "job.json", `{
  "username": "bob",
  "orders": [{"order_name": "lint", "cmds": ["golangci-lint run"], "timeout_s": 60, "source": {"repo": "example/r", "token_ref": "ssm://token"}}]
}`)
	job, err := loadJobFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if job.Username != "bob" || job.Orders[0].Source.Repo == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestLoadJobFileMissing(t *testing.T) {
	if _, err := loadJobFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestLoadJobFileMalformed(t *testing.T) {
	path := writeFile(t, "bad.yaml", "orders: [unclosed")
	if _, err := loadJobFile(path); err == nil {
		t.Error("malformed file should error")
	}
}
