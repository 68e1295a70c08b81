package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/types"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	files := map[string][]byte{
		"run.sh":        []byte("#!/bin/sh\necho hi\n"),
		"lib/helper.py": []byte("x = 1\n"),
	}

	data, err := Pack(files)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(got) != len(files) {
		t.Fatalf("want %d entries, got %d", len(files), len(got))
	}
	for path, content := range files {
		if !bytes.Equal(got[path], content) {
			t.Errorf("entry %s = %q", path, got[path])
		}
	}
}

func TestPackDeterministic(t *testing.T) {
	files := map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}
	first, err := Pack(files)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Pack(files)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical inputs should produce identical archives")
	}
}

func TestMergeEnvPrecedence(t *testing.T) {
	env := MergeEnv(
		map[string]string{"SHARED": "from-env-vars", "ONLY_ENV": "1"},
		map[string]string{"SHARED": "from-config", "ONLY_CFG": "2"},
		map[string]string{"SHARED": "from-secrets", "ONLY_SEC": "3"},
		Introspection{
			RunID:       "r1",
			OrderNum:    "0001",
			OrderName:   "build",
			TraceID:     "tr",
			CallbackURL: "https://cb",
			TimeoutS:    120,
		},
	)

	if env["SHARED"] != "from-secrets" {
		t.Errorf("secrets should win over config and env_vars, got %s", env["SHARED"])
	}
	if env["ONLY_ENV"] != "1" || env["ONLY_CFG"] != "2" || env["ONLY_SEC"] != "3" {
		t.Error("non-conflicting values should survive")
	}
	if env[EnvCallbackURL] != "https://cb" || env[EnvTimeoutS] != "120" {
		t.Errorf("reserved vars = %s / %s", env[EnvCallbackURL], env[EnvTimeoutS])
	}
	if env[EnvRunID] != "r1" || env[EnvOrderNum] != "0001" {
		t.Error("introspection vars missing")
	}
}

func TestEnvName(t *testing.T) {
	cases := map[string]string{
		"/foreman/prod/GITHUB_TOKEN": "GITHUB_TOKEN",
		"API_KEY":                    "API_KEY",
		"secrets://team/DB_PASS":     "DB_PASS",
	}
	for ref, want := range cases {
		if got := EnvName(ref); got != want {
			t.Errorf("EnvName(%s) = %s, want %s", ref, got, want)
		}
	}
}

func TestBuildBundle(t *testing.T) {
	ctx := context.Background()
	artifacts := artifact.NewMemoryStore()

	code, err := Pack(map[string][]byte{"run.sh": []byte("echo ok")})
	if err != nil {
		t.Fatal(err)
	}
	uri, err := artifacts.PutBundle(ctx, "src", "0001", code)
	if err != nil {
		t.Fatal(err)
	}

	source := creds.StaticSource{
		"/cfg/REGION":       "eu-west-1",
		"/secret/API_TOKEN": "tok-123",
	}
	pair, err := keycrypt.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	builder := NewBuilder(NewSourceFetcher(artifacts, nil), source, source)
	data, err := builder.Build(ctx, BuildInput{
		Order: &types.Order{
			OrderName:   "build",
			Cmds:        []string{"sh run.sh"},
			TimeoutS:    60,
			EnvVars:     map[string]string{"MODE": "ci"},
			ConfigPaths: []string{"/cfg/REGION"},
			SecretPaths: []string{"/secret/API_TOKEN"},
			Source:      types.Source{BundleLocation: uri},
		},
		Intro: Introspection{
			RunID:       "r1",
			OrderNum:    "0001",
			OrderName:   "build",
			TraceID:     "tr",
			CallbackURL: "https://cb",
			TimeoutS:    60,
		},
		PublicKey: pair.Public,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	files, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}

	if string(files[CodePrefix+"run.sh"]) != "echo ok" {
		t.Error("code entry missing or wrong")
	}

	var order OrderEntryPayload
	if err := json.Unmarshal(files[OrderEntry], &order); err != nil {
		t.Fatalf("order entry: %v", err)
	}
	if len(order.Cmds) != 1 || order.TimeoutS != 60 {
		t.Errorf("order entry = %+v", order)
	}

	sealed, ok := files[EnvEntry]
	if !ok {
		t.Fatal("env entry missing")
	}
	for name, entry := range files {
		if name == EnvEntry {
			continue
		}
		if bytes.Contains(entry, []byte("tok-123")) {
			t.Fatalf("entry %s leaks the secret value", name)
		}
		if bytes.Contains(entry, []byte("https://cb")) {
			t.Fatalf("entry %s leaks the callback url", name)
		}
	}

	opened, err := keycrypt.Open(sealed, pair)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(opened, &env); err != nil {
		t.Fatal(err)
	}
	if env["MODE"] != "ci" || env["REGION"] != "eu-west-1" || env["API_TOKEN"] != "tok-123" {
		t.Errorf("sealed env = %v", env)
	}
	if env[EnvCallbackURL] != "https://cb" {
		t.Errorf("callback url = %s", env[EnvCallbackURL])
	}

	var manifest Manifest
	if err := json.Unmarshal(files[ManifestEntry], &manifest); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(manifest.Secrets) != 1 || manifest.Secrets[0] != "API_TOKEN" {
		t.Errorf("manifest secrets = %v", manifest.Secrets)
	}
	if len(manifest.Files) != 1 || manifest.Files[0] != "run.sh" {
		t.Errorf("manifest files = %v", manifest.Files)
	}
	names := make(map[string]bool, len(manifest.Env))
	for _, n := range manifest.Env {
		names[n] = true
	}
	for _, want := range []string{"MODE", "REGION", "API_TOKEN", EnvCallbackURL} {
		if !names[want] {
			t.Errorf("manifest env missing %s", want)
		}
	}
}

func TestBuildCommandsOnly(t *testing.T) {
	pair, err := keycrypt.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	builder := NewBuilder(NewSourceFetcher(artifact.NewMemoryStore(), nil), nil, nil)
	data, err := builder.Build(context.Background(), BuildInput{
		Order: &types.Order{
			OrderName: "patch",
			Cmds:      []string{"yum update -y"},
			TimeoutS:  300,
			EnvVars:   map[string]string{"MODE": "fleet"},
		},
		Intro:     Introspection{RunID: "r1", OrderNum: "0001", CallbackURL: "https://cb"},
		PublicKey: pair.Public,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	files, err := Unpack(data)
	if err != nil {
		t.Fatal(err)
	}
	for name := range files {
		if strings.HasPrefix(name, CodePrefix) {
			t.Errorf("commands-only bundle has code entry %s", name)
		}
	}

	var order OrderEntryPayload
	if err := json.Unmarshal(files[OrderEntry], &order); err != nil {
		t.Fatalf("order entry: %v", err)
	}
	if len(order.Cmds) != 1 || order.Cmds[0] != "yum update -y" {
		t.Errorf("order entry = %+v", order)
	}

	opened, err := keycrypt.Open(files[EnvEntry], pair)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(opened, &env); err != nil {
		t.Fatal(err)
	}
	if env["MODE"] != "fleet" || env[EnvCallbackURL] != "https://cb" {
		t.Errorf("sealed env = %v", env)
	}
}
