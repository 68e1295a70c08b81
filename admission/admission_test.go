package admission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pithecene-io/foreman/artifact"
	"github.com/pithecene-io/foreman/bundle"
	"github.com/pithecene-io/foreman/config"
	"github.com/pithecene-io/foreman/creds"
	"github.com/pithecene-io/foreman/keycrypt"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/state"
	"github.com/pithecene-io/foreman/types"
)

type fixture struct {
	store     *state.MemoryStore
	artifacts *artifact.MemoryStore
	keys      *keycrypt.MemoryKeyStore
	pipeline  *Pipeline
	sourceURI string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := state.NewMemoryStore()
	artifacts := artifact.NewMemoryStore()
	keys := keycrypt.NewMemoryKeyStore()

	code, err := bundle.Pack(map[string][]byte{"run.sh": []byte("echo hi")})
	if err != nil {
		t.Fatal(err)
	}
	uri, err := artifacts.PutBundle(ctx, "seed", "0001", code)
	if err != nil {
		t.Fatal(err)
	}

	source := creds.StaticSource{"/secret/TOKEN": "tok"}
	builder := bundle.NewBuilder(bundle.NewSourceFetcher(artifacts, nil), source, source)
	cfg := config.Config{DoneBucket: "done"}

	return &fixture{
		store:     store,
		artifacts: artifacts,
		keys:      keys,
		pipeline:  NewPipeline(store, artifacts, builder, keys, nil, log.Nop(), cfg),
		sourceURI: uri,
	}
}

func (f *fixture) job(orders ...*types.Order) *types.Job {
	return &types.Job{Username: "dev", Orders: orders}
}

func (f *fixture) order(name string, deps ...string) *types.Order {
	return &types.Order{
		OrderName:       name,
		ExecutionTarget: types.TargetInline,
		Cmds:            []string{"sh run.sh"},
		TimeoutS:        60,
		Dependencies:    deps,
		Source:          types.Source{BundleLocation: f.sourceURI},
	}
}

func TestAdmitHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pipeline.Admit(ctx, f.job(f.order("build"), f.order("test", "build")))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if res.RunID == "" || res.TraceID == "" || res.FlowID == "" {
		t.Errorf("result = %+v", res)
	}
	if res.DoneURI != "s3://done/done/"+res.RunID+"/done" {
		t.Errorf("done uri = %s", res.DoneURI)
	}

	orders, err := f.store.GetRunOrders(ctx, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("persisted %d orders", len(orders))
	}
	for _, rec := range orders {
		if rec.Status != types.StatusQueued {
			t.Errorf("order %s status = %s", rec.OrderNum, rec.Status)
		}
		if rec.BundleURI == "" || rec.CallbackURI == "" || rec.EncryptionKeyRef == "" {
			t.Errorf("order %s missing derived fields: %+v", rec.OrderNum, rec)
		}
	}
	if orders[0].OrderNum != "0001" || orders[1].OrderNum != "0002" {
		t.Errorf("order nums = %s, %s", orders[0].OrderNum, orders[1].OrderNum)
	}

	ev, err := f.store.LatestEvent(ctx, res.TraceID, types.JobOrderName)
	if err != nil {
		t.Fatalf("job event: %v", err)
	}
	if ev.EventType != types.EventJobStarted {
		t.Errorf("event = %s", ev.EventType)
	}

	start, err := f.artifacts.ReadResult(ctx, res.RunID, types.StartOrderNum)
	if err != nil {
		t.Fatalf("start marker: %v", err)
	}
	if start.Status != types.StartMarkerStatus {
		t.Errorf("start marker status = %s", start.Status)
	}
}

func TestAdmitBundlesAreDecryptable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	order := f.order("build")
	order.SecretPaths = []string{"/secret/TOKEN"}
	res, err := f.pipeline.Admit(ctx, f.job(order))
	if err != nil {
		t.Fatal(err)
	}

	orders, _ := f.store.GetRunOrders(ctx, res.RunID)
	data, err := f.artifacts.ReadBundle(ctx, orders[0].BundleURI)
	if err != nil {
		t.Fatal(err)
	}
	files, err := bundle.Unpack(data)
	if err != nil {
		t.Fatal(err)
	}

	if entry, leaked := files["env.json"]; leaked {
		t.Fatalf("bundle carries a plaintext env entry: %s", entry)
	}
	for name, entry := range files {
		if name == bundle.EnvEntry {
			continue
		}
		if bytes.Contains(entry, []byte(`"tok"`)) {
			t.Fatalf("entry %s leaks the secret value", name)
		}
		if bytes.Contains(entry, []byte(orders[0].CallbackURI)) {
			t.Fatalf("entry %s leaks the presigned callback url", name)
		}
	}

	pair, err := f.keys.GetKey(ctx, orders[0].EncryptionKeyRef)
	if err != nil {
		t.Fatalf("key ref should resolve: %v", err)
	}
	opened, err := keycrypt.Open(files[bundle.EnvEntry], pair)
	if err != nil {
		t.Fatalf("worker-side open: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(opened, &env); err != nil {
		t.Fatal(err)
	}
	if env["TOKEN"] != "tok" {
		t.Errorf("sealed env = %v", env)
	}
	if env[bundle.EnvCallbackURL] != orders[0].CallbackURI {
		t.Errorf("callback url = %s", env[bundle.EnvCallbackURL])
	}
}

func TestAdmitSourcelessRemoteAgentGetsBundle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pipeline.Admit(ctx, f.job(&types.Order{
		OrderName:       "patch",
		ExecutionTarget: types.TargetRemoteAgent,
		Cmds:            []string{"yum update -y"},
		TimeoutS:        300,
		EnvVars:         map[string]string{"MODE": "fleet"},
		Targets:         []types.AgentTarget{{Key: "tag:fleet", Values: []string{"web"}}},
		DocumentRef:     "RunShellScript",
	}))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	orders, _ := f.store.GetRunOrders(ctx, res.RunID)
	if orders[0].BundleURI == "" {
		t.Fatal("sourceless remote-agent order should still get a bundle")
	}

	data, err := f.artifacts.ReadBundle(ctx, orders[0].BundleURI)
	if err != nil {
		t.Fatal(err)
	}
	files, err := bundle.Unpack(data)
	if err != nil {
		t.Fatal(err)
	}

	var entry bundle.OrderEntryPayload
	if err := json.Unmarshal(files[bundle.OrderEntry], &entry); err != nil {
		t.Fatalf("order entry: %v", err)
	}
	if len(entry.Cmds) != 1 || entry.Cmds[0] != "yum update -y" {
		t.Errorf("order entry = %+v", entry)
	}

	pair, err := f.keys.GetKey(ctx, orders[0].EncryptionKeyRef)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := keycrypt.Open(files[bundle.EnvEntry], pair)
	if err != nil {
		t.Fatalf("worker-side open: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(opened, &env); err != nil {
		t.Fatal(err)
	}
	if env["MODE"] != "fleet" || env[bundle.EnvCallbackURL] != orders[0].CallbackURI {
		t.Errorf("sealed env = %v", env)
	}
}

func TestAdmitRejectsInvalidJobWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := f.order("build")
	bad.Cmds = nil
	job := f.job(bad)
	job.RunID = "fixed-run"

	_, err := f.pipeline.Admit(ctx, job)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}

	orders, _ := f.store.GetRunOrders(ctx, "fixed-run")
	if len(orders) != 0 {
		t.Error("rejected job must persist nothing")
	}
	if ok, _ := f.artifacts.ResultExists(ctx, "fixed-run", types.StartOrderNum); ok {
		t.Error("rejected job must not emit a start marker")
	}
}

func TestValidateJobProblems(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(*types.Job)
	}{
		{"no username", func(j *types.Job) { j.Username = "" }},
		{"no orders", func(j *types.Job) { j.Orders = nil }},
		{"empty cmds", func(j *types.Job) { j.Orders[0].Cmds = nil }},
		{"zero timeout", func(j *types.Job) { j.Orders[0].TimeoutS = 0 }},
		{"bad target", func(j *types.Job) { j.Orders[0].ExecutionTarget = "warp" }},
		{"both sources", func(j *types.Job) {
			j.Orders[0].Source.Repo = "a/b"
			j.Orders[0].Source.TokenRef = "t"
		}},
		{"repo without token", func(j *types.Job) {
			j.Orders[0].Source = types.Source{Repo: "a/b"}
		}},
		{"unknown dependency", func(j *types.Job) { j.Orders[0].Dependencies = []string{"ghost"} }},
		{"self dependency", func(j *types.Job) { j.Orders[0].Dependencies = []string{j.Orders[0].OrderName} }},
	}
	for _, tc := range cases {
		job := f.job(f.order("build"))
		tc.mutate(job)
		job.ApplyDefaults()
		if err := ValidateJob(job); err == nil {
			t.Errorf("%s: should be rejected", tc.name)
		}
	}
}

func TestValidateJobDetectsCycle(t *testing.T) {
	f := newFixture(t)
	job := f.job(
		f.order("a", "c"),
		f.order("b", "a"),
		f.order("c", "b"),
	)
	err := ValidateJob(job)
	if err == nil {
		t.Fatal("cycle should be rejected")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %T", err)
	}
}

func TestTopoSort(t *testing.T) {
	f := newFixture(t)
	orders := []*types.Order{
		f.order("deploy", "test"),
		f.order("test", "build"),
		f.order("build"),
	}

	sorted, err := TopoSort(orders)
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int)
	for i, o := range sorted {
		pos[o.OrderName] = i
	}
	if !(pos["build"] < pos["test"] && pos["test"] < pos["deploy"]) {
		t.Errorf("sorted order: %v", pos)
	}
}

func TestNormalizeEnvelopes(t *testing.T) {
	job := &types.Job{Username: "dev", Orders: []*types.Order{{Cmds: []string{"true"}, TimeoutS: 1}}}
	b64, err := job.ToB64()
	if err != nil {
		t.Fatal(err)
	}
	direct, _ := json.Marshal(map[string]string{"job_parameters": b64})

	t.Run("direct", func(t *testing.T) {
		got, err := Normalize(direct)
		if err != nil {
			t.Fatal(err)
		}
		if got.Username != "dev" {
			t.Errorf("username = %s", got.Username)
		}
	})

	t.Run("direct canonical key", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]string{"job_parameters_b64": b64})
		got, err := Normalize(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Username != "dev" {
			t.Errorf("username = %s", got.Username)
		}
	})

	t.Run("http post raw descriptor", func(t *testing.T) {
		descriptor, _ := json.Marshal(job)
		raw, _ := json.Marshal(map[string]any{"httpMethod": "POST", "body": string(descriptor)})
		got, err := Normalize(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Username != "dev" || len(got.Orders) != 1 {
			t.Errorf("job = %+v", got)
		}
	})

	t.Run("sns", func(t *testing.T) {
		env := map[string]any{
			"Records": []map[string]any{{"Sns": map[string]any{"Message": string(direct)}}},
		}
		raw, _ := json.Marshal(env)
		got, err := Normalize(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Username != "dev" {
			t.Errorf("username = %s", got.Username)
		}
	})

	t.Run("http post", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{"httpMethod": "POST", "body": b64})
		got, err := Normalize(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Username != "dev" {
			t.Errorf("username = %s", got.Username)
		}
	})

	t.Run("http get rejected", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{"httpMethod": "GET", "body": b64})
		if _, err := Normalize(raw); !errors.Is(err, ErrMethodNotAllowed) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("http v2 post", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{
			"requestContext": map[string]any{"http": map[string]any{"method": "POST"}},
			"body":           b64,
		})
		got, err := Normalize(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got.Username != "dev" {
			t.Errorf("username = %s", got.Username)
		}
	})

	t.Run("garbage b64", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]string{"job_parameters": base64.StdEncoding.EncodeToString([]byte("not json"))})
		if _, err := Normalize(raw); err == nil {
			t.Error("malformed descriptor should fail")
		}
	})
}

func TestRemoteAgentRequest(t *testing.T) {
	body, _ := json.Marshal(RemoteAgentRequest{
		Username:    "ops",
		DocumentRef: "RunPatchBaseline",
		Targets:     []types.AgentTarget{{Key: "tag:fleet", Values: []string{"web"}}},
		Cmds:        []string{"yum update -y"},
		EnvVars:     map[string]string{"MODE": "fleet"},
	})

	job, err := ParseRemoteAgentJob(body)
	if err != nil {
		t.Fatalf("ParseRemoteAgentJob: %v", err)
	}
	if len(job.Orders) != 1 {
		t.Fatalf("orders = %d", len(job.Orders))
	}
	o := job.Orders[0]
	if o.ExecutionTarget != types.TargetRemoteAgent || o.DocumentRef != "RunPatchBaseline" {
		t.Errorf("order = %+v", o)
	}
	if len(o.Cmds) != 1 || o.Cmds[0] != "yum update -y" || o.EnvVars["MODE"] != "fleet" {
		t.Errorf("command inputs lost: %+v", o)
	}
	if o.TimeoutS != DefaultRemoteTimeoutS {
		t.Errorf("timeout = %d", o.TimeoutS)
	}

	job.ApplyDefaults()
	if err := ValidateJob(job); err != nil {
		t.Errorf("remote-agent job should validate: %v", err)
	}
}

func TestRemoteAgentRequestRejectsIncomplete(t *testing.T) {
	for _, req := range []RemoteAgentRequest{
		{DocumentRef: "d", Targets: []types.AgentTarget{{Key: "k"}}},
		{Username: "u", Targets: []types.AgentTarget{{Key: "k"}}},
		{Username: "u", DocumentRef: "d"},
	} {
		if _, err := req.Job(); err == nil {
			t.Errorf("incomplete request %+v should fail", req)
		}
	}
}
