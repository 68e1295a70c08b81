package types

import (
	"strings"
	"testing"
)

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusTimedOut}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrderNum(t *testing.T) {
	cases := map[int]string{0: "0001", 1: "0002", 41: "0042", 9998: "9999"}
	for idx, want := range cases {
		if got := OrderNum(idx); got != want {
			t.Errorf("OrderNum(%d) = %s, want %s", idx, got, want)
		}
	}
}

func TestOrderNumNeverCollidesWithStartMarker(t *testing.T) {
	if OrderNum(0) == StartOrderNum {
		t.Fatal("first order number must not collide with the start marker")
	}
}

func TestJobB64RoundTrip(t *testing.T) {
	mustSucceed := false
	job := &Job{
		Username: "alice",
		Orders: []*Order{
			{
				OrderName:       "plan",
				ExecutionTarget: TargetContainer,
				Cmds:            []string{"true"},
				TimeoutS:        30,
			},
			{
				OrderName:    "apply",
				Cmds:         []string{"false"},
				TimeoutS:     60,
				MustSucceed:  &mustSucceed,
				Dependencies: []string{"plan"},
				Source:       Source{BundleLocation: "s3://code/apply.zip"},
			},
		},
	}

	b64, err := job.ToB64()
	if err != nil {
		t.Fatalf("ToB64: %v", err)
	}
	decoded, err := JobFromB64(b64)
	if err != nil {
		t.Fatalf("JobFromB64: %v", err)
	}

	if decoded.Username != "alice" {
		t.Errorf("username = %s", decoded.Username)
	}
	if len(decoded.Orders) != 2 {
		t.Fatalf("orders = %d", len(decoded.Orders))
	}
	if decoded.Orders[1].MustSucceedValue() {
		t.Error("must_succeed=false should survive the round trip")
	}
	if decoded.Orders[0].MustSucceedValue() != true {
		t.Error("must_succeed should default to true when absent")
	}
}

func TestJobFromB64Malformed(t *testing.T) {
	if _, err := JobFromB64("not base64 at all!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := JobFromB64("bm90IGpzb24="); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestApplyDefaults(t *testing.T) {
	job := &Job{Username: "bob", Orders: []*Order{{Cmds: []string{"true"}, TimeoutS: 5}}}
	job.ApplyDefaults()

	if job.FlowLabel != DefaultFlowLabel {
		t.Errorf("flow label = %s", job.FlowLabel)
	}
	if job.JobTimeoutS != DefaultJobTimeoutS {
		t.Errorf("job timeout = %d", job.JobTimeoutS)
	}
	if job.Orders[0].OrderName != "order-0001" {
		t.Errorf("defaulted order name = %s", job.Orders[0].OrderName)
	}
}

func TestTargetLegacyMapping(t *testing.T) {
	useLambda := true
	o := &Order{UseLambda: &useLambda}
	if o.Target() != TargetInline {
		t.Errorf("use_lambda=true should map to inline, got %s", o.Target())
	}

	useLambda = false
	if o.Target() != TargetContainer {
		t.Errorf("use_lambda=false should map to container, got %s", o.Target())
	}

	// execution_target wins over the legacy flag
	o.ExecutionTarget = TargetRemoteAgent
	if o.Target() != TargetRemoteAgent {
		t.Errorf("execution_target should win, got %s", o.Target())
	}
}

func TestFlowIDRoundTrip(t *testing.T) {
	flowID := FlowID("carol", "ab12cd34", "deploy")
	if flowID != "carol:ab12cd34-deploy" {
		t.Fatalf("flow id = %s", flowID)
	}

	user, trace, label, err := ParseFlowID(flowID)
	if err != nil {
		t.Fatalf("ParseFlowID: %v", err)
	}
	if user != "carol" || trace != "ab12cd34" || label != "deploy" {
		t.Errorf("parsed = (%s, %s, %s)", user, trace, label)
	}
}

func TestLegRoundTrip(t *testing.T) {
	trace := NewTraceID()
	if len(trace) != 8 {
		t.Fatalf("trace id length = %d", len(trace))
	}

	leg := NewLeg(trace)
	gotTrace, epoch, err := ParseLeg(leg)
	if err != nil {
		t.Fatalf("ParseLeg: %v", err)
	}
	if gotTrace != trace {
		t.Errorf("trace = %s, want %s", gotTrace, trace)
	}
	if epoch <= 0 {
		t.Errorf("epoch = %d", epoch)
	}
}

func TestTruncateLogKeepsTail(t *testing.T) {
	long := strings.Repeat("a", MaxLogBytes) + "TAIL"
	got := TruncateLog(long)
	if len(got) != MaxLogBytes {
		t.Fatalf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "TAIL") {
		t.Error("truncation should preserve the tail")
	}

	short := "short log"
	if TruncateLog(short) != short {
		t.Error("short logs must pass through unchanged")
	}
}

func TestEventSK(t *testing.T) {
	if got := EventSK("plan", 1724500000123); got != "plan:1724500000123" {
		t.Errorf("sk = %s", got)
	}
}
