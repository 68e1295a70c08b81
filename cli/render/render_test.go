package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/foreman/types"
)

func TestParseFormat(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Format
		ok   bool
	}{
		{"json", FormatJSON, true},
		{"TABLE", FormatTable, true},
		{"yaml", FormatYAML, true},
		{"", "", true},
		{"xml", "", false},
	} {
		got, err := ParseFormat(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseFormat(%q) err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, true, &buf)

	rec := &types.OrderRecord{RunID: "r1", OrderNum: "0001", OrderName: "build", Status: types.StatusSucceeded}
	if err := r.Render(rec); err != nil {
		t.Fatal(err)
	}

	var got types.OrderRecord
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.OrderName != "build" || got.Status != types.StatusSucceeded {
		t.Errorf("got %+v", got)
	}
}

func TestRenderTableSlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	rows := []*types.OrderRecord{
		{RunID: "r1", OrderNum: "0001", OrderName: "build", Status: types.StatusSucceeded},
		{RunID: "r1", OrderNum: "0002", OrderName: "test", Status: types.StatusRunning},
	}
	if err := r.Render(rows); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"order_name", "build", "test", "succeeded", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTableEmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	if err := r.Render([]*types.OrderRecord{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, true, &buf)
	if err := r.Render(map[string]string{"run_id": "r1"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "run_id: r1") {
		t.Errorf("output = %q", buf.String())
	}
}
