package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewTraceID generates a short random hex token (8 chars) shared by all
// legs of a run.
func NewTraceID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// NewLeg creates a leg identifier: <trace_id>:<epoch_seconds>.
func NewLeg(traceID string) string {
	return fmt.Sprintf("%s:%d", traceID, time.Now().Unix())
}

// ParseLeg splits a leg identifier into its trace ID and epoch.
func ParseLeg(leg string) (traceID string, epoch int64, err error) {
	idx := strings.IndexByte(leg, ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed leg %q", leg)
	}
	epoch, err = strconv.ParseInt(leg[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed leg %q: %w", leg, err)
	}
	return leg[:idx], epoch, nil
}

// FlowID builds the human-readable flow identifier:
// <username>:<trace_id>-<flow_label>.
func FlowID(username, traceID, flowLabel string) string {
	if flowLabel == "" {
		flowLabel = DefaultFlowLabel
	}
	return fmt.Sprintf("%s:%s-%s", username, traceID, flowLabel)
}

// ParseFlowID splits a flow identifier into its components.
func ParseFlowID(flowID string) (username, traceID, flowLabel string, err error) {
	colon := strings.IndexByte(flowID, ':')
	if colon < 0 {
		return "", "", "", fmt.Errorf("malformed flow id %q", flowID)
	}
	username = flowID[:colon]
	rest := flowID[colon+1:]
	dash := strings.LastIndexByte(rest, '-')
	if dash < 0 {
		return "", "", "", fmt.Errorf("malformed flow id %q", flowID)
	}
	return username, rest[:dash], rest[dash+1:], nil
}
