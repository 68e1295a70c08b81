package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

// Starter launches the timeout backstop for one dispatched order.
type Starter interface {
	// Start begins deadline tracking and returns an opaque handle.
	// Starting the same (run_id, order_num) twice is a no-op.
	Start(ctx context.Context, in Input) (string, error)
}

// SFNStarter runs the watchdog as a state-machine execution. The
// execution name <run_id>-<order_num> makes duplicate starts collapse:
// a redelivered notification re-starts into ExecutionAlreadyExists.
type SFNStarter struct {
	client       *sfn.Client
	stateMachine string
}

// NewSFNStarter creates a starter for the given state machine ARN.
func NewSFNStarter(client *sfn.Client, stateMachineARN string) *SFNStarter {
	return &SFNStarter{client: client, stateMachine: stateMachineARN}
}

func (s *SFNStarter) Start(ctx context.Context, in Input) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal watchdog input: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	name := in.RunID + "-" + in.OrderNum
	out, err := s.client.StartExecution(callCtx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachine),
		Name:            aws.String(name),
		Input:           aws.String(string(payload)),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return name, nil
		}
		return "", fmt.Errorf("start watchdog %s: %w", name, err)
	}
	if out.ExecutionArn == nil {
		return name, nil
	}
	return *out.ExecutionArn, nil
}

// NopStarter is a Starter that does nothing, for tests and local runs.
type NopStarter struct{}

func (NopStarter) Start(_ context.Context, in Input) (string, error) {
	return "nop:" + in.RunID + "-" + in.OrderNum, nil
}

var _ Starter = (*SFNStarter)(nil)
