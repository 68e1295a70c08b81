package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/pithecene-io/foreman/types"
)

const callTimeout = 30 * time.Second

// AWSDispatcher routes orders to their backend: inline orders invoke the
// worker function asynchronously, container orders start a build, and
// remote-agent orders send a command to the targeted fleet.
type AWSDispatcher struct {
	lambda    *awslambda.Client
	codebuild *codebuild.Client
	ssm       *ssm.Client

	workerFunction   string
	containerProject string
}

// Backends names the per-target destinations.
type Backends struct {
	// WorkerFunction is the inline worker function name or ARN.
	WorkerFunction string
	// ContainerProject is the build project for container orders.
	ContainerProject string
}

// NewAWSDispatcher creates a dispatcher over the three backend clients.
func NewAWSDispatcher(lambdaClient *awslambda.Client, codebuildClient *codebuild.Client, ssmClient *ssm.Client, backends Backends) *AWSDispatcher {
	return &AWSDispatcher{
		lambda:           lambdaClient,
		codebuild:        codebuildClient,
		ssm:              ssmClient,
		workerFunction:   backends.WorkerFunction,
		containerProject: backends.ContainerProject,
	}
}

func (d *AWSDispatcher) Dispatch(ctx context.Context, rec *types.OrderRecord) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	switch rec.ExecutionTarget {
	case types.TargetInline:
		return d.invokeInline(callCtx, rec)
	case types.TargetContainer:
		return d.startContainer(callCtx, rec)
	case types.TargetRemoteAgent:
		return d.sendRemote(callCtx, rec)
	default:
		return "", fmt.Errorf("unknown execution target %q for %s", rec.ExecutionTarget, rec.PK())
	}
}

func (d *AWSDispatcher) invokeInline(ctx context.Context, rec *types.OrderRecord) (string, error) {
	payload, err := json.Marshal(NewPayload(rec))
	if err != nil {
		return "", fmt.Errorf("marshal inline payload: %w", err)
	}

	_, err = d.lambda.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(d.workerFunction),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke worker for %s: %w", rec.PK(), err)
	}
	return fmt.Sprintf("lambda:%s:%s", d.workerFunction, Token(rec.RunID, rec.OrderNum)), nil
}

func (d *AWSDispatcher) startContainer(ctx context.Context, rec *types.OrderRecord) (string, error) {
	p := NewPayload(rec)
	env := []cbtypes.EnvironmentVariable{
		{Name: aws.String("BUNDLE_URI"), Value: aws.String(p.BundleURI)},
		{Name: aws.String("KEY_REF"), Value: aws.String(p.KeyRef)},
		{Name: aws.String("CALLBACK_URL"), Value: aws.String(p.CallbackURI)},
		{Name: aws.String("TIMEOUT_S"), Value: aws.String(fmt.Sprintf("%d", p.TimeoutS))},
		{Name: aws.String("DISPATCH_TOKEN"), Value: aws.String(p.DispatchToken)},
	}

	out, err := d.codebuild.StartBuild(ctx, &codebuild.StartBuildInput{
		ProjectName:                  aws.String(d.containerProject),
		EnvironmentVariablesOverride: env,
	})
	if err != nil {
		return "", fmt.Errorf("start build for %s: %w", rec.PK(), err)
	}
	if out.Build == nil || out.Build.Id == nil {
		return "", fmt.Errorf("start build for %s: no build id returned", rec.PK())
	}
	return "codebuild:" + *out.Build.Id, nil
}

func (d *AWSDispatcher) sendRemote(ctx context.Context, rec *types.OrderRecord) (string, error) {
	if len(rec.Targets) == 0 || rec.DocumentRef == "" {
		return "", fmt.Errorf("remote-agent order %s missing targets or document", rec.PK())
	}

	p := NewPayload(rec)
	input := &ssm.SendCommandInput{
		DocumentName: aws.String(rec.DocumentRef),
		Targets:      toSSMTargets(rec.Targets),
		Parameters: map[string][]string{
			"bundleUri":     {p.BundleURI},
			"keyRef":        {p.KeyRef},
			"callbackUrl":   {p.CallbackURI},
			"timeoutS":      {fmt.Sprintf("%d", p.TimeoutS)},
			"dispatchToken": {p.DispatchToken},
		},
	}

	out, err := d.ssm.SendCommand(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send command for %s: %w", rec.PK(), err)
	}
	if out.Command == nil || out.Command.CommandId == nil {
		return "", fmt.Errorf("send command for %s: no command id returned", rec.PK())
	}
	return "ssm:" + *out.Command.CommandId, nil
}

func toSSMTargets(targets []types.AgentTarget) []ssmtypes.Target {
	out := make([]ssmtypes.Target, 0, len(targets))
	for _, t := range targets {
		out = append(out, ssmtypes.Target{
			Key:    aws.String(t.Key),
			Values: t.Values,
		})
	}
	return out
}

var _ Dispatcher = (*AWSDispatcher)(nil)
