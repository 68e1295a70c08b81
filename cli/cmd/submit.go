package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/foreman/admission"
	"github.com/pithecene-io/foreman/cli/render"
	"github.com/pithecene-io/foreman/log"
	"github.com/pithecene-io/foreman/types"
)

// SubmitCommand returns the submit command. Submit runs the full
// admission pipeline locally against the configured stores: the same
// path a deployed submission endpoint takes.
func SubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a job from a YAML or JSON file",
		ArgsUsage: "<job-file>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "username",
				Usage: "Override the submitting username",
			},
			&cli.StringFlag{
				Name:  "flow-label",
				Usage: "Override the flow label",
			},
		),
		Action: submitAction,
	}
}

func submitAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: foreman submit <job-file>", 2)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	job, err := loadJobFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if v := c.String("username"); v != "" {
		job.Username = v
	}
	if v := c.String("flow-label"); v != "" {
		job.FlowLabel = v
	}

	kc, err := newKernelClients(c.Context, c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	pipeline := admission.NewPipeline(
		kc.store,
		kc.artifacts,
		kc.newBuilder(),
		kc.keys,
		kc.prProvider(),
		log.NewLogger(log.RunContext{}),
		kc.cfg,
	)

	result, err := pipeline.Admit(c.Context, job)
	if err != nil {
		return cli.Exit(fmt.Sprintf("job rejected: %v", err), 1)
	}
	return r.Render(result)
}

// loadJobFile parses a job definition. YAML parsing accepts JSON input
// too, so one loader covers both.
func loadJobFile(path string) (*types.Job, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var job types.Job
	if err := yaml.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return &job, nil
}
