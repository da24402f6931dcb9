package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
)

type StatusCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &StatusCommand{}

type StatusSettings struct {
	RunID       string `glazed:"run-id"`
	InstanceURL string `glazed:"instance-url"`
	APIKey      string `glazed:"api-key"`
}

// NewStatusCommand builds `status`, a one-shot poll of a run that was
// submitted earlier. Useful after a `run` that hit its deadline: the run may
// still have completed remotely.
func NewStatusCommand() (*StatusCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &StatusCommand{
		CommandDescription: cmds.NewCommandDescription(
			"status",
			cmds.WithShort("Show the current state of a run"),
			cmds.WithArguments(
				fields.New(
					"run-id",
					fields.TypeString,
					fields.WithHelp("Run to inspect"),
					fields.WithRequired(true),
				),
			),
			cmds.WithFlags(
				fields.New(
					"instance-url",
					fields.TypeString,
					fields.WithHelp("Orchestrate instance URL (overrides config)"),
				),
				fields.New(
					"api-key",
					fields.TypeString,
					fields.WithHelp("IBM Cloud API key (overrides config)"),
				),
			),
			cmds.WithSections(
				glazedParameterLayer,
			),
		),
	}, nil
}

func (c *StatusCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &StatusSettings{}
	err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s)
	if err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	creds, err := credentialsFromViper(s.InstanceURL, s.APIKey, "", false)
	if err != nil {
		return err
	}

	client, err := orchestrate.NewClient(creds)
	if err != nil {
		return err
	}

	run, err := client.GetRun(ctx, s.RunID)
	if err != nil {
		return err
	}

	reply := ""
	if msg, ok := orchestrate.ExtractAgentMessage(run.Payload); ok {
		reply = msg
	}
	row := types.NewRow(
		types.MRP("run_id", run.RunID),
		types.MRP("thread_id", run.ThreadID),
		types.MRP("status", run.Status),
		types.MRP("reply", reply),
	)
	return gp.AddRow(ctx, row)
}
