package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
)

func RegisterAgentsCommands() *cobra.Command {
	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Commands for inspecting the Orchestrate instance",
	}

	listCmd, err := NewListAgentsCommand()
	cobra.CheckErr(err)
	command, err := cli.BuildCobraCommand(listCmd)
	cobra.CheckErr(err)
	agentsCmd.AddCommand(command)

	return agentsCmd
}

type ListAgentsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ListAgentsCommand{}

type ListAgentsSettings struct {
	InstanceURL string `glazed:"instance-url"`
	APIKey      string `glazed:"api-key"`
}

func NewListAgentsCommand() (*ListAgentsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &ListAgentsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List the agents available on the instance"),
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

func (c *ListAgentsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ListAgentsSettings{}
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

	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		row := types.NewRow(
			types.MRP("id", agent.ID),
			types.MRP("name", agent.Name),
			types.MRP("description", agent.Description),
			types.MRP("status", agent.Status),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}

	return nil
}
