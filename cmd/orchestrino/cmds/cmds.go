package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
)

// RegisterCommands attaches all orchestrino subcommands to the root.
func RegisterCommands(root *cobra.Command) error {
	runCmd, err := NewRunCommand()
	if err != nil {
		return err
	}
	command, err := cli.BuildCobraCommand(runCmd)
	if err != nil {
		return err
	}
	root.AddCommand(command)

	serveCmd, err := NewServeCommand()
	if err != nil {
		return err
	}
	command, err = cli.BuildCobraCommand(serveCmd)
	if err != nil {
		return err
	}
	root.AddCommand(command)

	statusCmd, err := NewStatusCommand()
	if err != nil {
		return err
	}
	command, err = cli.BuildCobraCommand(statusCmd)
	if err != nil {
		return err
	}
	root.AddCommand(command)

	root.AddCommand(NewChatCommand())
	root.AddCommand(RegisterAgentsCommands())

	return nil
}

// credentialsFromViper assembles the Orchestrate credentials from the
// orchestrino config file and environment. Flag overrides take precedence
// when non-empty. requireAgent is false for commands that address the
// instance rather than a single agent.
func credentialsFromViper(instanceURL, apiKey, agentID string, requireAgent bool) (orchestrate.Credentials, error) {
	creds := orchestrate.Credentials{
		InstanceURL: viper.GetString("instance-url"),
		APIKey:      viper.GetString("api-key"),
		AgentID:     viper.GetString("agent-id"),
	}
	if instanceURL != "" {
		creds.InstanceURL = instanceURL
	}
	if apiKey != "" {
		creds.APIKey = apiKey
	}
	if agentID != "" {
		creds.AgentID = agentID
	}
	if requireAgent {
		if err := creds.Validate(); err != nil {
			return orchestrate.Credentials{}, errors.Wrap(err, "incomplete credentials, set instance-url, api-key and agent-id in the config or via flags")
		}
	}
	return creds, nil
}
