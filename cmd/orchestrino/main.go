package main

import (
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/orchestrino/cmd/orchestrino/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrino",
	Short: "orchestrino relays chat messages to a watsonx Orchestrate agent",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger once --log-level and co are parsed
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	err := clay.InitGlazed("orchestrino", rootCmd)
	cobra.CheckErr(err)
	err = logging.InitEarlyLoggingFromArgs(os.Args[1:], "orchestrino")
	cobra.CheckErr(err)

	err = cmds.RegisterCommands(rootCmd)
	cobra.CheckErr(err)

	err = rootCmd.Execute()
	cobra.CheckErr(err)
}
