package cmds

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
)

type RunCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &RunCommand{}

type RunSettings struct {
	Message        string `glazed:"message"`
	InstanceURL    string `glazed:"instance-url"`
	APIKey         string `glazed:"api-key"`
	AgentID        string `glazed:"agent-id"`
	ThreadID       string `glazed:"thread-id"`
	TimeoutSeconds int    `glazed:"timeout-seconds"`
	PollIntervalMS int    `glazed:"poll-interval-ms"`
	ShowThread     bool   `glazed:"show-thread"`
}

func NewRunCommand() (*RunCommand, error) {
	return &RunCommand{
		CommandDescription: cmds.NewCommandDescription(
			"run",
			cmds.WithShort("Send one message to the agent and print the reply"),
			cmds.WithArguments(
				fields.New(
					"message",
					fields.TypeString,
					fields.WithHelp("Message to send to the agent"),
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
				fields.New(
					"agent-id",
					fields.TypeString,
					fields.WithHelp("Agent to address (overrides config)"),
				),
				fields.New(
					"thread-id",
					fields.TypeString,
					fields.WithHelp("Continue an existing conversation thread"),
				),
				fields.New(
					"timeout-seconds",
					fields.TypeInteger,
					fields.WithHelp("How long to wait for the run to finish"),
					fields.WithDefault(60),
				),
				fields.New(
					"poll-interval-ms",
					fields.TypeInteger,
					fields.WithHelp("Delay between run status polls"),
					fields.WithDefault(2000),
				),
				fields.New(
					"show-thread",
					fields.TypeBool,
					fields.WithHelp("Print the thread id after the reply"),
					fields.WithDefault(false),
				),
			),
		),
	}, nil
}

func (c *RunCommand) RunIntoWriter(
	ctx context.Context,
	parsedLayers *values.Values,
	w io.Writer,
) error {
	s := &RunSettings{}
	err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s)
	if err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	creds, err := credentialsFromViper(s.InstanceURL, s.APIKey, s.AgentID, true)
	if err != nil {
		return err
	}

	client, err := orchestrate.NewClient(creds,
		orchestrate.WithPollInterval(time.Duration(s.PollIntervalMS)*time.Millisecond),
		orchestrate.WithRunTimeout(time.Duration(s.TimeoutSeconds)*time.Second),
	)
	if err != nil {
		return err
	}

	reply, threadID, err := client.SubmitAndAwait(ctx, s.Message, creds.AgentID, s.ThreadID)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w, reply)
	if s.ShowThread {
		_, _ = fmt.Fprintf(w, "\nthread: %s\n", threadID)
	}
	return nil
}
