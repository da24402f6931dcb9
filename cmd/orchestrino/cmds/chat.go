package cmds

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/orchestrino/pkg/chat"
	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
)

// NewChatCommand builds the interactive REPL. Each entered line becomes one
// turn on a single conversation thread, so the agent keeps context across
// messages until the user exits.
func NewChatCommand() *cobra.Command {
	var instanceURL, apiKey, agentID, threadID string
	var timeoutSeconds, pollIntervalMS int

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in a terminal loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return errors.New("chat requires an interactive terminal, use 'run' for scripted calls")
			}

			creds, err := credentialsFromViper(instanceURL, apiKey, agentID, true)
			if err != nil {
				return err
			}

			client, err := orchestrate.NewClient(creds,
				orchestrate.WithPollInterval(time.Duration(pollIntervalMS)*time.Millisecond),
				orchestrate.WithRunTimeout(time.Duration(timeoutSeconds)*time.Second),
			)
			if err != nil {
				return err
			}

			sess := chat.NewSession(uuid.NewString(), client, creds.AgentID)
			if threadID != "" {
				sess.AdoptThreadID(threadID)
			}

			ui := &input.UI{
				Writer: os.Stdout,
				Reader: os.Stdin,
			}

			fmt.Printf("Chatting with agent %s. Type /quit to exit.\n", creds.AgentID)

			for {
				line, err := ui.Ask("You", &input.Options{
					Required: false,
					Loop:     false,
				})
				if err != nil {
					// go-input returns an error on EOF, treat it as exit
					fmt.Println()
					break
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					break
				}

				turn, err := sess.Send(cmd.Context(), line)
				if err != nil {
					var timeoutErr *orchestrate.RunTimeoutError
					if errors.As(err, &timeoutErr) {
						fmt.Printf("(no reply after %s, the agent may still be working)\n", timeoutErr.Waited)
						continue
					}
					log.Error().Err(err).Msg("chat turn failed")
					fmt.Printf("error: %v\n", err)
					continue
				}

				fmt.Printf("\n%s\n\n", turn.Agent)
			}

			if tid := sess.ThreadID(); tid != "" {
				fmt.Printf("thread: %s\n", tid)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceURL, "instance-url", "", "Orchestrate instance URL (overrides config)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "IBM Cloud API key (overrides config)")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent to address (overrides config)")
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Continue an existing conversation thread")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout-seconds", 60, "How long to wait for each run to finish")
	cmd.Flags().IntVar(&pollIntervalMS, "poll-interval-ms", 2000, "Delay between run status polls")

	return cmd
}
