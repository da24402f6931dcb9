package cmds

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/orchestrino/pkg/orchestrate"
	"github.com/go-go-golems/orchestrino/pkg/webchat"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = &ServeCommand{}

type ServeSettings struct {
	Addr                 string `glazed:"addr"`
	InstanceURL          string `glazed:"instance-url"`
	APIKey               string `glazed:"api-key"`
	AgentID              string `glazed:"agent-id"`
	TimeoutSeconds       int    `glazed:"timeout-seconds"`
	PollIntervalMS       int    `glazed:"poll-interval-ms"`
	SessionIdleSeconds   int    `glazed:"session-idle-seconds"`
	EvictIntervalSeconds int    `glazed:"evict-interval-seconds"`
}

func NewServeCommand() (*ServeCommand, error) {
	return &ServeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Serve the browser chat front-end"),
			cmds.WithFlags(
				fields.New(
					"addr",
					fields.TypeString,
					fields.WithHelp("HTTP listen address"),
					fields.WithDefault(":8080"),
				),
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
					"timeout-seconds",
					fields.TypeInteger,
					fields.WithHelp("How long to wait for each run to finish"),
					fields.WithDefault(60),
				),
				fields.New(
					"poll-interval-ms",
					fields.TypeInteger,
					fields.WithHelp("Delay between run status polls"),
					fields.WithDefault(2000),
				),
				fields.New(
					"session-idle-seconds",
					fields.TypeInteger,
					fields.WithHelp("Idle time before a browser session is evicted"),
					fields.WithDefault(1800),
				),
				fields.New(
					"evict-interval-seconds",
					fields.TypeInteger,
					fields.WithHelp("How often the eviction loop scans sessions"),
					fields.WithDefault(60),
				),
			),
		),
	}, nil
}

func (c *ServeCommand) RunIntoWriter(
	ctx context.Context,
	parsedLayers *values.Values,
	_ io.Writer,
) error {
	s := &ServeSettings{}
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

	router, err := webchat.NewRouter(client, webchat.RouterConfig{
		Addr:                 s.Addr,
		AgentID:              creds.AgentID,
		EvictIdleSeconds:     s.SessionIdleSeconds,
		EvictIntervalSeconds: s.EvictIntervalSeconds,
	}, webchat.StaticFS)
	if err != nil {
		return errors.Wrap(err, "build router")
	}

	server := router.BuildHTTPServer()

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg := errgroup.Group{}

	eg.Go(func() error {
		router.Run(srvCtx)
		return nil
	})

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}

		srvCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}

		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.Addr).Str("agent_id", creds.AgentID).Msg("starting chat server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		srvCancel()
		return nil
	})

	return eg.Wait()
}
