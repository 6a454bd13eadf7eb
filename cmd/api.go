package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/deskflow/internal/aiconnectors"
	"github.com/deskflow/internal/api"
	"github.com/deskflow/internal/classify"
	"github.com/deskflow/internal/config"
	"github.com/deskflow/internal/database"
	"github.com/deskflow/internal/drafting"
	"github.com/deskflow/internal/jobqueue"
	"github.com/deskflow/internal/kb"
	"github.com/deskflow/internal/messaging"
	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/pipeline"
	"github.com/deskflow/internal/proposals"
	"github.com/deskflow/internal/thread"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Deskflow API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	ctx := context.Background()

	db, err := database.NewDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	pool, err := database.NewPool(ctx)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	threads := thread.NewPostgresStore(db)
	kbStore := kb.NewPostgresStore(db)
	observationStore := observation.NewPostgresStore(db)
	proposalStore := proposals.NewPostgresStore(db)

	connector, err := defaultConnector(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("provider", string(connector.GetProvider())).
		Str("model", connector.GetModel()).
		Msg("AI connector ready")

	classifier := classify.NewLLMClassifier(connector)
	drafter := drafting.NewLLMGenerator(connector, kb.NewService(kbStore))
	summarizer := proposals.NewLLMSummarizer(connector)

	obsService := observation.NewService(observationStore, threads, nil)
	generator := proposals.NewGenerator(observationStore, proposalStore, threads, summarizer)
	proposalSvc := proposals.NewService(proposalStore, kbStore)

	queueCfg := &jobqueue.QueueConfig{
		MaxWorkers:    jobqueue.DefaultQueueConfig().MaxWorkers,
		SweepInterval: cfg.Observation.SweepInterval,
		StaleAfter:    cfg.Observation.StaleAfter,
	}
	queue, err := jobqueue.NewJobQueue(pool, queueCfg, obsService, generator)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	obsService.SetProposalTrigger(queue)

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to stop job queue cleanly")
		}
	}()

	var sender messaging.Sender
	if cfg.Messaging.DeliveryURL != "" {
		sender = messaging.NewWebhookSender(cfg.Messaging.DeliveryURL)
	} else {
		log.Warn().Msg("No delivery_url configured, outbound replies are log-only")
		sender = messaging.NewLogSender()
	}
	sender = messaging.NewRateLimitedSender(sender, cfg.Messaging.RatePerMinute)

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Threads:      threads,
		Classifier:   classifier,
		Drafter:      drafter,
		Observations: obsService,
		Sender:       sender,
		AutoSend: pipeline.AutoSendConfig{
			Enabled:                cfg.AutoSend.Enabled,
			OrderIntentThreshold:   cfg.AutoSend.OrderIntentThreshold,
			GeneralIntentThreshold: cfg.AutoSend.GeneralIntentThreshold,
		},
	})

	fmt.Printf("Starting Deskflow API server on port %d...\n", port)
	server := api.NewServer(port, orchestrator, obsService, proposalSvc, threads)
	return server.Start()
}

// defaultConnector builds the AI connector for the configured default
// provider.
func defaultConnector(ctx context.Context, cfg *config.Config) (*aiconnectors.Connector, error) {
	name := cfg.General.DefaultAI
	section, ok := cfg.AI[name]
	if !ok {
		return nil, fmt.Errorf("configuration for AI provider %s not found", name)
	}
	connector, err := aiconnectors.NewConnector(ctx, aiconnectors.FromConfigSection(name, section))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s connector: %w", name, err)
	}
	return connector, nil
}
