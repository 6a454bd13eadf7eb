package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/deskflow/internal/config"
	"github.com/deskflow/internal/database"
	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/thread"
)

// SweepCommand returns the CLI command for a one-shot stale-handoff sweep.
// The API server runs the same sweep periodically; this exists for operators
// who want to force a pass, or to run sweeps from cron without the server.
func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Close stale human-handled threads",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Override the configured staleness window",
			},
		},
		Action: runSweep,
	}
}

func runSweep(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	staleAfter := cfg.Observation.StaleAfter
	if c.IsSet("older-than") {
		staleAfter = c.Duration("older-than")
	}
	if staleAfter <= 0 {
		return fmt.Errorf("staleness window must be positive, got %s", staleAfter)
	}

	db, err := database.NewDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	svc := observation.NewService(observation.NewPostgresStore(db), thread.NewPostgresStore(db), nil)
	closed, err := svc.SweepStale(ctx, staleAfter)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("Closed %d stale handoff(s)\n", len(closed))
	for _, obs := range closed {
		fmt.Printf("  thread %s (handler %s, last activity %s)\n",
			obs.ThreadID, obs.Handler, obs.LastActivityAt.Format(time.RFC3339))
	}
	return nil
}
