// Package jobqueue provides the River-based background job system: the
// periodic stale-handoff sweep and post-observation proposal generation.
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/proposals"
)

// StaleHandoffSweepArgs is the periodic sweep job. It carries no payload;
// the sweep always scans everything active past the timeout.
type StaleHandoffSweepArgs struct{}

func (StaleHandoffSweepArgs) Kind() string { return "stale_handoff_sweep" }

// StaleHandoffSweepWorker force-closes observations whose handler went
// quiet, returning the thread to the escalation queue.
type StaleHandoffSweepWorker struct {
	river.WorkerDefaults[StaleHandoffSweepArgs]
	observations *observation.Service
	config       *QueueConfig
}

func (w *StaleHandoffSweepWorker) Work(ctx context.Context, job *river.Job[StaleHandoffSweepArgs]) error {
	closed, err := w.observations.SweepStale(ctx, w.config.StaleAfter)
	if err != nil {
		return fmt.Errorf("stale handoff sweep: %w", err)
	}
	if len(closed) > 0 {
		log.Info().Int("closed", len(closed)).Msg("Stale handoff sweep finished")
	}
	return nil
}

// ProposalGenerationArgs generates learning proposals for one closed
// observation.
type ProposalGenerationArgs struct {
	ObservationID string `json:"observation_id"`
}

func (ProposalGenerationArgs) Kind() string { return "proposal_generation" }

// ProposalGenerationWorker runs the generator for a closed observation.
// The generator is idempotent per observation, so River's at-least-once
// delivery is safe.
type ProposalGenerationWorker struct {
	river.WorkerDefaults[ProposalGenerationArgs]
	generator *proposals.Generator
}

func (w *ProposalGenerationWorker) Work(ctx context.Context, job *river.Job[ProposalGenerationArgs]) error {
	created, err := w.generator.Generate(ctx, job.Args.ObservationID)
	if err != nil {
		return fmt.Errorf("proposal generation for %s: %w", job.Args.ObservationID, err)
	}
	log.Debug().
		Str("observation_id", job.Args.ObservationID).
		Int("proposals", len(created)).
		Msg("Proposal generation job finished")
	return nil
}

// JobQueue manages the River job queue.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates the queue with both workers registered and the sweep
// scheduled periodically.
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig, observations *observation.Service, generator *proposals.Generator) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &StaleHandoffSweepWorker{observations: observations, config: config})
	river.AddWorker(workers, &ProposalGenerationWorker{generator: generator})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(config.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return StaleHandoffSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// TriggerProposalGeneration queues proposal generation for a closed
// observation. Implements the observation service's trigger interface.
func (jq *JobQueue) TriggerProposalGeneration(ctx context.Context, observationID string) error {
	_, err := jq.client.Insert(ctx, ProposalGenerationArgs{ObservationID: observationID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue proposal generation: %w", err)
	}
	return nil
}
