package observation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/thread"
)

// ErrNotActive is returned when an exit or record call arrives for a thread
// no human is handling. It indicates a signal-detection bug upstream, so it
// is surfaced rather than swallowed.
var ErrNotActive = errors.New("no active observation for thread")

// ProposalTrigger kicks off learning-proposal generation for a closed
// observation. The job queue implements this; tests use a recording stub.
type ProposalTrigger interface {
	TriggerProposalGeneration(ctx context.Context, observationID string) error
}

// Service arbitrates human vs automated control of threads.
type Service struct {
	observations Store
	threads      thread.Store
	trigger      ProposalTrigger
	now          func() time.Time
}

func NewService(observations Store, threads thread.Store, trigger ProposalTrigger) *Service {
	return &Service{
		observations: observations,
		threads:      threads,
		trigger:      trigger,
		now:          time.Now,
	}
}

// SetProposalTrigger binds the proposal trigger after construction. The
// job queue needs this service to exist before it can be built, so the
// trigger is wired late.
func (s *Service) SetProposalTrigger(t ProposalTrigger) {
	s.trigger = t
}

// Enter suspends automated handling: the thread moves to HUMAN_HANDLING and
// an observation opens. A signal for a thread already under observation is
// a duplicate detection and collapses into a no-op.
func (s *Service) Enter(ctx context.Context, signal InterventionSignal) (*Observation, error) {
	t, err := s.threads.GetThread(ctx, signal.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	start := signal.DetectedAt
	if start.IsZero() {
		start = s.now()
	}

	obs := &Observation{
		ThreadID:          signal.ThreadID,
		InterventionStart: start,
		Handler:           signal.Handler,
		Channel:           signal.Channel,
	}
	if err := s.observations.Create(ctx, obs); err != nil {
		if errors.Is(err, ErrActiveExists) {
			log.Debug().Str("thread_id", signal.ThreadID).Msg("Duplicate intervention signal ignored")
			return s.observations.ActiveForThread(ctx, signal.ThreadID)
		}
		return nil, fmt.Errorf("create observation: %w", err)
	}

	t.State = thread.StateHumanHandling
	t.HumanHandling = true
	t.HumanHandler = signal.Handler
	if err := s.threads.UpdateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}

	s.appendEvent(ctx, signal.ThreadID, thread.EventHumanTakeover, map[string]any{
		"observation_id": obs.ID,
		"handler":        signal.Handler,
		"source":         string(signal.Source),
	})

	log.Info().
		Str("thread_id", signal.ThreadID).
		Str("handler", signal.Handler).
		Str("source", string(signal.Source)).
		Msg("Human takeover, automated handling suspended")

	return obs, nil
}

// Record appends a message to the active observation transcript. Called by
// the pipeline instead of its decision steps while a human holds the thread.
func (s *Service) Record(ctx context.Context, threadID string, msg ObservedMessage) error {
	obs, err := s.observations.ActiveForThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotActive
		}
		return err
	}
	return s.observations.AppendObserved(ctx, obs.ID, msg)
}

// Exit closes the active observation, maps the resolution to the thread's
// next state, and triggers proposal generation best-effort. Exiting a
// thread with no active observation is an error.
func (s *Service) Exit(ctx context.Context, threadID string, resolution Resolution) (*Observation, error) {
	if !ValidResolution(resolution.Type) {
		return nil, fmt.Errorf("invalid resolution type %q", resolution.Type)
	}

	obs, err := s.observations.ActiveForThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotActive
		}
		return nil, err
	}

	return s.close(ctx, obs, resolution, resolutionState(resolution.Type))
}

// SweepStale force-closes observations with no operator activity since the
// cutoff. The thread goes to ESCALATED rather than quietly back to an
// automated state, so the dropped handoff lands in a human review queue.
func (s *Service) SweepStale(ctx context.Context, olderThan time.Duration) ([]*Observation, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.observations.ListActiveBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var closed []*Observation
	for _, obs := range stale {
		res := Resolution{
			Type:    ResolutionStaleTimeout,
			Summary: fmt.Sprintf("no operator activity since %s", obs.LastActivityAt.Format(time.RFC3339)),
		}
		done, err := s.close(ctx, obs, res, thread.StateEscalated)
		if err != nil {
			log.Error().Err(err).Str("observation_id", obs.ID).Msg("Failed to close stale observation")
			continue
		}
		closed = append(closed, done)

		log.Warn().
			Str("thread_id", obs.ThreadID).
			Str("handler", obs.Handler).
			Time("last_activity", obs.LastActivityAt).
			Msg("Stale handoff force-closed")
	}
	return closed, nil
}

func (s *Service) close(ctx context.Context, obs *Observation, resolution Resolution, nextState thread.State) (*Observation, error) {
	end := s.now()
	if err := s.observations.Close(ctx, obs.ID, end, resolution.Type, resolution.Summary); err != nil {
		return nil, fmt.Errorf("close observation: %w", err)
	}

	t, err := s.threads.GetThread(ctx, obs.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	t.State = nextState
	t.HumanHandling = false
	t.HumanHandler = ""
	if err := s.threads.UpdateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}

	eventType := thread.EventHumanReturn
	if resolution.Type == ResolutionStaleTimeout {
		eventType = thread.EventStaleHandoff
	}
	s.appendEvent(ctx, obs.ThreadID, eventType, map[string]any{
		"observation_id": obs.ID,
		"resolution":     string(resolution.Type),
		"next_state":     string(nextState),
	})

	// Proposal generation is advisory; its failure never blocks the exit.
	if s.trigger != nil {
		if err := s.trigger.TriggerProposalGeneration(ctx, obs.ID); err != nil {
			log.Error().Err(err).Str("observation_id", obs.ID).Msg("Failed to trigger proposal generation")
		}
	}

	obs.InterventionEnd = &end
	obs.ResolutionType = resolution.Type
	obs.ResolutionSummary = resolution.Summary
	return obs, nil
}

func (s *Service) appendEvent(ctx context.Context, threadID, eventType string, payload map[string]any) {
	ev := &thread.Event{ThreadID: threadID, Type: eventType, Payload: payload}
	if err := s.threads.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Str("type", eventType).Msg("Failed to append event")
	}
}

func resolutionState(r ResolutionType) thread.State {
	switch r {
	case ResolutionResolved:
		return thread.StateResolved
	case ResolutionEscalatedFurther, ResolutionTransferred:
		return thread.StateEscalated
	case ResolutionReturnedToAgent:
		return thread.StateInProgress
	default:
		return thread.StateEscalated
	}
}
