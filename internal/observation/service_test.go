package observation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskflow/internal/thread"
)

type recordingTrigger struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingTrigger) TriggerProposalGeneration(ctx context.Context, observationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, observationID)
	return nil
}

func newTestService(t *testing.T) (*Service, *thread.InMemoryStore, *InMemoryStore, *recordingTrigger) {
	t.Helper()
	threads := thread.NewInMemoryStore()
	observations := NewInMemoryStore()
	trigger := &recordingTrigger{}
	return NewService(observations, threads, trigger), threads, observations, trigger
}

func seedThread(t *testing.T, threads *thread.InMemoryStore, state thread.State) *thread.Thread {
	t.Helper()
	tr := &thread.Thread{Channel: "email", Subject: "order question", State: state}
	if err := threads.CreateThread(context.Background(), tr); err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	if state != thread.StateNew {
		tr.State = state
		if err := threads.UpdateThread(context.Background(), tr); err != nil {
			t.Fatalf("set state: %v", err)
		}
	}
	return tr
}

func TestEnterOpensObservationAndSuspendsThread(t *testing.T) {
	svc, threads, _, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)

	obs, err := svc.Enter(context.Background(), InterventionSignal{
		ThreadID: tr.ID, Handler: "casey", Channel: "email", Source: SourceAdminTakeover,
	})
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if obs.InterventionEnd != nil {
		t.Error("new observation should be active")
	}

	got, err := threads.GetThread(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.State != thread.StateHumanHandling || !got.HumanHandling {
		t.Errorf("thread should be human handling, got state=%s flag=%v", got.State, got.HumanHandling)
	}
	if got.HumanHandler != "casey" {
		t.Errorf("handler not recorded: %q", got.HumanHandler)
	}
}

func TestEnterDuplicateSignalIsNoOp(t *testing.T) {
	svc, threads, observations, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)

	first, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply})
	if err != nil {
		t.Fatalf("first Enter failed: %v", err)
	}
	second, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceTicketUpdate})
	if err != nil {
		t.Fatalf("duplicate Enter should not error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate signal should return the existing observation: %s vs %s", second.ID, first.ID)
	}

	// Only one active observation may exist per thread.
	if _, err := observations.ActiveForThread(context.Background(), tr.ID); err != nil {
		t.Fatalf("active observation lookup failed: %v", err)
	}
}

func TestSingleActiveObservationInvariant(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Observation{ThreadID: "t1", Handler: "a"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := store.Create(ctx, &Observation{ThreadID: "t1", Handler: "b"})
	if !errors.Is(err, ErrActiveExists) {
		t.Fatalf("expected ErrActiveExists, got %v", err)
	}
}

func TestRecordAppendsToActiveObservation(t *testing.T) {
	svc, threads, observations, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)

	obs, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply})
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	if err := svc.Record(context.Background(), tr.ID, ObservedMessage{Direction: "outbound", From: "casey", Body: "I'll handle this one."}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := observations.Get(context.Background(), obs.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.ObservedMessages) != 1 || got.ObservedMessages[0].Body != "I'll handle this one." {
		t.Errorf("observed transcript wrong: %+v", got.ObservedMessages)
	}
}

func TestRecordWithoutActiveObservationErrors(t *testing.T) {
	svc, threads, _, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)

	err := svc.Record(context.Background(), tr.ID, ObservedMessage{Body: "hello"})
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestExitResolutionMapping(t *testing.T) {
	cases := []struct {
		resolution ResolutionType
		wantState  thread.State
	}{
		{ResolutionResolved, thread.StateResolved},
		{ResolutionEscalatedFurther, thread.StateEscalated},
		{ResolutionTransferred, thread.StateEscalated},
		{ResolutionReturnedToAgent, thread.StateInProgress},
	}

	for _, tc := range cases {
		t.Run(string(tc.resolution), func(t *testing.T) {
			svc, threads, _, _ := newTestService(t)
			tr := seedThread(t, threads, thread.StateInProgress)
			if _, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply}); err != nil {
				t.Fatalf("Enter failed: %v", err)
			}

			obs, err := svc.Exit(context.Background(), tr.ID, Resolution{Type: tc.resolution, Summary: "done"})
			if err != nil {
				t.Fatalf("Exit failed: %v", err)
			}
			if obs.InterventionEnd == nil {
				t.Error("observation should be closed")
			}

			got, err := threads.GetThread(context.Background(), tr.ID)
			if err != nil {
				t.Fatalf("GetThread failed: %v", err)
			}
			if got.State != tc.wantState {
				t.Errorf("state = %s, want %s", got.State, tc.wantState)
			}
			if got.HumanHandling {
				t.Error("human_handling should clear on exit")
			}
		})
	}
}

func TestExitInactiveObservationErrors(t *testing.T) {
	svc, threads, _, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)

	_, err := svc.Exit(context.Background(), tr.ID, Resolution{Type: ResolutionResolved})
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestExitRejectsStaleTimeoutResolution(t *testing.T) {
	svc, threads, _, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)
	if _, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply}); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	if _, err := svc.Exit(context.Background(), tr.ID, Resolution{Type: ResolutionStaleTimeout}); err == nil {
		t.Fatal("stale_timeout must be reserved for the sweep")
	}
}

func TestExitTriggersProposalGeneration(t *testing.T) {
	svc, threads, _, trigger := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)
	obs, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply})
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	if _, err := svc.Exit(context.Background(), tr.ID, Resolution{Type: ResolutionResolved}); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
	if len(trigger.ids) != 1 || trigger.ids[0] != obs.ID {
		t.Errorf("proposal generation not triggered for %s: %v", obs.ID, trigger.ids)
	}
}

func TestExitSucceedsWhenTriggerFails(t *testing.T) {
	svc, threads, _, trigger := newTestService(t)
	trigger.err = errors.New("queue down")
	tr := seedThread(t, threads, thread.StateInProgress)
	if _, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply}); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	if _, err := svc.Exit(context.Background(), tr.ID, Resolution{Type: ResolutionResolved}); err != nil {
		t.Fatalf("Exit must not fail when proposal trigger fails: %v", err)
	}
}

func TestSweepStaleForceClosesAndEscalates(t *testing.T) {
	threads := thread.NewInMemoryStore()
	observations := NewInMemoryStore()
	trigger := &recordingTrigger{}
	svc := NewService(observations, threads, trigger)

	tr := seedThread(t, threads, thread.StateInProgress)
	if _, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply}); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	// Move the clock past the stale window.
	svc.now = func() time.Time { return time.Now().Add(72 * time.Hour) }

	closed, err := svc.SweepStale(context.Background(), 48*time.Hour)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("expected one force-closed observation, got %d", len(closed))
	}
	if closed[0].ResolutionType != ResolutionStaleTimeout {
		t.Errorf("resolution = %s, want stale_timeout", closed[0].ResolutionType)
	}

	got, err := threads.GetThread(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.State != thread.StateEscalated {
		t.Errorf("stale thread should escalate, got %s", got.State)
	}
	if got.HumanHandling {
		t.Error("human_handling should clear on stale close")
	}
}

func TestSweepStaleIgnoresFreshObservations(t *testing.T) {
	svc, threads, _, _ := newTestService(t)
	tr := seedThread(t, threads, thread.StateInProgress)
	if _, err := svc.Enter(context.Background(), InterventionSignal{ThreadID: tr.ID, Handler: "casey", Source: SourceDirectReply}); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	closed, err := svc.SweepStale(context.Background(), 48*time.Hour)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if len(closed) != 0 {
		t.Errorf("fresh observation should survive the sweep, closed %d", len(closed))
	}
}
