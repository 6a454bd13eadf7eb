package proposals

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/thread"
)

type stubSummarizer struct {
	items      []ProposedItem
	transcript string
	err        error
}

func (s *stubSummarizer) ProposeFromTranscript(ctx context.Context, transcript string) ([]ProposedItem, error) {
	s.transcript = transcript
	return s.items, s.err
}

func closedObservation(t *testing.T, store observation.Store, messages []observation.ObservedMessage) *observation.Observation {
	t.Helper()
	ctx := context.Background()
	obs := &observation.Observation{ThreadID: "thread-1", Handler: "casey", Channel: "email"}
	if err := store.Create(ctx, obs); err != nil {
		t.Fatalf("create observation: %v", err)
	}
	for _, m := range messages {
		if err := store.AppendObserved(ctx, obs.ID, m); err != nil {
			t.Fatalf("append observed: %v", err)
		}
	}
	if err := store.Close(ctx, obs.ID, time.Now(), observation.ResolutionResolved, "handled"); err != nil {
		t.Fatalf("close observation: %v", err)
	}
	return obs
}

func TestGenerateCreatesPendingProposals(t *testing.T) {
	observations := observation.NewInMemoryStore()
	proposalStore := NewInMemoryStore()
	threads := thread.NewInMemoryStore()
	summarizer := &stubSummarizer{items: []ProposedItem{
		{Type: TypeKBArticle, Title: "Gift wrap", Summary: "We offer gift wrap", Content: "Gift wrap costs $5 per item."},
		{Type: TypeInstructionUpdate, Title: "Tone", Summary: "Tone guidance", Content: "Always confirm the customer's next step."},
	}}

	obs := closedObservation(t, observations, []observation.ObservedMessage{
		{Direction: "inbound", Body: "Do you offer gift wrap?"},
		{Direction: "outbound", From: "casey", Body: "Yes, gift wrap is $5 per item."},
	})

	gen := NewGenerator(observations, proposalStore, threads, summarizer)
	created, err := gen.Generate(context.Background(), obs.ID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(created))
	}
	for _, p := range created {
		if p.Status != StatusPending {
			t.Errorf("proposal %s should start pending, got %s", p.ID, p.Status)
		}
		if p.ObservationID != obs.ID {
			t.Errorf("proposal not linked to observation: %s", p.ObservationID)
		}
	}
}

func TestGenerateRedactsTranscriptBeforeSummarizer(t *testing.T) {
	observations := observation.NewInMemoryStore()
	summarizer := &stubSummarizer{}
	obs := closedObservation(t, observations, []observation.ObservedMessage{
		{Direction: "inbound", Body: "My email is jane@example.com and my order is #10045."},
	})

	gen := NewGenerator(observations, NewInMemoryStore(), thread.NewInMemoryStore(), summarizer)
	if _, err := gen.Generate(context.Background(), obs.ID); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if strings.Contains(summarizer.transcript, "jane@example.com") {
		t.Error("email crossed the process boundary unredacted")
	}
	if strings.Contains(summarizer.transcript, "#10045") {
		t.Error("order number crossed the process boundary unredacted")
	}
}

func TestGenerateIsIdempotentPerObservation(t *testing.T) {
	observations := observation.NewInMemoryStore()
	proposalStore := NewInMemoryStore()
	summarizer := &stubSummarizer{items: []ProposedItem{
		{Type: TypeKBArticle, Title: "T", Summary: "S", Content: "C"},
	}}
	obs := closedObservation(t, observations, []observation.ObservedMessage{{Direction: "inbound", Body: "hi"}})

	gen := NewGenerator(observations, proposalStore, thread.NewInMemoryStore(), summarizer)
	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(context.Background(), obs.ID); err != nil {
			t.Fatalf("Generate run %d failed: %v", i, err)
		}
	}

	all, err := proposalStore.ListByObservation(context.Background(), obs.ID)
	if err != nil {
		t.Fatalf("ListByObservation failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("rerun should not duplicate proposals, got %d", len(all))
	}
}

func TestGenerateRejectsActiveObservation(t *testing.T) {
	observations := observation.NewInMemoryStore()
	obs := &observation.Observation{ThreadID: "thread-1", Handler: "casey"}
	if err := observations.Create(context.Background(), obs); err != nil {
		t.Fatalf("create observation: %v", err)
	}

	gen := NewGenerator(observations, NewInMemoryStore(), thread.NewInMemoryStore(), &stubSummarizer{})
	if _, err := gen.Generate(context.Background(), obs.ID); err == nil {
		t.Fatal("generating from an active observation must fail")
	}
}

func TestGenerateDropsUnknownProposalTypes(t *testing.T) {
	observations := observation.NewInMemoryStore()
	summarizer := &stubSummarizer{items: []ProposedItem{
		{Type: "marketing_blast", Title: "Nope", Summary: "n", Content: "n"},
		{Type: TypeKBArticle, Title: "Keep", Summary: "s", Content: "c"},
	}}
	obs := closedObservation(t, observations, []observation.ObservedMessage{{Direction: "inbound", Body: "hi"}})

	gen := NewGenerator(observations, NewInMemoryStore(), thread.NewInMemoryStore(), summarizer)
	created, err := gen.Generate(context.Background(), obs.ID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(created) != 1 || created[0].Title != "Keep" {
		t.Errorf("unknown type should be dropped, got %+v", created)
	}
}

func TestGenerateEmptyTranscriptProducesNothing(t *testing.T) {
	observations := observation.NewInMemoryStore()
	summarizer := &stubSummarizer{items: []ProposedItem{{Type: TypeKBArticle, Title: "T", Summary: "S", Content: "C"}}}
	obs := closedObservation(t, observations, nil)

	gen := NewGenerator(observations, NewInMemoryStore(), thread.NewInMemoryStore(), summarizer)
	created, err := gen.Generate(context.Background(), obs.ID)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("empty transcript should yield no proposals, got %d", len(created))
	}
	if summarizer.transcript != "" {
		t.Error("summarizer should not be called for an empty transcript")
	}
}

func TestParseProposalsDecodesEnvelope(t *testing.T) {
	raw := "```json\n{\"proposals\": [{\"type\": \"kb_article\", \"title\": \"Gift wrap\", \"summary\": \"s\", \"content\": \"c\"}]}\n```"
	items, err := ParseProposals(raw)
	if err != nil {
		t.Fatalf("ParseProposals failed: %v", err)
	}
	if len(items) != 1 || items[0].Type != TypeKBArticle {
		t.Errorf("unexpected items: %+v", items)
	}
}
