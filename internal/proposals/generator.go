package proposals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/aiconnectors"
	"github.com/deskflow/internal/llm"
	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/retry"
	"github.com/deskflow/internal/thread"
)

// ProposedItem is one suggestion from the summarizer, before persistence.
type ProposedItem struct {
	Type    ProposalType `json:"type"`
	Title   string       `json:"title"`
	Summary string       `json:"summary"`
	Content string       `json:"content"`
}

// Summarizer analyzes a redacted transcript and suggests updates. It only
// ever sees redacted text; redaction happens in the generator before the
// call.
type Summarizer interface {
	ProposeFromTranscript(ctx context.Context, transcript string) ([]ProposedItem, error)
}

// Generator turns one closed observation into zero or more pending
// proposals.
type Generator struct {
	observations observation.Store
	proposals    Store
	threads      thread.Store
	summarizer   Summarizer
}

func NewGenerator(observations observation.Store, proposals Store, threads thread.Store, summarizer Summarizer) *Generator {
	return &Generator{
		observations: observations,
		proposals:    proposals,
		threads:      threads,
		summarizer:   summarizer,
	}
}

// Generate is idempotent per observation: a rerun for an observation that
// already has proposals is a no-op, so at-least-once job delivery is safe.
func (g *Generator) Generate(ctx context.Context, observationID string) ([]*LearningProposal, error) {
	obs, err := g.observations.Get(ctx, observationID)
	if err != nil {
		return nil, fmt.Errorf("load observation: %w", err)
	}
	if obs.InterventionEnd == nil {
		return nil, errors.New("observation is still active")
	}

	existing, err := g.proposals.ListByObservation(ctx, observationID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		log.Debug().Str("observation_id", observationID).Msg("Proposals already generated, skipping")
		return existing, nil
	}

	transcript := buildTranscript(obs)
	if transcript == "" {
		log.Debug().Str("observation_id", observationID).Msg("Empty transcript, nothing to learn")
		return nil, nil
	}

	// Redaction runs before the transcript leaves the process.
	items, err := g.summarizer.ProposeFromTranscript(ctx, Redact(transcript))
	if err != nil {
		return nil, fmt.Errorf("summarize transcript: %w", err)
	}

	var created []*LearningProposal
	for _, item := range items {
		if item.Type != TypeKBArticle && item.Type != TypeInstructionUpdate {
			log.Warn().Str("type", string(item.Type)).Msg("Dropping proposal with unknown type")
			continue
		}
		if strings.TrimSpace(item.Content) == "" {
			continue
		}
		p := &LearningProposal{
			Type:            item.Type,
			Title:           item.Title,
			Summary:         item.Summary,
			ProposedContent: item.Content,
			Status:          StatusPending,
			ObservationID:   observationID,
		}
		if err := g.proposals.Create(ctx, p); err != nil {
			return created, fmt.Errorf("persist proposal: %w", err)
		}
		created = append(created, p)
	}

	if len(created) > 0 {
		ev := &thread.Event{
			ThreadID: obs.ThreadID,
			Type:     thread.EventProposalGenerated,
			Payload:  map[string]any{"observation_id": observationID, "count": len(created)},
		}
		if err := g.threads.AppendEvent(ctx, ev); err != nil {
			log.Error().Err(err).Str("thread_id", obs.ThreadID).Msg("Failed to append proposal event")
		}
	}

	log.Info().
		Str("observation_id", observationID).
		Int("proposals", len(created)).
		Msg("Proposal generation complete")

	return created, nil
}

func buildTranscript(obs *observation.Observation) string {
	var b strings.Builder
	for _, m := range obs.ObservedMessages {
		who := "customer"
		if m.Direction == "outbound" {
			who = "agent"
		}
		b.WriteString(fmt.Sprintf("[%s] %s\n", who, m.Body))
	}
	return strings.TrimSpace(b.String())
}

// LLMSummarizer asks a model for proposals over the redacted transcript.
type LLMSummarizer struct {
	connector *aiconnectors.Connector
	timeout   time.Duration
}

func NewLLMSummarizer(connector *aiconnectors.Connector) *LLMSummarizer {
	return &LLMSummarizer{connector: connector, timeout: 60 * time.Second}
}

const summarizeInstructions = `You review transcripts of customer support conversations that a human
agent handled manually, and suggest reusable knowledge for future automation.

Suggest at most three items. Each is either:
- "kb_article": a knowledge base document answering a question the agent had to answer by hand, or
- "instruction_update": a standing instruction for how drafts should be written.

Only suggest items that generalize beyond this one conversation. If nothing
generalizes, return an empty list.

Respond with a single JSON object and nothing else:
{"proposals": [{"type": "kb_article" | "instruction_update", "title": "...", "summary": "...", "content": "..."}]}`

func (s *LLMSummarizer) ProposeFromTranscript(ctx context.Context, transcript string) ([]ProposedItem, error) {
	prompt := summarizeInstructions + "\n\nTranscript:\n" + transcript + "\n"

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw string
	retryResult := retry.Do(callCtx, retry.LLMConfig(), func() error {
		var err error
		raw, err = s.connector.Call(callCtx, prompt)
		return err
	})
	if !retryResult.Success {
		return nil, fmt.Errorf("summarization call failed after %d attempts: %w",
			retryResult.Attempts, retryResult.LastError)
	}

	return ParseProposals(raw)
}

// ParseProposals decodes the summarizer's response.
func ParseProposals(raw string) ([]ProposedItem, error) {
	var payload struct {
		Proposals []ProposedItem `json:"proposals"`
	}
	if _, err := llm.DecodeResponse(raw, &payload); err != nil {
		return nil, err
	}
	return payload.Proposals, nil
}
