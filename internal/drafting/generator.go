// Package drafting composes candidate replies to customer messages. Drafts
// are never sent from here; the pipeline decides whether a draft goes out
// automatically, waits for review, or rides along with an escalation.
package drafting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/aiconnectors"
	"github.com/deskflow/internal/kb"
	"github.com/deskflow/internal/llm"
	"github.com/deskflow/internal/retry"
	"github.com/deskflow/internal/thread"
)

// Request carries everything the generator needs to write one draft.
type Request struct {
	ThreadID         string           `json:"thread_id"`
	CustomerMessage  string           `json:"customer_message"`
	Intent           thread.Intent    `json:"intent"`
	PreviousMessages []thread.Message `json:"previous_messages,omitempty"`
	CustomerInfo     string           `json:"customer_info,omitempty"`
	OrderContext     string           `json:"order_context,omitempty"`
	CustomerContext  string           `json:"customer_context,omitempty"`
}

// Result is the outcome of one draft-generation attempt. Error is carried
// as a value so the pipeline's fallback branch is a normal code path.
type Result struct {
	Success    bool     `json:"success"`
	Draft      string   `json:"draft,omitempty"`
	KBDocsUsed []string `json:"kb_docs_used,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Generator produces a candidate reply for one inbound message.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// LLMGenerator drafts replies through an AI connector, grounding them on
// knowledge-base articles and standing operator instructions.
type LLMGenerator struct {
	connector *aiconnectors.Connector
	kb        kb.Searcher
	timeout   time.Duration
}

func NewLLMGenerator(connector *aiconnectors.Connector, searcher kb.Searcher) *LLMGenerator {
	return &LLMGenerator{
		connector: connector,
		kb:        searcher,
		timeout:   60 * time.Second,
	}
}

// Generate retrieves relevant kb articles, builds the prompt, and calls the
// model with retries. KB retrieval failure degrades to an ungrounded draft
// rather than failing the run.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	var articles []*kb.Article
	var instructions []*kb.Instruction

	if g.kb != nil {
		var err error
		articles, err = g.kb.Search(ctx, req.CustomerMessage, 3)
		if err != nil {
			log.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("KB search failed, drafting without articles")
		}
		instructions, err = g.kb.ActiveInstructions(ctx)
		if err != nil {
			log.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("Failed to load operator instructions")
		}
	}

	prompt := buildDraftPrompt(req, articles, instructions)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var raw string
	retryResult := retry.Do(callCtx, retry.LLMConfig(), func() error {
		var err error
		raw, err = g.connector.Call(callCtx, prompt)
		return err
	})
	if !retryResult.Success {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("draft generation failed after %d attempts: %v", retryResult.Attempts, retryResult.LastError),
		}, nil
	}

	draft, err := ParseDraft(raw)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("failed to parse draft: %v", err)}, nil
	}

	docs := make([]string, 0, len(articles))
	for _, a := range articles {
		docs = append(docs, a.ID)
	}

	log.Debug().
		Str("thread_id", req.ThreadID).
		Int("kb_docs", len(docs)).
		Int("attempts", retryResult.Attempts).
		Msg("Draft generated")

	return Result{Success: true, Draft: draft, KBDocsUsed: docs}, nil
}

// ParseDraft decodes a raw model response into the draft text. Models that
// return the reply as plain prose instead of the asked-for JSON envelope
// are tolerated.
func ParseDraft(raw string) (string, error) {
	var payload struct {
		Draft string `json:"draft"`
	}
	if _, err := llm.DecodeResponse(raw, &payload); err == nil && payload.Draft != "" {
		return payload.Draft, nil
	}

	trimmed := llm.StripFences(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty draft response")
	}
	return trimmed, nil
}
