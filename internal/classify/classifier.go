// Package classify turns inbound customer messages into a typed intent
// with a confidence score, using an LLM collaborator behind a small
// interface so the pipeline can run against a stub in tests.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/aiconnectors"
	"github.com/deskflow/internal/llm"
	"github.com/deskflow/internal/retry"
	"github.com/deskflow/internal/thread"
)

// Result is the outcome of classifying one inbound message.
type Result struct {
	Intent           thread.Intent `json:"intent"`
	Confidence       float64       `json:"confidence"`
	MissingInfoHints []string      `json:"missing_info_hints,omitempty"`
	Reasoning        string        `json:"reasoning,omitempty"`
}

// Classifier assigns an intent to an inbound message given the thread history.
type Classifier interface {
	Classify(ctx context.Context, subject, body string, history []thread.Message) (Result, error)
}

// Fallback is what the pipeline uses when classification fails outright.
// Unclassified at zero confidence routes the thread to a human.
func Fallback() Result {
	return Result{Intent: thread.IntentUnclassified, Confidence: 0}
}

// LLMClassifier classifies messages through an AI connector.
type LLMClassifier struct {
	connector *aiconnectors.Connector
	timeout   time.Duration
}

// NewLLMClassifier creates a classifier backed by the given connector.
func NewLLMClassifier(connector *aiconnectors.Connector) *LLMClassifier {
	return &LLMClassifier{
		connector: connector,
		timeout:   45 * time.Second,
	}
}

// Classify sends the message plus recent history to the LLM and parses
// the structured verdict. Model output that is not valid JSON goes
// through the repair pipeline before we give up on it.
func (c *LLMClassifier) Classify(ctx context.Context, subject, body string, history []thread.Message) (Result, error) {
	prompt := buildClassifyPrompt(subject, body, history)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw string
	retryResult := retry.Do(callCtx, retry.LLMConfig(), func() error {
		var err error
		raw, err = c.connector.Call(callCtx, prompt)
		return err
	})
	if !retryResult.Success {
		return Result{}, fmt.Errorf("classification call failed after %d attempts: %w",
			retryResult.Attempts, retryResult.LastError)
	}

	result, err := ParseClassification(raw)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse classification: %w", err)
	}

	log.Debug().
		Str("intent", string(result.Intent)).
		Float64("confidence", result.Confidence).
		Int("attempts", retryResult.Attempts).
		Msg("Message classified")

	return result, nil
}

// ParseClassification decodes a raw model response into a Result,
// normalizing the intent and clamping confidence to [0, 1].
func ParseClassification(raw string) (Result, error) {
	var payload struct {
		Intent           string   `json:"intent"`
		Confidence       float64  `json:"confidence"`
		MissingInfoHints []string `json:"missing_info_hints"`
		Reasoning        string   `json:"reasoning"`
	}

	stats, err := llm.DecodeResponse(raw, &payload)
	if err != nil {
		return Result{}, err
	}
	if stats.WasRepaired {
		log.Debug().Strs("strategies", stats.Strategies).Msg("Repaired classification JSON")
	}

	intent := thread.Intent(strings.ToLower(strings.TrimSpace(payload.Intent)))
	if !thread.ValidIntent(intent) {
		intent = thread.IntentUnclassified
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Intent:           intent,
		Confidence:       confidence,
		MissingInfoHints: payload.MissingInfoHints,
		Reasoning:        payload.Reasoning,
	}, nil
}
