package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebhookSender posts outbound messages to a channel adapter endpoint as
// JSON. The receiving adapter owns actual delivery (SMTP, helpdesk API).
// Sends are deduplicated on ExternalID so a retried pipeline run does not
// deliver the same reply twice.
type WebhookSender struct {
	url    string
	client *http.Client

	mu   sync.Mutex
	seen map[string]string // external id -> message id
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		seen:   make(map[string]string),
	}
}

func (s *WebhookSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if msg.ExternalID != "" {
		s.mu.Lock()
		if id, ok := s.seen[msg.ExternalID]; ok {
			s.mu.Unlock()
			return SendResult{MessageID: id, Duplicate: true}, nil
		}
		s.mu.Unlock()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to encode outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("delivery endpoint returned status %d", resp.StatusCode)
	}

	id := uuid.NewString()
	if msg.ExternalID != "" {
		s.mu.Lock()
		s.seen[msg.ExternalID] = id
		s.mu.Unlock()
	}

	log.Info().
		Str("thread_id", msg.ThreadID).
		Str("channel", msg.Channel).
		Str("message_id", id).
		Msg("Delivered outbound message")

	return SendResult{MessageID: id}, nil
}

// LogSender logs outbound messages instead of delivering them. Used when no
// delivery endpoint is configured, so drafts can be exercised end to end
// without a live channel adapter.
type LogSender struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewLogSender() *LogSender {
	return &LogSender{seen: make(map[string]string)}
}

func (s *LogSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ExternalID != "" {
		if id, ok := s.seen[msg.ExternalID]; ok {
			return SendResult{MessageID: id, Duplicate: true}, nil
		}
	}
	id := uuid.NewString()
	if msg.ExternalID != "" {
		s.seen[msg.ExternalID] = id
	}
	log.Info().
		Str("thread_id", msg.ThreadID).
		Str("channel", msg.Channel).
		Str("to", msg.To).
		Msg("Outbound message (log-only delivery)")
	return SendResult{MessageID: id}, nil
}
