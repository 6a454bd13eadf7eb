// Package messaging is the outbound boundary. Channel adapters (Gmail,
// helpdesk APIs) implement Sender; everything above it only knows about
// OutboundMessage.
package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// OutboundMessage is one reply to deliver to a customer.
type OutboundMessage struct {
	ThreadID   string `json:"thread_id"`
	ExternalID string `json:"external_id,omitempty"`
	Channel    string `json:"channel"`
	To         string `json:"to"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
}

// SendResult reports the delivery outcome of one message.
type SendResult struct {
	MessageID string `json:"message_id"`
	Duplicate bool   `json:"duplicate"`
}

// Sender delivers outbound messages. Implementations must be idempotent on
// ExternalID: resending the same external id reports Duplicate instead of
// delivering twice.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

// RateLimitedSender wraps a Sender with a token-bucket rate limit so a
// burst of auto-sends cannot flood a channel's API.
type RateLimitedSender struct {
	inner   Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender allows ratePerMinute sends per minute with a burst
// of one.
func NewRateLimitedSender(inner Sender, ratePerMinute int) *RateLimitedSender {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimitedSender{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), 1),
	}
}

func (s *RateLimitedSender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return SendResult{}, err
	}
	return s.inner.Send(ctx, msg)
}

// MemorySender records sends in memory for tests.
type MemorySender struct {
	mu       sync.Mutex
	sent     []OutboundMessage
	seen     map[string]string // external id -> message id
	FailWith error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{seen: make(map[string]string)}
}

func (s *MemorySender) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return SendResult{}, s.FailWith
	}
	if msg.ExternalID != "" {
		if id, ok := s.seen[msg.ExternalID]; ok {
			return SendResult{MessageID: id, Duplicate: true}, nil
		}
	}
	id := uuid.NewString()
	if msg.ExternalID != "" {
		s.seen[msg.ExternalID] = id
	}
	s.sent = append(s.sent, msg)
	return SendResult{MessageID: id}, nil
}

// Sent returns a copy of everything delivered so far, oldest first.
func (s *MemorySender) Sent() []OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboundMessage(nil), s.sent...)
}
