package pipeline

import (
	"github.com/deskflow/internal/policy"
	"github.com/deskflow/internal/thread"
)

// VerificationStatus is the customer/order verification state supplied by
// the commerce integration at ingest time.
type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationUnverified VerificationStatus = "unverified"
)

// AutoSendConfig gates sending a draft without human review.
type AutoSendConfig struct {
	Enabled bool // master toggle

	// Confidence floors. Order-affecting intents require materially higher
	// confidence than general questions.
	OrderIntentThreshold   float64
	GeneralIntentThreshold float64
}

func DefaultAutoSendConfig() AutoSendConfig {
	return AutoSendConfig{
		Enabled:                false,
		OrderIntentThreshold:   0.90,
		GeneralIntentThreshold: 0.75,
	}
}

// orderAffecting reports whether acting on the intent can change an order,
// money, or shipping state.
func orderAffecting(intent thread.Intent) bool {
	switch intent {
	case thread.IntentReturnRequest, thread.IntentCancellation, thread.IntentExchange,
		thread.IntentAddressChange, thread.IntentShippingIssue, thread.IntentWarrantyClaim:
		return true
	}
	return false
}

// ShouldAutoSend decides whether a draft may go out without human review.
// Every condition is conjunctive; any single failure withholds the draft for
// manual review. There is no partial or best-effort send.
func (c AutoSendConfig) ShouldAutoSend(intent thread.Intent, confidence float64, verification VerificationStatus, verdict policy.Verdict) bool {
	if !c.Enabled {
		return false
	}
	if !verdict.OK {
		return false
	}

	threshold := c.GeneralIntentThreshold
	if orderAffecting(intent) {
		threshold = c.OrderIntentThreshold
	}
	if confidence < threshold {
		return false
	}

	if orderAffecting(intent) && verification != VerificationVerified {
		return false
	}

	return true
}
