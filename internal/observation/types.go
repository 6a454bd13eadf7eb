// Package observation is the human-takeover overlay. While an observation
// is active the orchestrator leaves the thread alone; this package records
// what the human did and hands the transcript to proposal generation when
// the intervention ends.
package observation

import "time"

// SignalSource says how a human intervention was detected.
type SignalSource string

const (
	SourceDirectReply   SignalSource = "direct_reply"
	SourceTicketUpdate  SignalSource = "ticket_update"
	SourceAdminTakeover SignalSource = "admin_takeover"
)

// InterventionSignal is the normalized form of every "a human took over"
// trigger, regardless of where it was detected.
type InterventionSignal struct {
	ThreadID   string       `json:"thread_id"`
	Handler    string       `json:"handler"`
	Channel    string       `json:"channel"`
	Source     SignalSource `json:"source"`
	DetectedAt time.Time    `json:"detected_at"`
}

// ResolutionType says how a human intervention ended.
type ResolutionType string

const (
	ResolutionResolved        ResolutionType = "resolved"
	ResolutionEscalatedFurther ResolutionType = "escalated_further"
	ResolutionTransferred     ResolutionType = "transferred"
	ResolutionReturnedToAgent ResolutionType = "returned_to_agent"
	ResolutionStaleTimeout    ResolutionType = "stale_timeout"
)

// ValidResolution reports whether r is a resolution the exit path accepts.
// stale_timeout is reserved for the sweep and rejected on explicit exits.
func ValidResolution(r ResolutionType) bool {
	switch r {
	case ResolutionResolved, ResolutionEscalatedFurther, ResolutionTransferred, ResolutionReturnedToAgent:
		return true
	}
	return false
}

// Resolution is the normalized form of every "the human is done" trigger.
type Resolution struct {
	Type    ResolutionType `json:"type"`
	Summary string         `json:"summary,omitempty"`
	Handler string         `json:"handler,omitempty"`
}

// ObservedMessage is one message exchanged while a human held the thread.
type ObservedMessage struct {
	Direction string    `json:"direction"` // inbound or outbound
	From      string    `json:"from,omitempty"`
	Body      string    `json:"body"`
	SeenAt    time.Time `json:"seen_at"`
}

// Observation records one human-handled interval on a thread.
// InterventionEnd == nil means the human still holds the thread; at most
// one such row exists per thread at any time.
type Observation struct {
	ID                string            `json:"id"`
	ThreadID          string            `json:"thread_id"`
	InterventionStart time.Time         `json:"intervention_start"`
	InterventionEnd   *time.Time        `json:"intervention_end,omitempty"`
	Handler           string            `json:"handler"`
	Channel           string            `json:"channel"`
	ObservedMessages  []ObservedMessage `json:"observed_messages"`
	ResolutionType    ResolutionType    `json:"resolution_type,omitempty"`
	ResolutionSummary string            `json:"resolution_summary,omitempty"`
	LastActivityAt    time.Time         `json:"last_activity_at"`
}
