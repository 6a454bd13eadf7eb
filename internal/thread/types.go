package thread

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a conversation thread.
type State string

const (
	StateNew           State = "new"
	StateAwaitingInfo  State = "awaiting_info"
	StateInProgress    State = "in_progress"
	StateEscalated     State = "escalated"
	StateHumanHandling State = "human_handling"
	StateResolved      State = "resolved"
)

// ValidState reports whether s is one of the fixed thread states.
func ValidState(s State) bool {
	switch s {
	case StateNew, StateAwaitingInfo, StateInProgress, StateEscalated, StateHumanHandling, StateResolved:
		return true
	}
	return false
}

// Intent is a classified category of customer need.
type Intent string

const (
	IntentOrderStatus      Intent = "order_status"
	IntentReturnRequest    Intent = "return_request"
	IntentCancellation     Intent = "cancellation"
	IntentExchange         Intent = "exchange"
	IntentShippingIssue    Intent = "shipping_issue"
	IntentAddressChange    Intent = "address_change"
	IntentWarrantyClaim    Intent = "warranty_claim"
	IntentProductQuestion  Intent = "product_question"
	IntentGeneralQuestion  Intent = "general_question"
	IntentThankYouClose    Intent = "thank_you_close"
	IntentDispute          Intent = "dispute"
	IntentChargebackThreat Intent = "chargeback_threat"
	IntentLegalThreat      Intent = "legal_threat"
	IntentUnclassified     Intent = "unclassified"
)

// ValidIntent reports whether i is one of the fixed intent categories.
func ValidIntent(i Intent) bool {
	switch i {
	case IntentOrderStatus, IntentReturnRequest, IntentCancellation, IntentExchange,
		IntentShippingIssue, IntentAddressChange, IntentWarrantyClaim, IntentProductQuestion,
		IntentGeneralQuestion, IntentThankYouClose, IntentDispute, IntentChargebackThreat,
		IntentLegalThreat, IntentUnclassified:
		return true
	}
	return false
}

// Action is what the pipeline decided to do with an inbound message.
type Action string

const (
	ActionNoReply           Action = "no_reply"
	ActionSendMacro         Action = "send_preapproved_macro"
	ActionAskClarifying     Action = "ask_clarifying_questions"
	ActionReplyWithDraft    Action = "reply_with_draft"
	ActionEscalateWithDraft Action = "escalate_with_draft"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Role string

const (
	RoleMessage Role = "message"
	RoleDraft   Role = "draft"
)

// Thread is a single customer conversation. human_handling mirrors
// StateHumanHandling; the observation service owns both sides of that flag.
type Thread struct {
	ID            string         `json:"id"`
	ExternalID    string         `json:"external_id,omitempty"`
	Channel       string         `json:"channel"`
	Subject       string         `json:"subject"`
	State         State          `json:"state"`
	LastIntent    Intent         `json:"last_intent,omitempty"`
	PendingAction *PendingAction `json:"pending_action,omitempty"`
	HumanHandling bool           `json:"human_handling"`
	HumanHandler  string         `json:"human_handler,omitempty"`
	Archived      bool           `json:"archived"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Message is one inbound or outbound message on a thread. Drafts are
// messages with RoleDraft; at most one undeleted draft is active per thread.
type Message struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	ExternalID string    `json:"external_id,omitempty"`
	Direction  Direction `json:"direction"`
	Role       Role      `json:"role"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is one append-only audit row. Events are immutable once written and
// are the canonical record of transitions, policy blocks, and promise
// detections.
type Event struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event types written by the pipeline and the observation overlay.
const (
	EventIngestProcessed   = "ingest_processed"
	EventStateTransition   = "state_transition"
	EventPolicyBlocked     = "policy_blocked"
	EventDraftSent         = "draft_sent"
	EventHumanTakeover     = "human_takeover"
	EventHumanReturn       = "human_return"
	EventStaleHandoff      = "stale_handoff_closed"
	EventProposalGenerated = "proposal_generated"
)

// PendingActionType is the closed set of tags for PendingAction. Unknown
// tags read from storage are rejected, not passed through.
type PendingActionType string

const (
	PendingAwaitingVendorResponse       PendingActionType = "awaiting_vendor_response"
	PendingAwaitingCustomerPhotos       PendingActionType = "awaiting_customer_photos"
	PendingAwaitingCustomerConfirmation PendingActionType = "awaiting_customer_confirmation"
	PendingAwaitingAdminDecision        PendingActionType = "awaiting_admin_decision"
)

// PendingAction records what a thread is blocked on. At most one is active
// per thread.
type PendingAction struct {
	Type        PendingActionType `json:"type"`
	Description string            `json:"description"`
	WaitingFor  string            `json:"waiting_for"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Validate rejects pending actions carrying an unknown tag.
func (p *PendingAction) Validate() error {
	switch p.Type {
	case PendingAwaitingVendorResponse, PendingAwaitingCustomerPhotos,
		PendingAwaitingCustomerConfirmation, PendingAwaitingAdminDecision:
		return nil
	}
	return fmt.Errorf("unknown pending action type %q", p.Type)
}
