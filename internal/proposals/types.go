// Package proposals turns closed human-intervention transcripts into
// candidate knowledge-base updates. Everything produced here is advisory:
// a proposal starts pending and only a human approval publishes it.
package proposals

import "time"

// ProposalType says what kind of update a proposal suggests.
type ProposalType string

const (
	TypeKBArticle         ProposalType = "kb_article"
	TypeInstructionUpdate ProposalType = "instruction_update"
)

// Status is a proposal's review lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
)

// LearningProposal is one candidate update awaiting human review.
type LearningProposal struct {
	ID              string       `json:"id"`
	Type            ProposalType `json:"type"`
	Title           string       `json:"title"`
	Summary         string       `json:"summary"`
	ProposedContent string       `json:"proposed_content"`
	Status          Status       `json:"status"`
	ObservationID   string       `json:"observation_id"`
	Reviewer        string       `json:"reviewer,omitempty"`
	ReviewReason    string       `json:"review_reason,omitempty"`
	PublishedAs     string       `json:"published_as,omitempty"` // kb article or instruction id
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
