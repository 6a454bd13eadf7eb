// Package kb holds the approved knowledge base: support articles used to
// ground draft replies, and operator instructions that steer drafting tone
// and policy. Approved learning proposals publish into this package.
package kb

import "time"

// Article is one approved knowledge-base document.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"` // manual or proposal id
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Instruction is one standing operator instruction applied to every draft.
type Instruction struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	Source    string    `json:"source,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
