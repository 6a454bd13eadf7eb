package proposals

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/kb"
)

// Service handles the human review side of proposals.
type Service struct {
	proposals Store
	kb        kb.Store
}

func NewService(proposals Store, kbStore kb.Store) *Service {
	return &Service{proposals: proposals, kb: kbStore}
}

func (s *Service) Get(ctx context.Context, id string) (*LearningProposal, error) {
	return s.proposals.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status) ([]*LearningProposal, error) {
	return s.proposals.List(ctx, status)
}

// Approve marks the proposal approved, publishes the content into the live
// knowledge base, and marks it published. A proposal stuck at approved by a
// failed publish can be approved again to retry the publish.
func (s *Service) Approve(ctx context.Context, id, reviewer string) (*LearningProposal, error) {
	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusApproved {
		return nil, fmt.Errorf("proposal %s is %s, not reviewable", id, p.Status)
	}

	if p.Status == StatusPending {
		p.Status = StatusApproved
		p.Reviewer = reviewer
		if err := s.proposals.Update(ctx, p); err != nil {
			return nil, err
		}
	}

	switch p.Type {
	case TypeKBArticle:
		article := &kb.Article{
			Title:  p.Title,
			Body:   p.ProposedContent,
			Source: "proposal:" + p.ID,
		}
		if err := s.kb.CreateArticle(ctx, article); err != nil {
			return nil, fmt.Errorf("publish article: %w", err)
		}
		p.PublishedAs = article.ID
	case TypeInstructionUpdate:
		instruction := &kb.Instruction{
			Text:   p.ProposedContent,
			Source: "proposal:" + p.ID,
			Active: true,
		}
		if err := s.kb.CreateInstruction(ctx, instruction); err != nil {
			return nil, fmt.Errorf("publish instruction: %w", err)
		}
		p.PublishedAs = instruction.ID
	default:
		return nil, fmt.Errorf("unknown proposal type %q", p.Type)
	}

	p.Status = StatusPublished
	p.Reviewer = reviewer
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	log.Info().
		Str("proposal_id", p.ID).
		Str("type", string(p.Type)).
		Str("reviewer", reviewer).
		Str("published_as", p.PublishedAs).
		Msg("Proposal approved and published")

	return p, nil
}

// Reject records the reviewer and reason. Only pending proposals can be
// rejected.
func (s *Service) Reject(ctx context.Context, id, reviewer, reason string) (*LearningProposal, error) {
	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("proposal %s is %s, not pending", id, p.Status)
	}

	p.Status = StatusRejected
	p.Reviewer = reviewer
	p.ReviewReason = reason
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	log.Info().
		Str("proposal_id", p.ID).
		Str("reviewer", reviewer).
		Str("reason", reason).
		Msg("Proposal rejected")

	return p, nil
}
