package proposals

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Store persists learning proposals.
type Store interface {
	Create(ctx context.Context, p *LearningProposal) error
	Get(ctx context.Context, id string) (*LearningProposal, error)
	Update(ctx context.Context, p *LearningProposal) error
	List(ctx context.Context, status Status) ([]*LearningProposal, error)
	ListByObservation(ctx context.Context, observationID string) ([]*LearningProposal, error)
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*LearningProposal
	now       func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		proposals: make(map[string]*LearningProposal),
		now:       time.Now,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, p *LearningProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*LearningProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProposal(p), nil
}

func (s *InMemoryStore) Update(ctx context.Context, p *LearningProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.proposals[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.now()
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

// List returns proposals with the given status, or all when status is empty.
func (s *InMemoryStore) List(ctx context.Context, status Status) ([]*LearningProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*LearningProposal
	for _, p := range s.proposals {
		if status == "" || p.Status == status {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListByObservation(ctx context.Context, observationID string) ([]*LearningProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*LearningProposal
	for _, p := range s.proposals {
		if p.ObservationID == observationID {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneProposal(p *LearningProposal) *LearningProposal {
	c := *p
	return &c
}
