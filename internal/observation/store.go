package observation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrActiveExists = errors.New("thread already has an active observation")
)

// Store persists observations. Create must reject a second active
// observation for the same thread; that invariant lives here so every
// caller gets it.
type Store interface {
	Create(ctx context.Context, o *Observation) error
	Get(ctx context.Context, id string) (*Observation, error)
	ActiveForThread(ctx context.Context, threadID string) (*Observation, error)
	AppendObserved(ctx context.Context, observationID string, msg ObservedMessage) error
	Close(ctx context.Context, observationID string, end time.Time, resolution ResolutionType, summary string) error
	ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*Observation, error)
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu           sync.RWMutex
	observations map[string]*Observation
	now          func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		observations: make(map[string]*Observation),
		now:          time.Now,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, o *Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observations {
		if existing.ThreadID == o.ThreadID && existing.InterventionEnd == nil {
			return ErrActiveExists
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.InterventionStart.IsZero() {
		o.InterventionStart = s.now()
	}
	o.LastActivityAt = o.InterventionStart
	s.observations[o.ID] = cloneObservation(o)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.observations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneObservation(o), nil
}

func (s *InMemoryStore) ActiveForThread(ctx context.Context, threadID string) (*Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.observations {
		if o.ThreadID == threadID && o.InterventionEnd == nil {
			return cloneObservation(o), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) AppendObserved(ctx context.Context, observationID string, msg ObservedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.observations[observationID]
	if !ok {
		return ErrNotFound
	}
	if msg.SeenAt.IsZero() {
		msg.SeenAt = s.now()
	}
	o.ObservedMessages = append(o.ObservedMessages, msg)
	o.LastActivityAt = msg.SeenAt
	return nil
}

func (s *InMemoryStore) Close(ctx context.Context, observationID string, end time.Time, resolution ResolutionType, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.observations[observationID]
	if !ok {
		return ErrNotFound
	}
	if o.InterventionEnd != nil {
		return ErrNotFound
	}
	endCopy := end
	o.InterventionEnd = &endCopy
	o.ResolutionType = resolution
	o.ResolutionSummary = summary
	return nil
}

func (s *InMemoryStore) ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Observation
	for _, o := range s.observations {
		if o.InterventionEnd == nil && o.LastActivityAt.Before(cutoff) {
			out = append(out, cloneObservation(o))
		}
	}
	return out, nil
}

func cloneObservation(o *Observation) *Observation {
	c := *o
	c.ObservedMessages = append([]ObservedMessage(nil), o.ObservedMessages...)
	if o.InterventionEnd != nil {
		end := *o.InterventionEnd
		c.InterventionEnd = &end
	}
	return &c
}
