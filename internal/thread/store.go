package thread

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Store persists threads, messages, and audit events. AppendMessage reports
// whether a row was actually inserted so duplicate webhook deliveries for the
// same external message id collapse into a no-op.
type Store interface {
	CreateThread(ctx context.Context, t *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetThreadByExternalID(ctx context.Context, externalID string) (*Thread, error)
	UpdateThread(ctx context.Context, t *Thread) error

	AppendMessage(ctx context.Context, m *Message) (bool, error)
	ListMessages(ctx context.Context, threadID string, limit int) ([]*Message, error)
	SaveDraft(ctx context.Context, m *Message) error
	ActiveDraft(ctx context.Context, threadID string) (*Message, error)
	DeleteDraft(ctx context.Context, threadID string) error

	AppendEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, threadID string, limit int) ([]*Event, error)

	SetPendingAction(ctx context.Context, threadID string, pa *PendingAction) error
	GetPendingAction(ctx context.Context, threadID string) (*PendingAction, error)
	ClearPendingAction(ctx context.Context, threadID string) error
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu         sync.RWMutex
	threads    map[string]*Thread
	byExternal map[string]string // thread external id -> thread id
	messages   map[string][]*Message
	msgByExt   map[string]bool // message external id seen
	events     map[string][]*Event
	now        func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:    make(map[string]*Thread),
		byExternal: make(map[string]string),
		messages:   make(map[string][]*Message),
		msgByExt:   make(map[string]bool),
		events:     make(map[string][]*Event),
		now:        time.Now,
	}
}

func (s *InMemoryStore) CreateThread(ctx context.Context, t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = StateNew
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.threads[t.ID] = cloneThread(t)
	if t.ExternalID != "" {
		s.byExternal[t.ExternalID] = t.ID
	}
	return nil
}

func (s *InMemoryStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *InMemoryStore) GetThreadByExternalID(ctx context.Context, externalID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(s.threads[id]), nil
}

func (s *InMemoryStore) UpdateThread(ctx context.Context, t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.threads[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = s.now()
	s.threads[t.ID] = cloneThread(t)
	return nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, m *Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ExternalID != "" && s.msgByExt[m.ExternalID] {
		return false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.now()
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], cloneMessage(m))
	if m.ExternalID != "" {
		s.msgByExt[m.ExternalID] = true
	}
	return true, nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[threadID]
	out := make([]*Message, 0, len(arr))
	for _, m := range arr {
		if m.Role == RoleDraft {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SaveDraft replaces any active draft for the thread. Drafts are replaced,
// not accumulated.
func (s *InMemoryStore) SaveDraft(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDraftLocked(m.ThreadID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Role = RoleDraft
	m.CreatedAt = s.now()
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], cloneMessage(m))
	return nil
}

func (s *InMemoryStore) ActiveDraft(ctx context.Context, threadID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[threadID] {
		if m.Role == RoleDraft {
			return cloneMessage(m), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) DeleteDraft(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDraftLocked(threadID)
	return nil
}

func (s *InMemoryStore) deleteDraftLocked(threadID string) {
	arr := s.messages[threadID]
	kept := arr[:0]
	for _, m := range arr {
		if m.Role != RoleDraft {
			kept = append(kept, m)
		}
	}
	s.messages[threadID] = kept
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = s.now()
	s.events[ev.ThreadID] = append(s.events[ev.ThreadID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, threadID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.events[threadID]
	out := append([]*Event(nil), arr...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) SetPendingAction(ctx context.Context, threadID string, pa *PendingAction) error {
	if err := pa.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	cp := *pa
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	t.PendingAction = &cp
	return nil
}

func (s *InMemoryStore) GetPendingAction(ctx context.Context, threadID string) (*PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.PendingAction == nil {
		return nil, nil
	}
	if err := t.PendingAction.Validate(); err != nil {
		return nil, err
	}
	cp := *t.PendingAction
	return &cp, nil
}

func (s *InMemoryStore) ClearPendingAction(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.PendingAction = nil
	return nil
}

func cloneThread(t *Thread) *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	if t.PendingAction != nil {
		pa := *t.PendingAction
		cp.PendingAction = &pa
	}
	return &cp
}

func cloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}
