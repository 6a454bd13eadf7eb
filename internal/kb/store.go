package kb

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Store persists knowledge-base articles and operator instructions.
type Store interface {
	CreateArticle(ctx context.Context, a *Article) error
	GetArticle(ctx context.Context, id string) (*Article, error)
	UpdateArticle(ctx context.Context, a *Article) error
	ListArticles(ctx context.Context) ([]*Article, error)

	CreateInstruction(ctx context.Context, in *Instruction) error
	UpdateInstruction(ctx context.Context, in *Instruction) error
	ListInstructions(ctx context.Context) ([]*Instruction, error)
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu           sync.RWMutex
	articles     map[string]*Article
	instructions map[string]*Instruction
	now          func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		articles:     make(map[string]*Article),
		instructions: make(map[string]*Instruction),
		now:          time.Now,
	}
}

func (s *InMemoryStore) CreateArticle(ctx context.Context, a *Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	a.UpdatedAt = a.CreatedAt
	s.articles[a.ID] = cloneArticle(a)
	return nil
}

func (s *InMemoryStore) GetArticle(ctx context.Context, id string) (*Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneArticle(a), nil
}

func (s *InMemoryStore) UpdateArticle(ctx context.Context, a *Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.articles[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	a.UpdatedAt = s.now()
	s.articles[a.ID] = cloneArticle(a)
	return nil
}

func (s *InMemoryStore) ListArticles(ctx context.Context) ([]*Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Article, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, cloneArticle(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CreateInstruction(ctx context.Context, in *Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = s.now()
	in.UpdatedAt = in.CreatedAt
	s.instructions[in.ID] = cloneInstruction(in)
	return nil
}

func (s *InMemoryStore) UpdateInstruction(ctx context.Context, in *Instruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.instructions[in.ID]
	if !ok {
		return ErrNotFound
	}
	in.CreatedAt = old.CreatedAt
	in.UpdatedAt = s.now()
	s.instructions[in.ID] = cloneInstruction(in)
	return nil
}

func (s *InMemoryStore) ListInstructions(ctx context.Context) ([]*Instruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Instruction, 0, len(s.instructions))
	for _, in := range s.instructions {
		out = append(out, cloneInstruction(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneArticle(a *Article) *Article {
	c := *a
	c.Tags = append([]string(nil), a.Tags...)
	return &c
}

func cloneInstruction(in *Instruction) *Instruction {
	c := *in
	return &c
}
