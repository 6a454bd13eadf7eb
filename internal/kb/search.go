package kb

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Searcher is the slice of kb the drafting layer needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]*Article, error)
	ActiveInstructions(ctx context.Context) ([]*Instruction, error)
}

// Service wraps a Store with retrieval used to ground draft generation.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

type ranked struct {
	a     *Article
	score float64
}

// Search ranks articles against the query by term overlap (compute-only).
// Embedding or vector retrieval is intentionally out of scope here.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*Article, error) {
	items, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, err
	}

	// tokenize minimally
	tf := func(text string) map[string]int {
		m := map[string]int{}
		for _, w := range strings.Fields(strings.ToLower(text)) {
			if len(w) < 3 {
				continue
			}
			m[w]++
		}
		return m
	}
	q := tf(query)

	var arr []ranked
	for _, it := range items {
		if it.Archived {
			continue
		}
		text := strings.ToLower(it.Title + " " + it.Body)
		score := 0.0
		for k, v := range q {
			if strings.Contains(text, k) {
				score += float64(v)
			}
		}
		// tag hits weigh more than body hits
		for _, tag := range it.Tags {
			if _, ok := q[strings.ToLower(tag)]; ok {
				score += 2.0
			}
		}
		if time.Since(it.UpdatedAt) < 30*24*time.Hour {
			score += 0.5
		}
		if score > 0 {
			arr = append(arr, ranked{a: it, score: score})
		}
	}

	sort.Slice(arr, func(i, j int) bool { return arr[i].score > arr[j].score })
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]*Article, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, arr[i].a)
	}
	return out, nil
}

// ActiveInstructions returns the standing operator instructions that apply
// to every generated draft.
func (s *Service) ActiveInstructions(ctx context.Context) ([]*Instruction, error) {
	items, err := s.store.ListInstructions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Instruction, 0, len(items))
	for _, in := range items {
		if in.Active {
			out = append(out, in)
		}
	}
	return out, nil
}
