package kb

import (
	"context"
	"testing"
)

func seedArticles(t *testing.T, store *InMemoryStore) {
	t.Helper()
	articles := []*Article{
		{Title: "Return policy", Body: "Customers can return items within 30 days with the order number.", Tags: []string{"returns"}},
		{Title: "Shipping times", Body: "Standard shipping takes 5-7 business days.", Tags: []string{"shipping"}},
		{Title: "Warranty claims", Body: "Warranty claims need photos of the defect.", Tags: []string{"warranty"}},
		{Title: "Old return doc", Body: "Superseded return process.", Archived: true},
	}
	for _, a := range articles {
		if err := store.CreateArticle(context.Background(), a); err != nil {
			t.Fatalf("seed article: %v", err)
		}
	}
}

func TestSearchRanksByTermOverlap(t *testing.T) {
	store := NewInMemoryStore()
	seedArticles(t, store)
	svc := NewService(store)

	results, err := svc.Search(context.Background(), "how do I return my item", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Title != "Return policy" {
		t.Errorf("expected return policy first, got %q", results[0].Title)
	}
}

func TestSearchSkipsArchivedArticles(t *testing.T) {
	store := NewInMemoryStore()
	seedArticles(t, store)
	svc := NewService(store)

	results, err := svc.Search(context.Background(), "return", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, a := range results {
		if a.Archived {
			t.Errorf("archived article %q returned from search", a.Title)
		}
	}
}

func TestSearchNoMatchesReturnsEmpty(t *testing.T) {
	store := NewInMemoryStore()
	seedArticles(t, store)
	svc := NewService(store)

	results, err := svc.Search(context.Background(), "zzz qqq", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestActiveInstructionsFiltersInactive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	if err := store.CreateInstruction(ctx, &Instruction{Text: "Always greet by name", Active: true}); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}
	if err := store.CreateInstruction(ctx, &Instruction{Text: "Old tone guidance", Active: false}); err != nil {
		t.Fatalf("seed instruction: %v", err)
	}

	svc := NewService(store)
	active, err := svc.ActiveInstructions(ctx)
	if err != nil {
		t.Fatalf("ActiveInstructions failed: %v", err)
	}
	if len(active) != 1 || active[0].Text != "Always greet by name" {
		t.Errorf("unexpected active instructions: %+v", active)
	}
}
