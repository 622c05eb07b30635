package store

import (
	"errors"
	"testing"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

func newItem(t *testing.T, payload string, importance float64) *model.Item {
	t.Helper()
	now := time.Now().UTC()
	return &model.Item{
		ID:             model.NewID(),
		Payload:        payload,
		CreatedAt:      now,
		LastAccessedAt: now,
		Importance:     importance,
		DecayRate:      0.001,
	}
}

func TestShortTermInsertionOrderEviction(t *testing.T) {
	s := NewShortTerm(3, 0.8, nil)

	a := newItem(t, "A", 0.5)
	b := newItem(t, "B", 0.5)
	c := newItem(t, "C", 0.5)
	d := newItem(t, "D", 0.5)

	for _, it := range []*model.Item{a, b, c} {
		if _, err := s.Admit(it); err != nil {
			t.Fatalf("admit %s: %v", it.Payload, err)
		}
	}

	evicted, err := s.Admit(d)
	if err != nil {
		t.Fatalf("admit D: %v", err)
	}
	if evicted == nil || evicted.ID != a.ID {
		t.Fatalf("expected A evicted, got %+v", evicted)
	}
	if s.Len() != 3 {
		t.Errorf("expected size 3, got %d", s.Len())
	}
	for _, want := range []*model.Item{b, c, d} {
		if s.Get(want.ID) == nil {
			t.Errorf("expected %s resident", want.Payload)
		}
	}
}

func TestShortTermProtectedSkipsForward(t *testing.T) {
	s := NewShortTerm(2, 0.8, nil)

	protected := newItem(t, "protected", 0.9)
	plain := newItem(t, "plain", 0.3)
	s.Admit(protected)
	s.Admit(plain)

	evicted, err := s.Admit(newItem(t, "new", 0.5))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if evicted.ID != plain.ID {
		t.Errorf("expected eviction to skip protected item, evicted %s", evicted.Payload)
	}
	if s.Get(protected.ID) == nil {
		t.Error("protected item was evicted")
	}
}

func TestShortTermAllProtectedRejects(t *testing.T) {
	s := NewShortTerm(2, 0.8, nil)
	s.Admit(newItem(t, "p1", 0.9))
	s.Admit(newItem(t, "p2", 1.0))

	_, err := s.Admit(newItem(t, "new", 0.5))
	if !errors.Is(err, model.ErrCapacityExhausted) {
		t.Errorf("expected ErrCapacityExhausted, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("rejection changed size: %d", s.Len())
	}
}

func TestShortTermPeekNewestFirst(t *testing.T) {
	s := NewShortTerm(5, 0.8, nil)
	first := newItem(t, "first", 0.5)
	second := newItem(t, "second", 0.5)
	s.Admit(first)
	s.Admit(second)

	got := s.Peek(2)
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("expected newest first, got %v", got)
	}

	all := s.Peek(0)
	if len(all) != 2 {
		t.Errorf("Peek(0) should return all, got %d", len(all))
	}
}

func TestShortTermEvictOldest(t *testing.T) {
	s := NewShortTerm(5, 0.8, nil)
	first := newItem(t, "first", 0.99)
	s.Admit(first)
	s.Admit(newItem(t, "second", 0.5))

	// EvictOldest ignores protection
	got := s.EvictOldest()
	if got == nil || got.ID != first.ID {
		t.Errorf("expected first evicted, got %+v", got)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", s.Len())
	}

	s.EvictOldest()
	if got := s.EvictOldest(); got != nil {
		t.Errorf("expected nil on empty store, got %+v", got)
	}
}

func TestShortTermDuplicateID(t *testing.T) {
	s := NewShortTerm(5, 0.8, nil)
	item := newItem(t, "x", 0.5)
	s.Admit(item)
	if _, err := s.Admit(item); err == nil {
		t.Error("expected duplicate id rejection")
	}
}

func TestShortTermQuery(t *testing.T) {
	s := NewShortTerm(5, 0.8, nil)
	s.Admit(newItem(t, "Python programming", 0.9))
	s.Admit(newItem(t, "Java development", 0.7))

	got := s.Query(QueryParams{Text: "python"})
	if len(got) != 1 || got[0].Item.Payload != "Python programming" {
		t.Errorf("expected python match, got %v", got)
	}
}
