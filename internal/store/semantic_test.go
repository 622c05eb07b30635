package store

import (
	"os"
	"testing"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

func newSemanticStore(t *testing.T, capacity int) *Semantic {
	t.Helper()
	return NewSemantic(t.TempDir(), capacity, nil)
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"Python":             "python",
		"  Go   Programming targeted  ": "go programming targeted",
		"ALREADY lower":      "already lower",
		"\tweird\n spacing ": "weird spacing",
		"":                   "",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSemanticUpsertDedupes(t *testing.T) {
	s := newSemanticStore(t, 10)
	now := time.Now().UTC()

	ev1 := newItem(t, "user prefers python", 0.6)
	ev2 := newItem(t, "user wrote python again", 0.6)

	first, _, err := s.Upsert("Python", ev1, now)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, _, err := s.Upsert("  python ", ev2, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if s.Len() != 1 {
		t.Fatalf("expected one concept, got %d", s.Len())
	}
	if first.ID != second.ID {
		t.Error("upserts with the same normalized key produced distinct concepts")
	}
	if second.Evidence != 2 {
		t.Errorf("evidence = %d, want 2", second.Evidence)
	}
	if second.Importance <= 0.6 {
		t.Errorf("importance should rise with evidence, got %f", second.Importance)
	}
	if len(second.SourceIDs) != 2 || second.SourceIDs[0] != ev1.ID || second.SourceIDs[1] != ev2.ID {
		t.Errorf("SourceIDs = %v", second.SourceIDs)
	}
}

func TestSemanticUpsertUndo(t *testing.T) {
	s := newSemanticStore(t, 10)
	now := time.Now().UTC()

	ev1 := newItem(t, "fact", 0.5)
	s.Upsert("topic", ev1, now)

	ev2 := newItem(t, "fact again", 0.5)
	concept, undo, err := s.Upsert("topic", ev2, now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	undo()
	if concept.Evidence != 1 {
		t.Errorf("undo did not restore evidence count, got %d", concept.Evidence)
	}
	if len(concept.SourceIDs) != 1 {
		t.Errorf("undo did not restore sources, got %v", concept.SourceIDs)
	}

	// Undo of a brand new concept removes it entirely.
	fresh, undoNew, err := s.Upsert("other", newItem(t, "x", 0.5), now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	undoNew()
	if s.Get(fresh.ID) != nil || s.Lookup("other") != nil {
		t.Error("undo did not remove new concept")
	}
}

func TestSemanticEvictionOrder(t *testing.T) {
	s := newSemanticStore(t, 2)
	now := time.Now().UTC()

	s.Upsert("kept", newItem(t, "one", 0.5), now)
	s.Upsert("kept", newItem(t, "two", 0.5), now) // evidence 2
	thin, _, _ := s.Upsert("thin", newItem(t, "three", 0.9), now)

	// Capacity pressure removes the lowest-evidence concept even though
	// its importance is higher.
	s.Upsert("new", newItem(t, "four", 0.1), now)
	if s.Lookup("thin") != nil {
		t.Error("expected lowest-evidence concept evicted")
	}
	if s.Get(thin.ID) != nil {
		t.Error("evicted concept still reachable by id")
	}
	if s.Lookup("kept") == nil || s.Lookup("new") == nil {
		t.Error("wrong concepts survived eviction")
	}
}

func TestSemanticEmptyKeyRejected(t *testing.T) {
	s := newSemanticStore(t, 10)
	_, _, err := s.Upsert("   ", newItem(t, "x", 0.5), time.Now().UTC())
	if !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSemanticQuery(t *testing.T) {
	s := newSemanticStore(t, 10)
	now := time.Now().UTC()

	s.Upsert("python", newItem(t, "prefers python for scripting", 0.5), now)
	s.Upsert("python", newItem(t, "more python", 0.5), now)
	s.Upsert("java", newItem(t, "used java once", 0.5), now)

	got := s.Query(QueryParams{Text: "python"})
	if len(got) != 1 || got[0].Item.ConceptKey != "python" {
		t.Fatalf("expected python concept, got %v", got)
	}

	all := s.Query(QueryParams{})
	if len(all) != 2 {
		t.Fatalf("expected 2 concepts, got %d", len(all))
	}
	if all[0].Item.ConceptKey != "python" {
		t.Errorf("expected evidence-heavy concept first, got %s", all[0].Item.ConceptKey)
	}
}

func TestSemanticSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewSemantic(dir, 10, nil)
	now := time.Now().UTC()

	concept, _, _ := s.Upsert("golang", newItem(t, "writes go daily", 0.7), now)

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(s.Path(), data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reopened := NewSemantic(dir, 10, nil)
	if err := reopened.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := reopened.Lookup("golang")
	if got == nil || got.ID != concept.ID || got.Evidence != 1 {
		t.Fatalf("concept not restored: %+v", got)
	}
}
