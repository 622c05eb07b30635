package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/rcliao/tiered-memory/internal/config"
	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/persist"
)

func newTestManager(t *testing.T, mut func(*config.Config)) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ShortTermCapacity = 10
	cfg.EpisodicCapacity = 20
	cfg.SemanticCapacity = 20
	cfg.LockTimeout = time.Second
	if mut != nil {
		mut(&cfg)
	}
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func floatPtr(v float64) *float64 { return &v }

func TestStoreAndRetrieve(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.Store(ctx, model.IngressRecord{
		Payload:        "met alice for coffee",
		ImportanceHint: floatPtr(0.6),
		Tags:           model.Tags{Entities: []string{"alice"}, Emotion: "happy"},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id == "" {
		t.Fatal("store returned empty id")
	}

	got, err := m.Retrieve(ctx, Query{Text: "coffee"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].ID != id || got[0].Tier != model.TierShortTerm {
		t.Errorf("unexpected result: %+v", got[0])
	}
	if got[0].Score <= 0 {
		t.Errorf("score = %f, want positive", got[0].Score)
	}
}

func TestStoreValidation(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) { c.MaxItemSize = 10 })
	ctx := context.Background()

	cases := []struct {
		name string
		rec  model.IngressRecord
	}{
		{"empty payload", model.IngressRecord{}},
		{"oversized payload", model.IngressRecord{Payload: "well over ten bytes"}},
		{"importance out of range", model.IngressRecord{Payload: "x", ImportanceHint: floatPtr(1.5)}},
		{"negative decay", model.IngressRecord{Payload: "x", DecayRate: floatPtr(-1)}},
		{"semantic tier hint", model.IngressRecord{Payload: "x", TierHint: model.TierSemantic}},
		{"unknown tier hint", model.IngressRecord{Payload: "x", TierHint: "glacial"}},
	}
	for _, tc := range cases {
		if _, err := m.Store(ctx, tc.rec); !model.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestStoreEpisodicHintIsDurable(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.LockTimeout = time.Second
	ctx := context.Background()

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	id, err := m.Store(ctx, model.IngressRecord{
		Payload:  "imported episode",
		TierHint: model.TierEpisodic,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m.Close()

	reopened, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Retrieve(ctx, Query{Text: "imported"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != id || got[0].Tier != model.TierEpisodic {
		t.Fatalf("episodic item not durable: %+v", got)
	}
}

func TestConcurrentStoreRespectsCapacity(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) { c.ShortTermCapacity = 5 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Store(ctx, model.IngressRecord{
				Payload:        fmt.Sprintf("concurrent item %d", i),
				ImportanceHint: floatPtr(0.3),
			})
			if err != nil {
				t.Errorf("store %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ShortTerm.Count > 5 {
		t.Errorf("short-term count %d exceeds capacity 5", st.ShortTerm.Count)
	}
}

func TestRetrieveValidation(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if _, err := m.Retrieve(ctx, Query{Limit: -1}); !model.IsValidation(err) {
		t.Errorf("negative limit: %v", err)
	}
	if _, err := m.Retrieve(ctx, Query{Scope: "archival"}); !model.IsValidation(err) {
		t.Errorf("unknown scope: %v", err)
	}
}

func TestRetrieveScopeRecentSkipsSemantic(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	snap := &persist.Snapshot{
		ExportedAt: now,
		Semantic: []*model.Item{{
			ID:             model.NewID(),
			Payload:        "prefers espresso",
			ConceptKey:     "espresso",
			CreatedAt:      now,
			LastAccessedAt: now,
			Importance:     0.9,
			Evidence:       3,
		}},
	}
	data, err := persist.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := m.Import(ctx, data); err != nil {
		t.Fatalf("import: %v", err)
	}

	all, err := m.Retrieve(ctx, Query{Text: "espresso", Scope: ScopeAll})
	if err != nil {
		t.Fatalf("retrieve all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("scope all: expected concept, got %v", all)
	}

	recent, err := m.Retrieve(ctx, Query{Text: "espresso", Scope: ScopeRecent})
	if err != nil {
		t.Fatalf("retrieve recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("scope recent returned semantic items: %v", recent)
	}
}

func TestRetrieveUpdatesAccessMetadata(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.Store(ctx, model.IngressRecord{Payload: "remember this"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	if _, err := m.Retrieve(ctx, Query{Text: "remember"}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	got := m.short.Get(id)
	if got == nil {
		t.Fatal("item missing")
	}
	if got.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", got.AccessCount)
	}
}

func TestTouch(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.Store(ctx, model.IngressRecord{Payload: "touchable"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := m.Touch(ctx, id); err != nil {
		t.Errorf("touch: %v", err)
	}
	if got := m.short.Get(id); got.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", got.AccessCount)
	}

	if err := m.Touch(ctx, "no-such-id"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestManager(t, nil)
	ctx := context.Background()

	shortID, err := src.Store(ctx, model.IngressRecord{Payload: "short-lived note"})
	if err != nil {
		t.Fatalf("store short: %v", err)
	}
	epID, err := src.Store(ctx, model.IngressRecord{
		Payload:  "episodic note",
		TierHint: model.TierEpisodic,
	})
	if err != nil {
		t.Fatalf("store episodic: %v", err)
	}

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newTestManager(t, nil)
	if err := dst.Import(ctx, data); err != nil {
		t.Fatalf("import: %v", err)
	}

	st, err := dst.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ShortTerm.Count != 1 || st.Episodic.Count != 1 {
		t.Fatalf("counts after import: %+v", st)
	}
	if dst.short.Get(shortID) == nil {
		t.Error("short-term item not imported")
	}
	if dst.ep.Get(epID) == nil {
		t.Error("episodic item not imported")
	}
}

func TestImportRejectsInvalidSnapshot(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	keepID, err := m.Store(ctx, model.IngressRecord{Payload: "keep me"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	now := time.Now().UTC()
	dup := &model.Item{
		ID:             model.NewID(),
		Payload:        "dup",
		CreatedAt:      now,
		LastAccessedAt: now,
		Importance:     0.5,
	}
	snap := &persist.Snapshot{
		ExportedAt: now,
		ShortTerm:  []*model.Item{dup, dup.Clone()},
	}
	data, err := persist.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := m.Import(ctx, data); !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if m.short.Get(keepID) == nil {
		t.Error("failed import disturbed existing state")
	}
}

func TestImportRejectsOverCapacity(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) { c.ShortTermCapacity = 1 })
	ctx := context.Background()

	now := time.Now().UTC()
	snap := &persist.Snapshot{ExportedAt: now}
	for i := 0; i < 2; i++ {
		snap.ShortTerm = append(snap.ShortTerm, &model.Item{
			ID:             model.NewID(),
			Payload:        fmt.Sprintf("item %d", i),
			CreatedAt:      now,
			LastAccessedAt: now,
			Importance:     0.5,
		})
	}
	data, err := persist.EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := m.Import(ctx, data); !model.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestImportConcurrentWithStores(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	snap, err := m.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// Writers must never interleave with the rollback capture inside
	// Import or Clear; both take all tier locks around it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, err := m.Store(ctx, model.IngressRecord{
				Payload: fmt.Sprintf("concurrent write %d", i),
			})
			if err != nil {
				t.Errorf("store %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := m.Import(ctx, snap); err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
		if err := m.Clear(ctx); err != nil {
			t.Fatalf("clear %d: %v", i, err)
		}
	}
	<-done
}

func TestImportRestoresDurableStateOnWriteFailure(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	keepID, err := m.Store(ctx, model.IngressRecord{
		Payload:  "original episode",
		TierHint: model.TierEpisodic,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	now := time.Now().UTC()
	incoming := &model.Item{
		ID:             model.NewID(),
		Payload:        "imported episode",
		CreatedAt:      now,
		LastAccessedAt: now,
		Importance:     0.5,
	}
	data, err := persist.EncodeSnapshot(&persist.Snapshot{
		ExportedAt: now,
		Episodic:   []*model.Item{incoming},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Block the semantic tier file so its durable write fails after the
	// episodic file has already been replaced.
	semPath := filepath.Join(m.cfg.DataDir, "semantic.json")
	if err := os.Mkdir(semPath, 0o700); err != nil {
		t.Fatalf("block semantic file: %v", err)
	}

	if err := m.Import(ctx, data); err == nil {
		t.Fatal("expected import to fail")
	}

	if m.ep.Get(keepID) == nil {
		t.Error("failed import disturbed in-memory state")
	}
	if m.ep.Get(incoming.ID) != nil {
		t.Error("imported item remained in memory")
	}

	// The episodic file must hold the pre-import contents again.
	onDisk, err := os.ReadFile(filepath.Join(m.cfg.DataDir, "episodic.json"))
	if err != nil {
		t.Fatalf("read episodic file: %v", err)
	}
	if !strings.Contains(string(onDisk), keepID) {
		t.Error("durable episodic state lost the original item")
	}
	if strings.Contains(string(onDisk), incoming.ID) {
		t.Error("durable episodic state kept the imported item")
	}
}

func TestRetrieveDuringConsolidation(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		imp := 0.3
		if i%2 == 0 {
			imp = 0.9
		}
		_, err := m.Store(ctx, model.IngressRecord{
			Payload:        fmt.Sprintf("note %d", i),
			ImportanceHint: floatPtr(imp),
		})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.Consolidate(ctx); err != nil {
			t.Errorf("consolidate: %v", err)
		}
	}()

	// Retrievals during the pass must never see an item in two tiers.
	for i := 0; i < 20; i++ {
		got, err := m.Retrieve(ctx, Query{Text: "note", Limit: 50})
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
		seen := make(map[string]bool)
		for _, r := range got {
			if seen[r.ID] {
				t.Fatalf("item %s returned from two tiers", r.ID)
			}
			seen[r.ID] = true
		}
	}
	<-done
}

func TestClear(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	m.Store(ctx, model.IngressRecord{Payload: "short"})
	m.Store(ctx, model.IngressRecord{Payload: "episodic", TierHint: model.TierEpisodic})

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalItems != 0 || st.ColdArchived != 0 {
		t.Errorf("state after clear: %+v", st)
	}
}

func TestConsolidationDue(t *testing.T) {
	m := newTestManager(t, nil)
	if !m.ConsolidationDue() {
		t.Error("fresh manager should report a pass due")
	}
	if _, err := m.Consolidate(context.Background()); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if m.ConsolidationDue() {
		t.Error("pass just ran, none should be due")
	}
}

func TestCapacityInvariantProperty(t *testing.T) {
	m := newTestManager(t, func(c *config.Config) { c.ShortTermCapacity = 5 })
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		if err := m.Clear(ctx); err != nil {
			rt.Fatalf("clear: %v", err)
		}
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		for i := 0; i < n; i++ {
			imp := rapid.Float64Range(0, 0.79).Draw(rt, "importance")
			_, err := m.Store(ctx, model.IngressRecord{
				Payload:        fmt.Sprintf("generated %d", i),
				ImportanceHint: floatPtr(imp),
			})
			if err != nil {
				rt.Fatalf("store: %v", err)
			}
		}
		st, err := m.Stats(ctx)
		if err != nil {
			rt.Fatalf("stats: %v", err)
		}
		if st.ShortTerm.Count > 5 {
			rt.Fatalf("short-term count %d exceeds capacity", st.ShortTerm.Count)
		}
		if n <= 5 && st.ShortTerm.Count != n {
			rt.Fatalf("count %d, want %d with no eviction", st.ShortTerm.Count, n)
		}
	})
}
