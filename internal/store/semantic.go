package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/persist"
)

// evidenceImportanceStep is how much each additional piece of evidence
// raises a concept's importance, bounded at 1.0.
const evidenceImportanceStep = 0.05

// Semantic is the persisted store of deduplicated facts and concepts.
// Identity is the normalized concept key: upserting an existing key
// accumulates evidence instead of duplicating storage.
type Semantic struct {
	byKey    map[string]*model.Item
	byID     map[string]*model.Item
	file     *persist.TierFile
	capacity int
	logger   *zap.Logger
}

// NewSemantic creates a semantic store persisted under dir.
func NewSemantic(dir string, capacity int, logger *zap.Logger) *Semantic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Semantic{
		byKey:    make(map[string]*model.Item),
		byID:     make(map[string]*model.Item),
		file:     persist.NewTierFile(dir, "semantic"),
		capacity: capacity,
		logger:   logger.With(zap.String("component", "semantic")),
	}
}

// Load restores the durable concept set from disk.
func (s *Semantic) Load() error {
	items, err := s.file.Load()
	if err != nil {
		return fmt.Errorf("load semantic: %w", err)
	}
	s.Restore(items)
	return nil
}

// NormalizeKey canonicalizes a concept key: lowercased with whitespace
// runs collapsed to single spaces.
func NormalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), " ")
}

// Upsert merges evidence into the concept identified by key. A new key
// creates a concept from the evidence item; an existing key increments
// the evidence count, raises importance (bounded) and records the source.
// Returns the stored concept and an undo for the staged change.
func (s *Semantic) Upsert(key string, evidence *model.Item, now time.Time) (*model.Item, Undo, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, nil, model.Validationf("concept_key", "must not be empty")
	}

	if existing, ok := s.byKey[key]; ok {
		prev := existing.Clone()
		existing.Evidence++
		existing.SetImportance(existing.Importance + evidenceImportanceStep)
		if now.UTC().After(existing.LastAccessedAt) {
			existing.LastAccessedAt = now.UTC()
		}
		existing.SourceIDs = append(existing.SourceIDs, evidence.ID)
		undo := func() { *existing = *prev }
		return existing, undo, nil
	}

	var evicted *model.Item
	if len(s.byKey) >= s.capacity {
		evicted = s.evictionVictim()
		if evicted == nil {
			return nil, nil, fmt.Errorf("semantic full: %w", model.ErrCapacityExhausted)
		}
		s.remove(evicted)
		s.logger.Debug("evicted semantic concept",
			zap.String("id", evicted.ID),
			zap.String("concept_key", evicted.ConceptKey),
			zap.Int("evidence", evicted.Evidence))
	}

	concept := &model.Item{
		ID:             model.NewID(),
		Payload:        evidence.Payload,
		Tier:           model.TierSemantic,
		CreatedAt:      now.UTC(),
		LastAccessedAt: now.UTC(),
		Importance:     evidence.Importance,
		Tags:           evidence.Tags,
		DecayRate:      evidence.DecayRate,
		ConceptKey:     key,
		Evidence:       1,
		SourceIDs:      []string{evidence.ID},
	}
	s.byKey[key] = concept
	s.byID[concept.ID] = concept

	undo := func() {
		s.remove(concept)
		if evicted != nil {
			s.byKey[evicted.ConceptKey] = evicted
			s.byID[evicted.ID] = evicted
		}
	}
	return concept, undo, nil
}

// evictionVictim picks the lowest-evidence concept, then lowest
// importance, then lowest id.
func (s *Semantic) evictionVictim() *model.Item {
	var victim *model.Item
	for _, c := range s.byKey {
		if victim == nil {
			victim = c
			continue
		}
		switch {
		case c.Evidence != victim.Evidence:
			if c.Evidence < victim.Evidence {
				victim = c
			}
		case c.Importance != victim.Importance:
			if c.Importance < victim.Importance {
				victim = c
			}
		case c.ID < victim.ID:
			victim = c
		}
	}
	return victim
}

// Lookup returns the concept stored under key, or nil.
func (s *Semantic) Lookup(key string) *model.Item {
	return s.byKey[NormalizeKey(key)]
}

// Get returns the concept with the given id, or nil.
func (s *Semantic) Get(id string) *model.Item {
	return s.byID[id]
}

// Remove stages deletion of a concept by id, returning it plus an undo.
func (s *Semantic) Remove(id string) (*model.Item, Undo) {
	concept, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	s.remove(concept)
	return concept, func() {
		s.byKey[concept.ConceptKey] = concept
		s.byID[concept.ID] = concept
	}
}

func (s *Semantic) remove(c *model.Item) {
	delete(s.byKey, c.ConceptKey)
	delete(s.byID, c.ID)
}

// Query ranks concepts whose key or payload contains the text, weighted
// by importance and accumulated evidence.
func (s *Semantic) Query(p QueryParams) []Scored {
	needle := strings.ToLower(p.Text)
	var results []Scored
	for _, c := range s.byKey {
		if needle != "" &&
			!strings.Contains(c.ConceptKey, needle) &&
			!strings.Contains(strings.ToLower(c.Payload), needle) {
			continue
		}
		if !matchTags(c.Tags, p) {
			continue
		}
		// Evidence saturates: each extra source counts for less.
		evidence := 1.0 - 1.0/float64(1+c.Evidence)
		results = append(results, Scored{Item: c, Score: 0.6*c.Importance + 0.4*evidence})
	}
	SortScored(results)
	return limitScored(results, p.Limit)
}

// All returns every concept ordered by key.
func (s *Semantic) All() []*model.Item {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*model.Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.byKey[k])
	}
	return out
}

// Len returns the number of stored concepts.
func (s *Semantic) Len() int {
	return len(s.byKey)
}

// Capacity returns the configured capacity.
func (s *Semantic) Capacity() int {
	return s.capacity
}

// Clear drops all concepts.
func (s *Semantic) Clear() {
	s.byKey = make(map[string]*model.Item)
	s.byID = make(map[string]*model.Item)
}

// Restore replaces the concept set. Used by load and import.
func (s *Semantic) Restore(items []*model.Item) {
	s.Clear()
	for _, it := range items {
		key := NormalizeKey(it.ConceptKey)
		if key == "" {
			key = NormalizeKey(it.Payload)
		}
		it.ConceptKey = key
		s.byKey[key] = it
		s.byID[it.ID] = it
	}
}

// Marshal serializes the concept set for an atomic durable write.
func (s *Semantic) Marshal() ([]byte, error) {
	items := s.All()
	if items == nil {
		items = []*model.Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal semantic: %v", model.ErrPersistence, err)
	}
	return data, nil
}

// Path returns the canonical durable location for this tier.
func (s *Semantic) Path() string {
	return s.file.Path()
}
