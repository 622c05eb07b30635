package store

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/model"
)

// ShortTerm is the bounded, recency-ordered working tier. Purely
// in-memory: it holds transient context and is volatile by default.
type ShortTerm struct {
	items    []*model.Item
	byID     map[string]*model.Item
	capacity int
	// protect shields items at or above this importance from
	// insertion-order eviction.
	protect float64
	logger  *zap.Logger
}

// NewShortTerm creates a short-term store with a fixed capacity.
func NewShortTerm(capacity int, protectThreshold float64, logger *zap.Logger) *ShortTerm {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShortTerm{
		byID:     make(map[string]*model.Item),
		capacity: capacity,
		protect:  protectThreshold,
		logger:   logger.With(zap.String("component", "short_term")),
	}
}

// Admit inserts an item, evicting first when at capacity. Eviction walks
// from the oldest item forward, skipping any whose importance is at or
// above the protect threshold. When every resident item is protected the
// incoming item is rejected with model.ErrCapacityExhausted.
// Returns the evicted item, if any.
func (s *ShortTerm) Admit(item *model.Item) (*model.Item, error) {
	if _, ok := s.byID[item.ID]; ok {
		return nil, fmt.Errorf("admit %s: duplicate id", item.ID)
	}

	var evicted *model.Item
	if len(s.items) >= s.capacity {
		idx := -1
		for i, it := range s.items {
			if it.Importance < s.protect {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("short-term full, all %d items protected: %w", len(s.items), model.ErrCapacityExhausted)
		}
		evicted = s.items[idx]
		s.items = append(s.items[:idx], s.items[idx+1:]...)
		delete(s.byID, evicted.ID)
		s.logger.Debug("evicted short-term item",
			zap.String("id", evicted.ID),
			zap.Float64("importance", evicted.Importance))
	}

	item.Tier = model.TierShortTerm
	s.items = append(s.items, item)
	s.byID[item.ID] = item
	return evicted, nil
}

// Peek returns the n most recent items, newest first, without touching
// access metadata.
func (s *ShortTerm) Peek(n int) []*model.Item {
	if n <= 0 || n > len(s.items) {
		n = len(s.items)
	}
	out := make([]*model.Item, 0, n)
	for i := len(s.items) - 1; i >= len(s.items)-n; i-- {
		out = append(out, s.items[i])
	}
	return out
}

// EvictOldest removes and returns the oldest item regardless of
// protection. Nil when empty.
func (s *ShortTerm) EvictOldest() *model.Item {
	if len(s.items) == 0 {
		return nil
	}
	oldest := s.items[0]
	s.items = s.items[1:]
	delete(s.byID, oldest.ID)
	return oldest
}

// Get returns the item with the given id, or nil.
func (s *ShortTerm) Get(id string) *model.Item {
	return s.byID[id]
}

// Remove deletes an item by id, returning it, or nil when absent.
func (s *ShortTerm) Remove(id string) *model.Item {
	item, ok := s.byID[id]
	if !ok {
		return nil
	}
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
	return item
}

// Query scores resident items against a text/tag query. Short-term
// relevance is substring match weighted by importance and insertion
// recency.
func (s *ShortTerm) Query(p QueryParams) []Scored {
	var results []Scored
	needle := strings.ToLower(p.Text)
	for i, it := range s.items {
		if needle != "" && !strings.Contains(strings.ToLower(it.Payload), needle) {
			continue
		}
		if !matchTags(it.Tags, p) {
			continue
		}
		recency := float64(i+1) / float64(len(s.items))
		results = append(results, Scored{Item: it, Score: 0.5*recency + 0.5*it.Importance})
	}
	SortScored(results)
	return limitScored(results, p.Limit)
}

// All returns the resident items in insertion order.
func (s *ShortTerm) All() []*model.Item {
	return append([]*model.Item(nil), s.items...)
}

// Len returns the number of resident items.
func (s *ShortTerm) Len() int {
	return len(s.items)
}

// Capacity returns the configured capacity.
func (s *ShortTerm) Capacity() int {
	return s.capacity
}

// Clear drops all resident items.
func (s *ShortTerm) Clear() {
	s.items = nil
	s.byID = make(map[string]*model.Item)
}

// Restore replaces the resident set, oldest first. Used by import.
func (s *ShortTerm) Restore(items []*model.Item) {
	s.Clear()
	for _, it := range items {
		s.items = append(s.items, it)
		s.byID[it.ID] = it
	}
}

func matchTags(tags model.Tags, p QueryParams) bool {
	if p.Entity != "" && !containsString(tags.Entities, p.Entity) {
		return false
	}
	if p.Emotion != "" && tags.Emotion != p.Emotion {
		return false
	}
	if p.Topic != "" && !containsString(tags.Topics, p.Topic) {
		return false
	}
	return true
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
