package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/index"
	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/persist"
)

// Relevance weights for episodic queries. Fixed and documented so the
// ranking is reproducible.
const (
	weightTimeProximity = 0.4
	weightTagOverlap    = 0.4
	weightImportance    = 0.2
)

// Episodic is the persisted store of experience items, indexed by time,
// entity and emotion. Capacity pressure removes the item with the lowest
// importance * recency_weight composite; the victim is handed back to the
// manager for demotion to cold storage.
type Episodic struct {
	items    map[string]*model.Item
	idx      *index.Index
	file     *persist.TierFile
	capacity int
	halfLife time.Duration
	logger   *zap.Logger
}

// NewEpisodic creates an episodic store persisted under dir.
func NewEpisodic(dir string, capacity int, halfLife time.Duration, logger *zap.Logger) *Episodic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Episodic{
		items:    make(map[string]*model.Item),
		idx:      index.New(),
		file:     persist.NewTierFile(dir, "episodic"),
		capacity: capacity,
		halfLife: halfLife,
		logger:   logger.With(zap.String("component", "episodic")),
	}
}

// Load restores the durable item set from disk.
func (s *Episodic) Load() error {
	items, err := s.file.Load()
	if err != nil {
		return fmt.Errorf("load episodic: %w", err)
	}
	s.Restore(items)
	return nil
}

// Admit stages an item into the tier. When full, the lowest-composite
// resident is removed first and returned as the demotion candidate.
// The returned undo reverts both the insert and the removal.
func (s *Episodic) Admit(item *model.Item, now time.Time) (victim *model.Item, undo Undo, err error) {
	if _, ok := s.items[item.ID]; ok {
		return nil, nil, fmt.Errorf("admit %s: duplicate id", item.ID)
	}

	if len(s.items) >= s.capacity {
		victim = s.retentionVictim(now)
		if victim == nil {
			return nil, nil, fmt.Errorf("episodic full: %w", model.ErrCapacityExhausted)
		}
		s.remove(victim.ID)
		s.logger.Debug("demoting episodic item",
			zap.String("id", victim.ID),
			zap.Float64("importance", victim.Importance))
	}

	item.Tier = model.TierEpisodic
	s.items[item.ID] = item
	s.idx.Add(item.ID, item.CreatedAt, item.Tags)

	undo = func() {
		s.remove(item.ID)
		if victim != nil {
			s.items[victim.ID] = victim
			s.idx.Add(victim.ID, victim.CreatedAt, victim.Tags)
		}
	}
	return victim, undo, nil
}

// retentionVictim selects the resident with the lowest
// importance * recency_weight composite, tie-broken by lowest id.
func (s *Episodic) retentionVictim(now time.Time) *model.Item {
	var victim *model.Item
	var victimScore float64
	for _, it := range s.items {
		score := it.Importance * recencyWeight(now.Sub(it.LastAccessedAt), s.halfLife)
		if victim == nil || score < victimScore || (score == victimScore && it.ID < victim.ID) {
			victim = it
			victimScore = score
		}
	}
	return victim
}

// Get returns the item with the given id, or nil.
func (s *Episodic) Get(id string) *model.Item {
	return s.items[id]
}

// Remove stages deletion of an item, returning it plus an undo.
func (s *Episodic) Remove(id string) (*model.Item, Undo) {
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	s.remove(id)
	return item, func() {
		s.items[item.ID] = item
		s.idx.Add(item.ID, item.CreatedAt, item.Tags)
	}
}

func (s *Episodic) remove(id string) {
	delete(s.items, id)
	s.idx.Remove(id)
}

// Query ranks matching items by 0.4 time-proximity + 0.4 tag overlap +
// 0.2 importance.
func (s *Episodic) Query(p QueryParams, now time.Time) []Scored {
	candidates := s.candidateIDs(p)
	needle := strings.ToLower(p.Text)

	var results []Scored
	for _, id := range candidates {
		it := s.items[id]
		if it == nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(it.Payload), needle) {
			continue
		}
		score := weightTimeProximity*s.timeProximity(it, p, now) +
			weightTagOverlap*tagOverlap(it.Tags, p) +
			weightImportance*it.Importance
		results = append(results, Scored{Item: it, Score: score})
	}
	SortScored(results)
	return limitScored(results, p.Limit)
}

// candidateIDs narrows the scan through the index where the query allows.
func (s *Episodic) candidateIDs(p QueryParams) []string {
	switch {
	case p.Entity != "":
		return s.idx.ByEntity(p.Entity)
	case p.Emotion != "":
		return s.idx.ByEmotion(p.Emotion)
	case p.Topic != "":
		return s.idx.ByTopic(p.Topic)
	default:
		return s.idx.ByTimeRange(p.From, p.To)
	}
}

// timeProximity scores closeness to the query's time range, or plain
// recency when no range was given.
func (s *Episodic) timeProximity(it *model.Item, p QueryParams, now time.Time) float64 {
	ref := now
	if !p.From.IsZero() && !p.To.IsZero() {
		ref = p.From.Add(p.To.Sub(p.From) / 2)
	} else if !p.From.IsZero() {
		ref = p.From
	} else if !p.To.IsZero() {
		ref = p.To
	}
	d := ref.Sub(it.CreatedAt)
	if d < 0 {
		d = -d
	}
	return recencyWeight(d, s.halfLife)
}

// tagOverlap is the fraction of requested tag dimensions the item matches.
// A query with no tag filters contributes zero overlap.
func tagOverlap(tags model.Tags, p QueryParams) float64 {
	requested, matched := 0, 0
	if p.Entity != "" {
		requested++
		if containsString(tags.Entities, p.Entity) {
			matched++
		}
	}
	if p.Emotion != "" {
		requested++
		if tags.Emotion == p.Emotion {
			matched++
		}
	}
	if p.Topic != "" {
		requested++
		if containsString(tags.Topics, p.Topic) {
			matched++
		}
	}
	if requested == 0 {
		return 0
	}
	return float64(matched) / float64(requested)
}

// recencyWeight decays exponentially with age, halving every halfLife.
func recencyWeight(age time.Duration, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
}

// All returns every resident item, in index time order.
func (s *Episodic) All() []*model.Item {
	ids := s.idx.ByTimeRange(time.Time{}, time.Time{})
	out := make([]*model.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out
}

// Len returns the number of resident items.
func (s *Episodic) Len() int {
	return len(s.items)
}

// Capacity returns the configured capacity.
func (s *Episodic) Capacity() int {
	return s.capacity
}

// Clear drops all resident items and index entries.
func (s *Episodic) Clear() {
	s.items = make(map[string]*model.Item)
	s.idx.Clear()
}

// Restore replaces the resident set. Used by load and import.
func (s *Episodic) Restore(items []*model.Item) {
	s.Clear()
	for _, it := range items {
		s.items[it.ID] = it
		s.idx.Add(it.ID, it.CreatedAt, it.Tags)
	}
}

// Marshal serializes the item set for an atomic durable write. Called
// under the tier lock; the write itself happens after release.
func (s *Episodic) Marshal() ([]byte, error) {
	items := s.All()
	if items == nil {
		items = []*model.Item{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal episodic: %v", model.ErrPersistence, err)
	}
	return data, nil
}

// Path returns the canonical durable location for this tier.
func (s *Episodic) Path() string {
	return s.file.Path()
}
