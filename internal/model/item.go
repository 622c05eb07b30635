// Package model defines the core memory data types.
package model

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Tier identifies which memory store owns an item. An item belongs to
// exactly one tier at any instant.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierEpisodic  Tier = "episodic"
	TierSemantic  Tier = "semantic"
)

// ValidTiers are the recognized tier names.
var ValidTiers = map[Tier]bool{
	TierShortTerm: true,
	TierEpisodic:  true,
	TierSemantic:  true,
}

// Tags are the collaborator-supplied indexing hints attached to an item.
// The payload itself is opaque; only these fields are ever indexed.
type Tags struct {
	Entities []string `json:"entities,omitempty"`
	Emotion  string   `json:"emotion,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

// Empty reports whether no indexing hints were supplied.
func (t Tags) Empty() bool {
	return len(t.Entities) == 0 && t.Emotion == "" && len(t.Topics) == 0
}

// Item is the unit of storage. All timestamps are UTC.
//
// ConceptKey, Evidence and SourceIDs are populated only for items in the
// semantic tier, where multiple episodic records merge into one concept.
type Item struct {
	ID             string    `json:"id"`
	Payload        string    `json:"payload"`
	Tier           Tier      `json:"tier"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Importance     float64   `json:"importance"`
	AccessCount    int       `json:"access_count"`
	Tags           Tags      `json:"tags,omitempty"`
	DecayRate      float64   `json:"decay_rate"`

	ConceptKey string   `json:"concept_key,omitempty"`
	Evidence   int      `json:"evidence,omitempty"`
	SourceIDs  []string `json:"source_ids,omitempty"`
}

// Touch records a successful retrieval: bumps the access count and advances
// last_accessed_at, which is monotonically non-decreasing.
func (m *Item) Touch(now time.Time) {
	m.AccessCount++
	if now.After(m.LastAccessedAt) {
		m.LastAccessedAt = now.UTC()
	}
}

// SetImportance assigns importance clamped to [0.0, 1.0].
func (m *Item) SetImportance(v float64) {
	m.Importance = ClampImportance(v)
}

// ClampImportance bounds a score to [0.0, 1.0].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clone returns a deep copy, so callers never hold references into a tier.
func (m *Item) Clone() *Item {
	c := *m
	c.Tags.Entities = append([]string(nil), m.Tags.Entities...)
	c.Tags.Topics = append([]string(nil), m.Tags.Topics...)
	c.SourceIDs = append([]string(nil), m.SourceIDs...)
	return &c
}

// idEntropy feeds monotonic ULID generation. ULIDs sort by creation time,
// which doubles as the deterministic tie-break for equal eviction scores.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a new ULID string.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}
