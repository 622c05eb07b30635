package model

import "time"

// DefaultImportance is assumed when a collaborator supplies no hint.
const DefaultImportance = 0.5

// IngressRecord is the structured record collaborators submit to store a
// memory. The field set is closed: hints outside these fields are not
// accepted anywhere in the subsystem.
type IngressRecord struct {
	Payload        string   `json:"payload"`
	ImportanceHint *float64 `json:"importance_hint,omitempty"`
	Tags           Tags     `json:"tags,omitempty"`
	TierHint       Tier     `json:"tier_hint,omitempty"`
	DecayRate      *float64 `json:"decay_rate,omitempty"`
	ConceptKey     string   `json:"concept_key,omitempty"`
}

// Validate rejects malformed or out-of-range records before any mutation.
// maxPayload bounds payload bytes under adversarial input.
func (r *IngressRecord) Validate(maxPayload int) error {
	if r.Payload == "" {
		return Validationf("payload", "must not be empty")
	}
	if maxPayload > 0 && len(r.Payload) > maxPayload {
		return Validationf("payload", "size %d exceeds limit %d", len(r.Payload), maxPayload)
	}
	if r.ImportanceHint != nil {
		if v := *r.ImportanceHint; v < 0 || v > 1 {
			return Validationf("importance_hint", "%v outside [0.0, 1.0]", v)
		}
	}
	if r.DecayRate != nil && *r.DecayRate < 0 {
		return Validationf("decay_rate", "must not be negative")
	}
	if r.TierHint != "" && r.TierHint != TierShortTerm && r.TierHint != TierEpisodic {
		return Validationf("tier_hint", "%q is not an admissible tier", r.TierHint)
	}
	return nil
}

// NewItem builds a fresh item from a validated ingress record.
func (r *IngressRecord) NewItem(now time.Time, defaultDecayRate float64) *Item {
	now = now.UTC()
	importance := DefaultImportance
	if r.ImportanceHint != nil {
		importance = *r.ImportanceHint
	}
	decay := defaultDecayRate
	if r.DecayRate != nil {
		decay = *r.DecayRate
	}
	tier := TierShortTerm
	if r.TierHint != "" {
		tier = r.TierHint
	}
	return &Item{
		ID:             NewID(),
		Payload:        r.Payload,
		Tier:           tier,
		CreatedAt:      now,
		LastAccessedAt: now,
		Importance:     ClampImportance(importance),
		Tags:           r.Tags,
		DecayRate:      decay,
		ConceptKey:     r.ConceptKey,
	}
}

// RetrievedItem is the egress record returned to collaborators. It carries
// no lock or persistence state.
type RetrievedItem struct {
	ID             string    `json:"id"`
	Payload        string    `json:"payload"`
	Tier           Tier      `json:"tier"`
	Importance     float64   `json:"importance"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Score          float64   `json:"score"`
}

// Egress converts an item to its external representation.
func (m *Item) Egress(score float64) RetrievedItem {
	return RetrievedItem{
		ID:             m.ID,
		Payload:        m.Payload,
		Tier:           m.Tier,
		Importance:     m.Importance,
		CreatedAt:      m.CreatedAt,
		LastAccessedAt: m.LastAccessedAt,
		Score:          score,
	}
}
