package memory

import (
	"context"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/store"
)

// Scope selects which tiers a retrieval fans out to.
type Scope string

const (
	// ScopeAll queries every tier.
	ScopeAll Scope = "all"
	// ScopeRecent queries short-term and episodic only, skipping the
	// semantic tier's long-lived concepts.
	ScopeRecent Scope = "recent"
)

// Query describes a cross-tier retrieval.
type Query struct {
	Text    string    `json:"text,omitempty"`
	Entity  string    `json:"entity,omitempty"`
	Emotion string    `json:"emotion,omitempty"`
	Topic   string    `json:"topic,omitempty"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
	Scope   Scope     `json:"scope,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

func (q Query) params() store.QueryParams {
	return store.QueryParams{
		Text:    q.Text,
		From:    q.From,
		To:      q.To,
		Entity:  q.Entity,
		Emotion: q.Emotion,
		Topic:   q.Topic,
		// Per-tier limit stays open; the cap applies after the merge.
	}
}

// Retrieve fans the query across the tiers in scope, merges the per-tier
// rankings into one globally ordered result, caps it at q.Limit, and
// records an access on every returned item.
//
// Each tier is read under its own momentary read lock, so retrieval runs
// fully in parallel with other reads and never waits out a whole
// consolidation pass.
func (m *Manager) Retrieve(ctx context.Context, q Query) ([]model.RetrievedItem, error) {
	if q.Limit < 0 {
		return nil, model.Validationf("limit", "must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = 10
	}
	if q.Scope == "" {
		q.Scope = ScopeAll
	}
	if q.Scope != ScopeAll && q.Scope != ScopeRecent {
		return nil, model.Validationf("scope", "%q is not a recognized scope", q.Scope)
	}
	p := q.params()

	var merged []store.Scored

	if err := m.locks.ShortTerm.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	merged = append(merged, cloneScored(m.short.Query(p))...)
	m.locks.ShortTerm.RUnlock()

	if err := m.locks.Episodic.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	merged = append(merged, cloneScored(m.ep.Query(p, time.Now().UTC()))...)
	m.locks.Episodic.RUnlock()

	if q.Scope == ScopeAll {
		if err := m.locks.Semantic.RLock(ctx, m.cfg.LockTimeout); err != nil {
			return nil, err
		}
		merged = append(merged, cloneScored(m.sem.Query(p))...)
		m.locks.Semantic.RUnlock()
	}

	store.SortScored(merged)
	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}

	out := make([]model.RetrievedItem, 0, len(merged))
	for _, s := range merged {
		out = append(out, s.Item.Egress(s.Score))
	}

	// Access metadata updates in memory now and reaches disk with the
	// tier's next durable write, matching how mutations are acknowledged.
	m.touchRetrieved(ctx, out)
	return out, nil
}

// cloneScored detaches results from tier-owned items before the lock is
// released.
func cloneScored(in []store.Scored) []store.Scored {
	out := make([]store.Scored, 0, len(in))
	for _, s := range in {
		out = append(out, store.Scored{Item: s.Item.Clone(), Score: s.Score})
	}
	return out
}

func (m *Manager) touchRetrieved(ctx context.Context, results []model.RetrievedItem) {
	for _, r := range results {
		if err := m.Touch(ctx, r.ID); err != nil {
			// The item may have moved tiers since the read; harmless.
			continue
		}
	}
}
