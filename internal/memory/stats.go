package memory

import (
	"context"
)

// TierStats holds occupancy for one tier.
type TierStats struct {
	Count    int `json:"count"`
	Capacity int `json:"capacity"`
}

// Stats is the observable state of the memory subsystem.
type Stats struct {
	ShortTerm         TierStats `json:"short_term"`
	Episodic          TierStats `json:"episodic"`
	Semantic          TierStats `json:"semantic"`
	ColdArchived      int       `json:"cold_archived"`
	TotalItems        int       `json:"total_items"`
	ConsolidationRuns int       `json:"consolidation_runs"`
	DataDir           string    `json:"data_dir"`
}

// Stats returns per-tier counts and consolidation totals.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DataDir: m.cfg.DataDir}

	if err := m.locks.ShortTerm.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	st.ShortTerm = TierStats{Count: m.short.Len(), Capacity: m.short.Capacity()}
	m.locks.ShortTerm.RUnlock()

	if err := m.locks.Episodic.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	st.Episodic = TierStats{Count: m.ep.Len(), Capacity: m.ep.Capacity()}
	m.locks.Episodic.RUnlock()

	if err := m.locks.Semantic.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	st.Semantic = TierStats{Count: m.sem.Len(), Capacity: m.sem.Capacity()}
	m.locks.Semantic.RUnlock()

	cold, err := m.cold.Count(ctx)
	if err != nil {
		return nil, err
	}
	st.ColdArchived = cold
	st.TotalItems = st.ShortTerm.Count + st.Episodic.Count + st.Semantic.Count
	st.ConsolidationRuns = m.engine.Runs()
	return st, nil
}
