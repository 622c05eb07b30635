package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/persist"
)

// Export serializes the entire memory state as one versioned snapshot.
// All three tier read locks are held together so the snapshot is a
// consistent cross-tier view.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	if err := m.locks.ShortTerm.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer m.locks.ShortTerm.RUnlock()
	if err := m.locks.Episodic.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer m.locks.Episodic.RUnlock()
	if err := m.locks.Semantic.RLock(ctx, m.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer m.locks.Semantic.RUnlock()

	snap := &persist.Snapshot{
		ExportedAt: time.Now().UTC(),
		ShortTerm:  m.cloneAll(m.short.All()),
		Episodic:   m.cloneAll(m.ep.All()),
		Semantic:   m.cloneAll(m.sem.All()),
	}
	return persist.EncodeSnapshot(snap)
}

// Import replaces the entire memory state with a snapshot. The snapshot
// is validated in full before any mutation; on any failure the call
// returns with the previous state intact.
func (m *Manager) Import(ctx context.Context, data []byte) error {
	snap, err := persist.DecodeSnapshot(data)
	if err != nil {
		return err
	}
	if err := m.validateSnapshot(snap); err != nil {
		return err
	}

	if err := m.locks.LockAll(ctx, m.cfg.LockTimeout); err != nil {
		return err
	}
	// Capture the rollback state under the locks so a concurrent writer
	// can't slip a mutation between the capture and the swap.
	prevShort := m.cloneAll(m.short.All())
	prevEp := m.cloneAll(m.ep.All())
	prevSem := m.cloneAll(m.sem.All())
	prevEpData, prevErr := m.ep.Marshal()
	if prevErr != nil {
		m.locks.UnlockAll()
		return prevErr
	}
	m.short.Restore(snap.ShortTerm)
	m.ep.Restore(snap.Episodic)
	m.sem.Restore(snap.Semantic)
	epData, epErr := m.ep.Marshal()
	semData, semErr := m.sem.Marshal()
	m.locks.UnlockAll()

	if epErr != nil {
		m.restore(ctx, prevShort, prevEp, prevSem)
		return epErr
	}
	if semErr != nil {
		m.restore(ctx, prevShort, prevEp, prevSem)
		return semErr
	}
	if err := persist.WriteAtomic(m.ep.Path(), epData); err != nil {
		m.restore(ctx, prevShort, prevEp, prevSem)
		return err
	}
	if err := persist.WriteAtomic(m.sem.Path(), semData); err != nil {
		// The episodic file already holds the imported set; put the
		// previous contents back so durable state stays consistent.
		if werr := persist.WriteAtomic(m.ep.Path(), prevEpData); werr != nil {
			m.logger.Warn("episodic rollback write failed", zap.Error(werr))
		}
		m.restore(ctx, prevShort, prevEp, prevSem)
		return err
	}

	m.logger.Info("snapshot imported",
		zap.Int("short_term", len(snap.ShortTerm)),
		zap.Int("episodic", len(snap.Episodic)),
		zap.Int("semantic", len(snap.Semantic)))
	return nil
}

// validateSnapshot enforces tier capacities, id uniqueness across all
// tiers, and per-item ranges before any state is touched.
func (m *Manager) validateSnapshot(snap *persist.Snapshot) error {
	if len(snap.ShortTerm) > m.cfg.ShortTermCapacity {
		return model.Validationf("short_term", "%d items exceed capacity %d", len(snap.ShortTerm), m.cfg.ShortTermCapacity)
	}
	if len(snap.Episodic) > m.cfg.EpisodicCapacity {
		return model.Validationf("episodic", "%d items exceed capacity %d", len(snap.Episodic), m.cfg.EpisodicCapacity)
	}
	if len(snap.Semantic) > m.cfg.SemanticCapacity {
		return model.Validationf("semantic", "%d items exceed capacity %d", len(snap.Semantic), m.cfg.SemanticCapacity)
	}

	seen := make(map[string]bool)
	check := func(items []*model.Item, tier model.Tier) error {
		for _, it := range items {
			if it == nil || it.ID == "" {
				return model.Validationf("item", "missing id in %s tier", tier)
			}
			if seen[it.ID] {
				return model.Validationf("item", "duplicate id %s", it.ID)
			}
			seen[it.ID] = true
			if it.Importance < 0 || it.Importance > 1 {
				return model.Validationf("item", "%s importance %v outside [0, 1]", it.ID, it.Importance)
			}
			if m.cfg.MaxItemSize > 0 && len(it.Payload) > m.cfg.MaxItemSize {
				return model.Validationf("item", "%s payload exceeds size limit", it.ID)
			}
			it.Tier = tier
		}
		return nil
	}
	if err := check(snap.ShortTerm, model.TierShortTerm); err != nil {
		return err
	}
	if err := check(snap.Episodic, model.TierEpisodic); err != nil {
		return err
	}
	if err := check(snap.Semantic, model.TierSemantic); err != nil {
		return err
	}
	for _, it := range snap.Semantic {
		if it.ConceptKey == "" && it.Payload == "" {
			return fmt.Errorf("invalid semantic item %s: no concept key", it.ID)
		}
	}
	return nil
}
