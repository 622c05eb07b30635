// Package memory provides the public façade over the tiered stores: it
// routes store/retrieve/export/import calls to the correct tiers, owns
// the cross-tier lock protocol, and exposes statistics.
package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/config"
	"github.com/rcliao/tiered-memory/internal/consolidate"
	"github.com/rcliao/tiered-memory/internal/locking"
	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/persist"
	"github.com/rcliao/tiered-memory/internal/store"
)

// Manager is the sole public entry point to the memory subsystem. Safe
// for concurrent use: each tier has its own reader/writer lock and
// cross-tier operations take locks in the fixed order short-term,
// episodic, semantic.
type Manager struct {
	cfg    config.Config
	short  *store.ShortTerm
	ep     *store.Episodic
	sem    *store.Semantic
	cold   *store.Cold
	locks  locking.Set
	engine *consolidate.Engine
	logger *zap.Logger
}

// New constructs a manager, loading any durable tier state from
// cfg.DataDir.
func New(cfg config.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configure memory: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		short:  store.NewShortTerm(cfg.ShortTermCapacity, cfg.ProtectThreshold, logger),
		ep:     store.NewEpisodic(cfg.DataDir, cfg.EpisodicCapacity, cfg.RecencyHalfLife, logger),
		sem:    store.NewSemantic(cfg.DataDir, cfg.SemanticCapacity, logger),
		logger: logger.With(zap.String("component", "memory_manager")),
	}

	cold, err := store.NewCold(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open cold storage: %w", err)
	}
	m.cold = cold

	if err := m.ep.Load(); err != nil {
		cold.Close()
		return nil, err
	}
	if err := m.sem.Load(); err != nil {
		cold.Close()
		return nil, err
	}

	m.engine = consolidate.New(cfg, m.short, m.ep, m.sem, m.cold, &m.locks, logger)
	return m, nil
}

// Close releases the cold-storage handle. Tier files are already durable.
func (m *Manager) Close() error {
	return m.cold.Close()
}

// Config returns the effective configuration.
func (m *Manager) Config() config.Config {
	return m.cfg
}

// Store validates an ingress record and admits it as a new item. The
// default destination is the short-term tier; a tier hint of episodic
// admits already-consolidated bulk imports directly, durably.
func (m *Manager) Store(ctx context.Context, rec model.IngressRecord) (string, error) {
	if err := rec.Validate(m.cfg.MaxItemSize); err != nil {
		return "", err
	}
	item := rec.NewItem(time.Now(), m.cfg.DefaultDecayRate)

	if item.Tier == model.TierEpisodic {
		if err := m.admitEpisodic(ctx, item); err != nil {
			return "", err
		}
		return item.ID, nil
	}

	if err := m.locks.ShortTerm.Lock(ctx, m.cfg.LockTimeout); err != nil {
		return "", err
	}
	evicted, err := m.short.Admit(item)
	m.locks.ShortTerm.Unlock()
	if err != nil {
		return "", err
	}
	if evicted != nil {
		// Evicted without promotion: the transient item is gone.
		m.logger.Debug("short-term eviction", zap.String("id", evicted.ID))
	}
	return item.ID, nil
}

// admitEpisodic stages an episodic insert under the tier lock, confirms
// durability after releasing it, and rolls the staged mutation back when
// the durable write fails.
func (m *Manager) admitEpisodic(ctx context.Context, item *model.Item) error {
	if err := m.locks.Episodic.Lock(ctx, m.cfg.LockTimeout); err != nil {
		return err
	}
	victim, undo, err := m.ep.Admit(item, time.Now().UTC())
	if err != nil {
		m.locks.Episodic.Unlock()
		return err
	}
	data, err := m.ep.Marshal()
	if err != nil {
		undo()
		m.locks.Episodic.Unlock()
		return err
	}
	m.locks.Episodic.Unlock()

	if err := persist.WriteAtomic(m.ep.Path(), data); err != nil {
		if lockErr := m.locks.Episodic.Lock(ctx, m.cfg.LockTimeout); lockErr == nil {
			undo()
			m.locks.Episodic.Unlock()
		} else {
			m.logger.Warn("episodic rollback blocked", zap.String("id", item.ID), zap.Error(lockErr))
		}
		return err
	}

	if victim != nil {
		if err := m.cold.Archive(ctx, victim, "episodic capacity demotion"); err != nil {
			m.logger.Warn("failed to archive demoted item",
				zap.String("id", victim.ID), zap.Error(err))
		}
	}
	return nil
}

// Touch updates access metadata for an item without returning content.
func (m *Manager) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC()

	if err := m.locks.ShortTerm.Lock(ctx, m.cfg.LockTimeout); err != nil {
		return err
	}
	if it := m.short.Get(id); it != nil {
		it.Touch(now)
		m.locks.ShortTerm.Unlock()
		return nil
	}
	m.locks.ShortTerm.Unlock()

	if err := m.locks.Episodic.Lock(ctx, m.cfg.LockTimeout); err != nil {
		return err
	}
	if it := m.ep.Get(id); it != nil {
		it.Touch(now)
		m.locks.Episodic.Unlock()
		return nil
	}
	m.locks.Episodic.Unlock()

	if err := m.locks.Semantic.Lock(ctx, m.cfg.LockTimeout); err != nil {
		return err
	}
	if it := m.sem.Get(id); it != nil {
		it.Touch(now)
		m.locks.Semantic.Unlock()
		return nil
	}
	m.locks.Semantic.Unlock()

	return fmt.Errorf("%s: %w", id, model.ErrNotFound)
}

// Consolidate runs one consolidation pass and returns its report.
func (m *Manager) Consolidate(ctx context.Context) (*consolidate.Report, error) {
	return m.engine.Run(ctx)
}

// ConsolidationDue reports whether the configured interval has elapsed
// since the last pass. The caller decides cadence.
func (m *Manager) ConsolidationDue() bool {
	return m.engine.ShouldRun(time.Now())
}

// Cold exposes the archive for audit queries.
func (m *Manager) Cold() *store.Cold {
	return m.cold
}

// Clear resets all tiers, their durable files and the cold archive.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.locks.LockAll(ctx, m.cfg.LockTimeout); err != nil {
		return err
	}
	// Rollback state is captured under the locks, same as Import.
	prevShort := m.cloneAll(m.short.All())
	prevEp := m.cloneAll(m.ep.All())
	prevSem := m.cloneAll(m.sem.All())
	prevEpData, prevErr := m.ep.Marshal()
	if prevErr != nil {
		m.locks.UnlockAll()
		return prevErr
	}
	m.short.Clear()
	m.ep.Clear()
	m.sem.Clear()
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
		if werr := persist.WriteAtomic(m.ep.Path(), prevEpData); werr != nil {
			m.logger.Warn("episodic rollback write failed", zap.Error(werr))
		}
		m.restore(ctx, prevShort, prevEp, prevSem)
		return err
	}
	if err := m.cold.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clear cold storage: %v", model.ErrPersistence, err)
	}
	m.logger.Info("memory cleared")
	return nil
}

func (m *Manager) cloneAll(items []*model.Item) []*model.Item {
	out := make([]*model.Item, 0, len(items))
	for _, it := range items {
		out = append(out, it.Clone())
	}
	return out
}

// restore swaps previously captured tier contents back in after a failed
// multi-tier mutation, keeping memory aligned with durable state.
func (m *Manager) restore(ctx context.Context, short, ep, sem []*model.Item) {
	if err := m.locks.LockAll(ctx, m.cfg.LockTimeout); err != nil {
		m.logger.Warn("state restore blocked", zap.Error(err))
		return
	}
	m.short.Restore(short)
	m.ep.Restore(ep)
	m.sem.Restore(sem)
	m.locks.UnlockAll()
}
