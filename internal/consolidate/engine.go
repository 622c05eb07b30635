package consolidate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/config"
	"github.com/rcliao/tiered-memory/internal/locking"
	"github.com/rcliao/tiered-memory/internal/model"
	"github.com/rcliao/tiered-memory/internal/persist"
	"github.com/rcliao/tiered-memory/internal/store"
)

// Engine runs discrete, idempotent consolidation passes over the tiers.
// The caller decides cadence; the engine only guarantees that concurrent
// and repeated invocation is safe.
type Engine struct {
	cfg    config.Config
	short  *store.ShortTerm
	ep     *store.Episodic
	sem    *store.Semantic
	cold   *store.Cold
	locks  *locking.Set
	logger *zap.Logger

	runs     atomic.Int64
	lastRun  atomic.Int64 // unix nanos of last completed pass
	inFlight atomic.Bool
}

// New creates a consolidation engine over the given tiers.
func New(cfg config.Config, short *store.ShortTerm, ep *store.Episodic, sem *store.Semantic, cold *store.Cold, locks *locking.Set, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		short:  short,
		ep:     ep,
		sem:    sem,
		cold:   cold,
		locks:  locks,
		logger: logger.With(zap.String("component", "consolidation")),
	}
}

// Runs returns the number of completed passes.
func (e *Engine) Runs() int {
	return int(e.runs.Load())
}

// ShouldRun reports whether the configured interval has elapsed since the
// last completed pass. Advisory only.
func (e *Engine) ShouldRun(now time.Time) bool {
	last := e.lastRun.Load()
	if last == 0 {
		return true
	}
	return now.Sub(time.Unix(0, last)) >= e.cfg.ConsolidationInterval
}

// Run executes one pass: promotion, semantic merge, then decay. Items are
// processed independently; per-item failures land in the report and the
// pass continues. Cancellation between items leaves all invariants intact
// and returns the partial report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	// Passes serialize against each other; reads and writes through the
	// manager proceed normally between per-item critical sections. The
	// wait for a running pass is bounded like any lock acquisition.
	deadline := time.NewTimer(e.cfg.LockTimeout)
	defer deadline.Stop()
	for !e.inFlight.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, model.ErrLockTimeout
		case <-time.After(time.Millisecond):
		}
	}
	defer e.inFlight.Store(false)

	report := &Report{StartedAt: time.Now().UTC()}

	e.promote(ctx, report)
	e.mergeSemantic(ctx, report)
	e.decayTier(ctx, report, model.TierEpisodic)
	e.decayTier(ctx, report, model.TierSemantic)

	report.FinishedAt = time.Now().UTC()
	e.runs.Add(1)
	e.lastRun.Store(report.FinishedAt.UnixNano())

	e.logger.Info("consolidation pass complete",
		zap.Int("promoted", report.Promoted),
		zap.Int("merged", report.Merged),
		zap.Int("decayed", report.Decayed),
		zap.Int("removed", report.Removed),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("interrupted", report.Interrupted))

	if report.Interrupted {
		return report, ctx.Err()
	}
	return report, nil
}

func (e *Engine) promotable(it *model.Item) bool {
	return it.AccessCount >= e.cfg.PromotionAccessThreshold ||
		it.Importance >= e.cfg.PromotionImportanceThreshold
}

// promote moves qualifying short-term items into the episodic tier with an
// importance bonus.
func (e *Engine) promote(ctx context.Context, report *Report) {
	if report.Interrupted {
		return
	}
	ids := e.promotionCandidates(ctx, report)
	for _, id := range ids {
		if ctx.Err() != nil {
			report.Interrupted = true
			return
		}
		if err := e.promoteOne(ctx, id); err != nil {
			report.addError(id, "promote", err)
			continue
		}
		report.Promoted++
	}
}

func (e *Engine) promotionCandidates(ctx context.Context, report *Report) []string {
	if err := e.locks.ShortTerm.RLock(ctx, e.cfg.LockTimeout); err != nil {
		report.addError("", "promote", err)
		report.Interrupted = errors.Is(err, context.Canceled)
		return nil
	}
	defer e.locks.ShortTerm.RUnlock()

	var ids []string
	for _, it := range e.short.All() {
		if e.promotable(it) {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// promoteOne transfers a single item under the short-term and episodic
// locks, then confirms durability outside them. A transfer is an atomic
// remove-then-insert: the item never exists in two tiers at once.
func (e *Engine) promoteOne(ctx context.Context, id string) error {
	if err := e.locks.ShortTerm.Lock(ctx, e.cfg.LockTimeout); err != nil {
		return err
	}
	if err := e.locks.Episodic.Lock(ctx, e.cfg.LockTimeout); err != nil {
		e.locks.ShortTerm.Unlock()
		return err
	}

	item := e.short.Get(id)
	if item == nil || !e.promotable(item) {
		// Already handled by an earlier pass; idempotent skip.
		e.locks.Episodic.Unlock()
		e.locks.ShortTerm.Unlock()
		return nil
	}

	e.short.Remove(id)
	prevImportance := item.Importance
	item.SetImportance(item.Importance + e.cfg.PromotionBonus)

	victim, undoAdmit, err := e.ep.Admit(item, time.Now().UTC())
	if err != nil {
		item.Importance = prevImportance
		item.Tier = model.TierShortTerm
		e.short.Admit(item)
		e.locks.Episodic.Unlock()
		e.locks.ShortTerm.Unlock()
		return err
	}

	data, err := e.ep.Marshal()
	if err != nil {
		undoAdmit()
		item.Importance = prevImportance
		item.Tier = model.TierShortTerm
		e.short.Admit(item)
		e.locks.Episodic.Unlock()
		e.locks.ShortTerm.Unlock()
		return err
	}

	e.locks.Episodic.Unlock()
	e.locks.ShortTerm.Unlock()

	if err := persist.WriteAtomic(e.ep.Path(), data); err != nil {
		e.rollbackPromotion(ctx, item, prevImportance, undoAdmit)
		return err
	}

	if victim != nil {
		if err := e.cold.Archive(ctx, victim, "episodic capacity demotion"); err != nil {
			e.logger.Warn("failed to archive demoted item",
				zap.String("id", victim.ID), zap.Error(err))
		}
	}
	return nil
}

// rollbackPromotion reverts a promotion whose durable write failed. If the
// short-term tier refilled in the meantime the item is archived instead of
// violating its capacity.
func (e *Engine) rollbackPromotion(ctx context.Context, item *model.Item, prevImportance float64, undoAdmit store.Undo) {
	if err := e.locks.ShortTerm.Lock(ctx, e.cfg.LockTimeout); err != nil {
		e.logger.Warn("promotion rollback blocked", zap.String("id", item.ID), zap.Error(err))
		return
	}
	if err := e.locks.Episodic.Lock(ctx, e.cfg.LockTimeout); err != nil {
		e.locks.ShortTerm.Unlock()
		e.logger.Warn("promotion rollback blocked", zap.String("id", item.ID), zap.Error(err))
		return
	}

	undoAdmit()
	item.Importance = prevImportance
	item.Tier = model.TierShortTerm
	_, err := e.short.Admit(item)

	e.locks.Episodic.Unlock()
	e.locks.ShortTerm.Unlock()

	if err != nil {
		if archiveErr := e.cold.Archive(ctx, item, "promotion rollback overflow"); archiveErr != nil {
			e.logger.Warn("lost rollback item to archive failure",
				zap.String("id", item.ID), zap.Error(archiveErr))
		}
	}
}

// conceptKeyFor derives the merge key: collaborator-supplied first, then
// the first topic tag, then the first entity tag. Items with no usable key
// stay episodic.
func conceptKeyFor(it *model.Item) string {
	if it.ConceptKey != "" {
		return store.NormalizeKey(it.ConceptKey)
	}
	if len(it.Tags.Topics) > 0 {
		return store.NormalizeKey(it.Tags.Topics[0])
	}
	if len(it.Tags.Entities) > 0 {
		return store.NormalizeKey(it.Tags.Entities[0])
	}
	return ""
}

// mergeSemantic upserts aged, important episodic items into the semantic
// tier. The concept's founding evidence record stays episodic as its
// anchor; later contributions are removed once merged.
func (e *Engine) mergeSemantic(ctx context.Context, report *Report) {
	if report.Interrupted {
		return
	}
	ids := e.mergeCandidates(ctx, report)
	for _, id := range ids {
		if ctx.Err() != nil {
			report.Interrupted = true
			return
		}
		merged, err := e.mergeOne(ctx, id)
		if err != nil {
			report.addError(id, "merge", err)
			continue
		}
		if merged {
			report.Merged++
		}
	}
}

func (e *Engine) mergeCandidates(ctx context.Context, report *Report) []string {
	if err := e.locks.Episodic.RLock(ctx, e.cfg.LockTimeout); err != nil {
		report.addError("", "merge", err)
		return nil
	}
	defer e.locks.Episodic.RUnlock()

	now := time.Now().UTC()
	var ids []string
	for _, it := range e.ep.All() {
		if now.Sub(it.CreatedAt) >= e.cfg.SemanticEligibilityAge &&
			it.Importance >= e.cfg.SemanticImportanceThreshold &&
			conceptKeyFor(it) != "" {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

func (e *Engine) mergeOne(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()

	if err := e.locks.Episodic.Lock(ctx, e.cfg.LockTimeout); err != nil {
		return false, err
	}
	if err := e.locks.Semantic.Lock(ctx, e.cfg.LockTimeout); err != nil {
		e.locks.Episodic.Unlock()
		return false, err
	}

	item := e.ep.Get(id)
	if item == nil {
		e.locks.Semantic.Unlock()
		e.locks.Episodic.Unlock()
		return false, nil
	}
	key := conceptKeyFor(item)

	var (
		upserted   bool
		undoUpsert store.Undo
		semData    []byte
		concept    *model.Item
		err        error
	)

	concept = e.sem.Lookup(key)
	alreadyMerged := concept != nil && containsID(concept.SourceIDs, id)
	if !alreadyMerged {
		concept, undoUpsert, err = e.sem.Upsert(key, item, now)
		if err != nil {
			e.locks.Semantic.Unlock()
			e.locks.Episodic.Unlock()
			return false, err
		}
		upserted = true
		semData, err = e.sem.Marshal()
		if err != nil {
			undoUpsert()
			e.locks.Semantic.Unlock()
			e.locks.Episodic.Unlock()
			return false, err
		}
	}

	// The founding evidence record anchors the concept and stays episodic.
	removeRaw := len(concept.SourceIDs) > 0 && concept.SourceIDs[0] != id

	var (
		undoRemove store.Undo
		epData     []byte
	)
	if removeRaw {
		_, undoRemove = e.ep.Remove(id)
		epData, err = e.ep.Marshal()
		if err != nil {
			undoRemove()
			if upserted {
				undoUpsert()
			}
			e.locks.Semantic.Unlock()
			e.locks.Episodic.Unlock()
			return false, err
		}
	}

	e.locks.Semantic.Unlock()
	e.locks.Episodic.Unlock()

	if upserted {
		if err := persist.WriteAtomic(e.sem.Path(), semData); err != nil {
			e.undoMerge(ctx, undoRemove, undoUpsert)
			return false, err
		}
	}
	if removeRaw {
		if err := persist.WriteAtomic(e.ep.Path(), epData); err != nil {
			// The concept merge is already durable; only the raw-item
			// removal rolls back. The next pass removes it again.
			e.undoMerge(ctx, undoRemove, nil)
			return false, err
		}
	}
	return upserted, nil
}

func (e *Engine) undoMerge(ctx context.Context, undoRemove, undoUpsert store.Undo) {
	if err := e.locks.Episodic.Lock(ctx, e.cfg.LockTimeout); err != nil {
		e.logger.Warn("merge rollback blocked", zap.Error(err))
		return
	}
	if err := e.locks.Semantic.Lock(ctx, e.cfg.LockTimeout); err != nil {
		e.locks.Episodic.Unlock()
		e.logger.Warn("merge rollback blocked", zap.Error(err))
		return
	}
	if undoRemove != nil {
		undoRemove()
	}
	if undoUpsert != nil {
		undoUpsert()
	}
	e.locks.Semantic.Unlock()
	e.locks.Episodic.Unlock()
}

// decayTier applies time-based importance decay to one persisted tier and
// removes items at or below the forgetting threshold. The in-memory sweep
// runs under one brief write lock; the durable write happens outside it.
func (e *Engine) decayTier(ctx context.Context, report *Report, tier model.Tier) {
	if report.Interrupted {
		return
	}
	if ctx.Err() != nil {
		report.Interrupted = true
		return
	}

	lock := &e.locks.Episodic
	if tier == model.TierSemantic {
		lock = &e.locks.Semantic
	}

	if err := lock.Lock(ctx, e.cfg.LockTimeout); err != nil {
		report.addError("", "decay", err)
		return
	}

	now := time.Now().UTC()
	type prevState struct {
		item       *model.Item
		importance float64
		removed    bool
		undo       store.Undo
	}
	var touched []prevState
	decayed, removed := 0, 0

	items := e.tierItems(tier)
	for _, it := range items {
		elapsed := now.Sub(it.LastAccessedAt).Hours()
		if elapsed <= 0 || it.DecayRate <= 0 {
			continue
		}
		next := model.ClampImportance(it.Importance - it.DecayRate*elapsed)
		// An item at the clamp floor no longer changes, but decay still
		// forgets it once at or below the threshold.
		if next == it.Importance && next > e.cfg.ForgettingThreshold {
			continue
		}
		st := prevState{item: it, importance: it.Importance}
		if next != it.Importance {
			it.Importance = next
			decayed++
		}
		if next <= e.cfg.ForgettingThreshold {
			st.removed = true
			st.undo = e.removeFromTier(tier, it.ID)
			removed++
		}
		touched = append(touched, st)
	}

	if len(touched) == 0 {
		lock.Unlock()
		return
	}

	data, path, err := e.marshalTier(tier)
	if err == nil {
		lock.Unlock()
		err = persist.WriteAtomic(path, data)
		if err == nil {
			report.Decayed += decayed
			report.Removed += removed
			return
		}
		if lockErr := lock.Lock(ctx, e.cfg.LockTimeout); lockErr != nil {
			report.addError("", "decay", err)
			e.logger.Warn("decay rollback blocked", zap.Error(lockErr))
			return
		}
	}

	// Roll back the sweep so memory matches the last durable state.
	for i := len(touched) - 1; i >= 0; i-- {
		st := touched[i]
		if st.removed && st.undo != nil {
			st.undo()
		}
		st.item.Importance = st.importance
	}
	lock.Unlock()
	report.addError("", "decay", err)
}

func (e *Engine) tierItems(tier model.Tier) []*model.Item {
	if tier == model.TierSemantic {
		return e.sem.All()
	}
	return e.ep.All()
}

func (e *Engine) removeFromTier(tier model.Tier, id string) store.Undo {
	if tier == model.TierSemantic {
		_, undo := e.sem.Remove(id)
		return undo
	}
	_, undo := e.ep.Remove(id)
	return undo
}

func (e *Engine) marshalTier(tier model.Tier) ([]byte, string, error) {
	if tier == model.TierSemantic {
		data, err := e.sem.Marshal()
		return data, e.sem.Path(), err
	}
	data, err := e.ep.Marshal()
	return data, e.ep.Path(), err
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
