// Package locking provides timeout-bounded reader/writer locks for tiers.
//
// Cross-tier operations must acquire tier locks in the fixed global order
// short-term, then episodic, then semantic, and release in reverse. Every
// acquisition is bounded; contention beyond the bound surfaces as
// model.ErrLockTimeout instead of hanging the caller.
package locking

import (
	"context"
	"sync"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

// acquirePoll is how often a blocked acquisition retries.
const acquirePoll = time.Millisecond

// TierLock is an exclusive-write/shared-read lock with bounded acquisition.
type TierLock struct {
	mu sync.RWMutex
}

// Lock acquires the write lock, failing after timeout or ctx cancellation.
func (l *TierLock) Lock(ctx context.Context, timeout time.Duration) error {
	return acquire(ctx, timeout, l.mu.TryLock)
}

// Unlock releases the write lock.
func (l *TierLock) Unlock() {
	l.mu.Unlock()
}

// RLock acquires a read lock, failing after timeout or ctx cancellation.
func (l *TierLock) RLock(ctx context.Context, timeout time.Duration) error {
	return acquire(ctx, timeout, l.mu.TryRLock)
}

// RUnlock releases a read lock.
func (l *TierLock) RUnlock() {
	l.mu.RUnlock()
}

func acquire(ctx context.Context, timeout time.Duration, try func() bool) error {
	if try() {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(acquirePoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return model.ErrLockTimeout
		case <-tick.C:
			if try() {
				return nil
			}
		}
	}
}

// Set bundles the three tier locks in their global acquisition order.
type Set struct {
	ShortTerm TierLock
	Episodic  TierLock
	Semantic  TierLock
}

// LockAll acquires all three write locks in order. On any failure the locks
// already held are released and nothing is held on return.
func (s *Set) LockAll(ctx context.Context, timeout time.Duration) error {
	if err := s.ShortTerm.Lock(ctx, timeout); err != nil {
		return err
	}
	if err := s.Episodic.Lock(ctx, timeout); err != nil {
		s.ShortTerm.Unlock()
		return err
	}
	if err := s.Semantic.Lock(ctx, timeout); err != nil {
		s.Episodic.Unlock()
		s.ShortTerm.Unlock()
		return err
	}
	return nil
}

// UnlockAll releases all three write locks in reverse order.
func (s *Set) UnlockAll() {
	s.Semantic.Unlock()
	s.Episodic.Unlock()
	s.ShortTerm.Unlock()
}
