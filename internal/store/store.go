// Package store implements the three memory tiers and the cold archive.
//
// Stores are not internally locked: the memory manager guards each tier
// with its own reader/writer lock and acquires multiple tier locks in the
// fixed order short-term, episodic, semantic. Mutating methods stage
// in-memory changes and return an undo closure so the manager can roll
// back when a durable write fails after the lock is released.
package store

import (
	"sort"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

// QueryParams holds parameters for querying a persisted tier.
type QueryParams struct {
	Text    string
	From    time.Time
	To      time.Time
	Entity  string
	Emotion string
	Topic   string
	Limit   int
}

// Scored pairs an item with its relevance score for merged ranking.
type Scored struct {
	Item  *model.Item
	Score float64
}

// SortScored orders results by score descending, tie-broken by lowest id
// so rankings are reproducible.
func SortScored(results []Scored) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.ID < results[j].Item.ID
	})
}

// Undo reverts a staged mutation. Stores return one from every mutating
// call; the manager invokes it only when the durable write fails.
type Undo func()

func limitScored(results []Scored, limit int) []Scored {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
