// Package consolidate moves items toward longer-lived tiers when they
// demonstrate sustained relevance and removes items decayed past use.
package consolidate

import (
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

// Report summarizes one consolidation pass. Item failures accumulate in
// Errors instead of aborting the pass.
type Report struct {
	Promoted int `json:"promoted"`
	Merged   int `json:"merged"`
	Decayed  int `json:"decayed"`
	Removed  int `json:"removed"`

	Errors []model.ItemError `json:"errors,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Interrupted is set when the pass stopped early on cancellation.
	// Work completed before the interruption remains valid.
	Interrupted bool `json:"interrupted,omitempty"`
}

func (r *Report) addError(id, stage string, err error) {
	r.Errors = append(r.Errors, model.ItemError{ID: id, Stage: stage, Err: err.Error()})
}
