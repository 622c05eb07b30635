// Package index maintains secondary lookup structures over item ids.
// It owns no item content; stores consult it and remain authoritative.
package index

import (
	"sort"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

type timeEntry struct {
	id string
	at time.Time
}

// Index provides time-range, entity, emotion and topic lookups.
// Not safe for concurrent use; callers hold the owning tier's lock.
type Index struct {
	byTime    []timeEntry
	byEntity  map[string]map[string]bool
	byEmotion map[string]map[string]bool
	byTopic   map[string]map[string]bool
	pos       map[string]time.Time
}

// New returns an empty index.
func New() *Index {
	return &Index{
		byEntity:  make(map[string]map[string]bool),
		byEmotion: make(map[string]map[string]bool),
		byTopic:   make(map[string]map[string]bool),
		pos:       make(map[string]time.Time),
	}
}

// Add registers an item's id under its creation time and tags.
// Re-adding an id replaces its previous registration.
func (ix *Index) Add(id string, at time.Time, tags model.Tags) {
	if _, ok := ix.pos[id]; ok {
		ix.Remove(id)
	}
	at = at.UTC()
	i := sort.Search(len(ix.byTime), func(i int) bool {
		e := ix.byTime[i]
		if !e.at.Equal(at) {
			return e.at.After(at)
		}
		return e.id > id
	})
	ix.byTime = append(ix.byTime, timeEntry{})
	copy(ix.byTime[i+1:], ix.byTime[i:])
	ix.byTime[i] = timeEntry{id: id, at: at}
	ix.pos[id] = at

	for _, e := range tags.Entities {
		addKey(ix.byEntity, e, id)
	}
	if tags.Emotion != "" {
		addKey(ix.byEmotion, tags.Emotion, id)
	}
	for _, t := range tags.Topics {
		addKey(ix.byTopic, t, id)
	}
}

// Remove drops every registration of id.
func (ix *Index) Remove(id string) {
	if _, ok := ix.pos[id]; !ok {
		return
	}
	delete(ix.pos, id)
	for i, e := range ix.byTime {
		if e.id == id {
			ix.byTime = append(ix.byTime[:i], ix.byTime[i+1:]...)
			break
		}
	}
	for k, ids := range ix.byEntity {
		delete(ids, id)
		if len(ids) == 0 {
			delete(ix.byEntity, k)
		}
	}
	for k, ids := range ix.byEmotion {
		delete(ids, id)
		if len(ids) == 0 {
			delete(ix.byEmotion, k)
		}
	}
	for k, ids := range ix.byTopic {
		delete(ids, id)
		if len(ids) == 0 {
			delete(ix.byTopic, k)
		}
	}
}

// ByTimeRange returns ids created in [from, to], oldest first. Zero bounds
// are open.
func (ix *Index) ByTimeRange(from, to time.Time) []string {
	var out []string
	for _, e := range ix.byTime {
		if !from.IsZero() && e.at.Before(from) {
			continue
		}
		if !to.IsZero() && e.at.After(to) {
			break
		}
		out = append(out, e.id)
	}
	return out
}

// ByEntity returns ids tagged with the given entity reference.
func (ix *Index) ByEntity(entity string) []string {
	return keySet(ix.byEntity[entity])
}

// ByEmotion returns ids tagged with the given emotion label.
func (ix *Index) ByEmotion(emotion string) []string {
	return keySet(ix.byEmotion[emotion])
}

// ByTopic returns ids tagged with the given topic.
func (ix *Index) ByTopic(topic string) []string {
	return keySet(ix.byTopic[topic])
}

// Len returns the number of indexed ids.
func (ix *Index) Len() int {
	return len(ix.pos)
}

// Clear drops all registrations.
func (ix *Index) Clear() {
	ix.byTime = nil
	ix.byEntity = make(map[string]map[string]bool)
	ix.byEmotion = make(map[string]map[string]bool)
	ix.byTopic = make(map[string]map[string]bool)
	ix.pos = make(map[string]time.Time)
}

func addKey(m map[string]map[string]bool, key, id string) {
	ids, ok := m[key]
	if !ok {
		ids = make(map[string]bool)
		m[key] = ids
	}
	ids[id] = true
}

func keySet(ids map[string]bool) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
