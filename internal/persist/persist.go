// Package persist provides durable, atomic save/load of tier item sets.
// Writes go to a temporary path, are fsynced, then renamed into place, so
// a partially written file is never visible to a concurrent reader.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rcliao/tiered-memory/internal/model"
)

// File permissions restrict tier data to the owning user.
const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// WriteAtomic durably writes data to path via a temporary file and rename.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: create dir: %v", model.ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", model.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: chmod temp: %v", model.ErrPersistence, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp: %v", model.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp: %v", model.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp: %v", model.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename: %v", model.ErrPersistence, err)
	}
	return nil
}

// WriteJSONAtomic marshals v and writes it atomically to path.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", model.ErrPersistence, err)
	}
	return WriteAtomic(path, data)
}

// ReadJSON loads path into v. A missing file leaves v untouched and
// returns (false, nil) so fresh instances start empty.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", model.ErrPersistence, filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: parse %s: %v", model.ErrPersistence, filepath.Base(path), err)
	}
	return true, nil
}

// TierFile is the durable unit for one persisted tier.
type TierFile struct {
	path string
}

// NewTierFile returns the durable unit stored at dir/<name>.json.
func NewTierFile(dir, name string) *TierFile {
	return &TierFile{path: filepath.Join(dir, name+".json")}
}

// Path returns the canonical on-disk location.
func (f *TierFile) Path() string {
	return f.path
}

// Save durably replaces the tier's item set.
func (f *TierFile) Save(items []*model.Item) error {
	if items == nil {
		items = []*model.Item{}
	}
	return WriteJSONAtomic(f.path, items)
}

// Load reads the tier's item set. Missing file yields an empty set.
func (f *TierFile) Load() ([]*model.Item, error) {
	var items []*model.Item
	if _, err := ReadJSON(f.path, &items); err != nil {
		return nil, err
	}
	return items, nil
}
