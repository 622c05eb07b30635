package persist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/tiered-memory/internal/model"
)

func TestWriteAtomicAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tier.json")

	if err := WriteJSONAtomic(path, map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got map[string]int
	found, err := ReadJSON(path, &got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !found || got["n"] != 1 {
		t.Errorf("expected n=1, got %v (found=%v)", got, found)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestReadMissingFile(t *testing.T) {
	var v map[string]int
	found, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if found {
		t.Error("expected found=false for missing file")
	}
}

func TestReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0o600)

	var v map[string]int
	_, err := ReadJSON(path, &v)
	if !errors.Is(err, model.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestTierFileRoundTrip(t *testing.T) {
	f := NewTierFile(t.TempDir(), "episodic")

	items := []*model.Item{
		{ID: "01A", Payload: "first", Tier: model.TierEpisodic, CreatedAt: time.Now().UTC(), LastAccessedAt: time.Now().UTC(), Importance: 0.5},
	}
	if err := f.Save(items); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "01A" || got[0].Payload != "first" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestSnapshotVersionMismatch(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"version": 99}`))
	if !errors.Is(err, model.ErrSnapshotVersion) {
		t.Errorf("expected ErrSnapshotVersion, got %v", err)
	}
}

func TestSnapshotCorrupt(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`not a snapshot`))
	if !errors.Is(err, model.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := &Snapshot{
		ExportedAt: time.Now().UTC(),
		ShortTerm:  []*model.Item{{ID: "a", Payload: "x", Tier: model.TierShortTerm}},
		Episodic:   []*model.Item{},
		Semantic:   []*model.Item{},
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != SnapshotVersion {
		t.Errorf("expected version %d, got %d", SnapshotVersion, got.Version)
	}
	if len(got.ShortTerm) != 1 || got.ShortTerm[0].ID != "a" {
		t.Errorf("round trip mismatch: %+v", got.ShortTerm)
	}
}
