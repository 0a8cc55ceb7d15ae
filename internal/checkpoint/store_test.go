package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tape-restorer/internal/model"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestLoadOrCreateFresh(t *testing.T) {
	s := newTestStore(t)
	hash := SettingsHash(map[string]string{"codec": "ffv1"}, "in.mkv", "out.mkv")

	cp, resumed, err := s.LoadOrCreate("filter_abc123", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if resumed {
		t.Fatal("expected a fresh checkpoint, got resumed=true")
	}
	if cp.Status != model.StatusRunning {
		t.Fatalf("fresh checkpoint status = %q, want %q", cp.Status, model.StatusRunning)
	}
	if cp.CurrentFrame != 0 || cp.ProcessedFrames != 0 {
		t.Fatalf("fresh checkpoint has progress: current=%d processed=%d", cp.CurrentFrame, cp.ProcessedFrames)
	}
}

func TestLoadOrCreateResumesPartialProgress(t *testing.T) {
	s := newTestStore(t)
	hash := SettingsHash(map[string]string{"codec": "ffv1"}, "in.mkv", "out.mkv")

	cp, _, err := s.LoadOrCreate("filter_abc123", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	cp.TotalFrames = 1000
	for i := 0; i < 250; i++ {
		s.MarkFrameComplete(cp, i)
	}
	if err := s.Save(cp, true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, resumed, err := s.LoadOrCreate("filter_abc123", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate after save: %v", err)
	}
	if !resumed {
		t.Fatal("expected resumed=true for a checkpoint with progress")
	}
	if got.CurrentFrame != 250 {
		t.Fatalf("CurrentFrame = %d, want 250", got.CurrentFrame)
	}
	if got.ProcessedFrames != 250 {
		t.Fatalf("ProcessedFrames = %d, want 250", got.ProcessedFrames)
	}
}

func TestLoadOrCreateIgnoresTerminalCheckpoint(t *testing.T) {
	s := newTestStore(t)
	hash := SettingsHash(nil, "in.mkv", "out.mkv")

	cp, _, err := s.LoadOrCreate("filter_done", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	cp.TotalFrames = 10
	cp.CurrentFrame = 10
	if err := model.Transition(cp, model.StatusCompleted, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.Save(cp, true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, resumed, err := s.LoadOrCreate("filter_done", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if resumed {
		t.Fatal("completed checkpoint must not be resumed")
	}
	if got.CurrentFrame != 0 {
		t.Fatalf("CurrentFrame = %d, want 0 after terminal invalidation", got.CurrentFrame)
	}
}

func TestLoadOrCreateInvalidatesOnSettingsChange(t *testing.T) {
	s := newTestStore(t)
	oldHash := SettingsHash(map[string]string{"codec": "ffv1"}, "in.mkv", "out.mkv")
	newHash := SettingsHash(map[string]string{"codec": "prores"}, "in.mkv", "out.mkv")
	if oldHash == newHash {
		t.Fatal("distinct settings produced the same hash")
	}

	cp, _, err := s.LoadOrCreate("filter_x", "in.mkv", "out.mkv", oldHash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	s.MarkFrameComplete(cp, 0)
	if err := s.Save(cp, true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, resumed, err := s.LoadOrCreate("filter_x", "in.mkv", "out.mkv", newHash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if resumed || got.CurrentFrame != 0 {
		t.Fatalf("settings change must discard progress, got resumed=%v current=%d", resumed, got.CurrentFrame)
	}
	if got.SettingsHash != newHash {
		t.Fatalf("fresh checkpoint carries hash %q, want %q", got.SettingsHash, newHash)
	}
}

func TestLoadOrCreateTreatsCorruptFileAsAbsent(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path("filter_bad"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	hash := SettingsHash(nil, "in.mkv", "out.mkv")
	got, resumed, err := s.LoadOrCreate("filter_bad", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate on corrupt file: %v", err)
	}
	if resumed {
		t.Fatal("corrupt checkpoint must not resume")
	}
	if got.Status != model.StatusRunning {
		t.Fatalf("status = %q, want fresh running checkpoint", got.Status)
	}
}

func TestSaveDebounceBoundsPhysicalWrites(t *testing.T) {
	s := newTestStore(t, WithDebounce(time.Hour, 10))
	hash := SettingsHash(nil, "in.mkv", "out.mkv")

	cp, _, err := s.LoadOrCreate("filter_deb", "in.mkv", "out.mkv", hash, nil)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	cp.TotalFrames = 100

	for i := 0; i < 100; i++ {
		s.MarkFrameComplete(cp, i)
		if err := s.Save(cp, false); err != nil {
			t.Fatalf("Save frame %d: %v", i, err)
		}
	}
	// 100 mutations with a count threshold of 10 and an hour-long timer
	// must produce far fewer writes than saves.
	if w := s.PhysicalWrites(); w > 11 {
		t.Fatalf("physical writes = %d, want <= 11", w)
	}

	if err := s.Save(cp, true); err != nil {
		t.Fatalf("forced Save: %v", err)
	}
	var got model.ProcessingCheckpoint
	if err := ReadJSON(s.Path("filter_deb"), &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.CurrentFrame != 100 {
		t.Fatalf("persisted CurrentFrame = %d, want 100 after forced save", got.CurrentFrame)
	}
}

func TestListAndSweep(t *testing.T) {
	s := newTestStore(t)
	hash := SettingsHash(nil, "a.mkv", "b.mkv")

	for _, id := range []string{"filter_one", "filter_two"} {
		cp, _, err := s.LoadOrCreate(id, "a.mkv", "b.mkv", hash, nil)
		if err != nil {
			t.Fatalf("LoadOrCreate %s: %v", id, err)
		}
		if err := s.Save(cp, true); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	summaries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List returned %d summaries, want 2", len(summaries))
	}

	// Backdate one file and sweep it away.
	old := s.Path("filter_one")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	deleted, err := s.SweepOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("SweepOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("swept %d files, want 1", deleted)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed, stat err = %v", filepath.Base(old), err)
	}
}

func TestJobIDStableAndStagePrefixed(t *testing.T) {
	a := JobID("filter", "tape.mkv")
	b := JobID("filter", "tape.mkv")
	if a != b {
		t.Fatalf("JobID not stable: %q vs %q", a, b)
	}
	c := JobID("inpaint", "tape.mkv")
	if a == c {
		t.Fatal("different stages must produce different job IDs")
	}
	if len(a) == 0 || a[:7] != "filter_" {
		t.Fatalf("JobID %q missing stage prefix", a)
	}
}
