package stage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tape-restorer/internal/checkpoint"
	"tape-restorer/internal/config"
	"tape-restorer/internal/model"
)

func TestAdjustOutputForCodec(t *testing.T) {
	assert.Equal(t, "out.mkv", adjustOutputForCodec("out.mkv", "ffv1"))
	assert.Equal(t, "out.mov", adjustOutputForCodec("out.mkv", "prores"))
	assert.Equal(t, "out.mov", adjustOutputForCodec("out.mov", "prores"))
	assert.Equal(t, "out.mkv", adjustOutputForCodec("out.mkv", ""))
}

func TestCodecArgs(t *testing.T) {
	args := codecArgs(config.EncodeSettings{Codec: "ffv1"})
	assert.Contains(t, args, "ffv1")
	assert.Contains(t, args, "-slicecrc")

	args = codecArgs(config.EncodeSettings{Codec: "x264", CRF: 20, Preset: "fast"})
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "20")
	assert.Contains(t, args, "fast")

	// defaults fill in when the caller leaves them zero
	args = codecArgs(config.EncodeSettings{Codec: "x264"})
	assert.Contains(t, args, "16")
	assert.Contains(t, args, "slow")

	args = codecArgs(config.EncodeSettings{Codec: "lossless"})
	assert.Contains(t, args, "-qp")
}

func TestValidateArtifact(t *testing.T) {
	// Empty PATH keeps ffprobe out of the picture; validation degrades
	// to the size check.
	t.Setenv("PATH", t.TempDir())

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.mkv")
	assert.Error(t, ValidateArtifact(context.Background(), missing, 0))

	tiny := filepath.Join(dir, "tiny.mkv")
	require.NoError(t, os.WriteFile(tiny, []byte("hdr"), 0o644))
	err := ValidateArtifact(context.Background(), tiny, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")

	ok := filepath.Join(dir, "ok.mkv")
	require.NoError(t, os.WriteFile(ok, bytes.Repeat([]byte{0xAB}, 4096), 0o644))
	assert.NoError(t, ValidateArtifact(context.Background(), ok, 100))
}

func writeFrame(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte{1}, size), 0o644))
}

func TestPendingFramesSkipsEnhanced(t *testing.T) {
	frames := t.TempDir()
	enhanced := t.TempDir()

	writeFrame(t, frames, "00000001.png", 2048)
	writeFrame(t, frames, "00000002.png", 2048)
	writeFrame(t, frames, "00000003.png", 2048)
	writeFrame(t, enhanced, "00000001.png", 2048)
	// half-written enhanced frame counts as pending
	writeFrame(t, enhanced, "00000002.png", 10)

	pending, err := pendingFrames(frames, enhanced)
	require.NoError(t, err)
	assert.Equal(t, []string{"00000002.png", "00000003.png"}, pending)
}

func TestCountValidFrames(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "00000001.png", 2048)
	writeFrame(t, dir, "00000002.png", 10) // truncated
	writeFrame(t, dir, "notes.txt", 2048)  // not a frame

	assert.Equal(t, 1, countValidFrames(dir))
}

func TestStagePendingFramesBuildsFreshDir(t *testing.T) {
	frames := t.TempDir()
	staging := filepath.Join(t.TempDir(), "pending")
	writeFrame(t, frames, "00000001.png", 2048)
	writeFrame(t, frames, "00000002.png", 2048)

	require.NoError(t, stagePendingFrames(frames, staging, []string{"00000002.png"}))
	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "00000002.png", entries[0].Name())

	// Re-staging replaces the previous contents.
	require.NoError(t, stagePendingFrames(frames, staging, []string{"00000001.png"}))
	entries, err = os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "00000001.png", entries[0].Name())
}

func TestCheckpointFrameForcesOnInterval(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir(), checkpoint.WithDebounce(time.Hour, 1000000))
	require.NoError(t, err)

	cp, _, err := store.LoadOrCreate("face_x", "in.mkv", "out.mkv", "hash", nil)
	require.NoError(t, err)
	cp.TotalFrames = 100

	job := &Job{
		Settings:   config.Settings{CheckpointIntervalFrames: 50},
		Checkpoint: cp,
		Store:      store,
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, checkpointFrame(job, i))
	}
	// Debounce is effectively off; only the two interval boundaries
	// (frames 50 and 100) force physical writes.
	assert.Equal(t, 2, store.PhysicalWrites())

	var got model.ProcessingCheckpoint
	require.NoError(t, checkpoint.ReadJSON(store.Path("face_x"), &got))
	assert.Equal(t, 100, got.CurrentFrame)
	assert.Equal(t, 100, got.ProcessedFrames)
}

func TestCheckpointFrameCountsCumulativeStatusLines(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir(), checkpoint.WithDebounce(time.Hour, 1000000))
	require.NoError(t, err)

	cp, _, err := store.LoadOrCreate("enc_x", "in.mkv", "out.mkv", "hash", nil)
	require.NoError(t, err)
	cp.TotalFrames = 10000

	job := &Job{
		Settings:   config.Settings{CheckpointIntervalFrames: 5000},
		Checkpoint: cp,
		Store:      store,
	}
	// Encoder status lines report cumulative totals, not one frame each.
	require.NoError(t, checkpointFrame(job, 5000-1))
	require.NoError(t, checkpointFrame(job, 10000-1))

	assert.Equal(t, 10000, cp.CurrentFrame)
	assert.Equal(t, 10000, cp.ProcessedFrames)
	assert.InDelta(t, 100.0, cp.ProgressPercent(), 0.001)

	// A stale line never rolls the counters backwards.
	require.NoError(t, checkpointFrame(job, 7000-1))
	assert.Equal(t, 10000, cp.CurrentFrame)
	assert.Equal(t, 10000, cp.ProcessedFrames)
}
