package stage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tape-restorer/internal/checkpoint"
	"tape-restorer/internal/config"
	"tape-restorer/internal/engine"
	"tape-restorer/internal/model"
)

// minValidArtifactBytes is the smallest output treated as real. Headers
// alone from a crashed encoder land under this.
const minValidArtifactBytes = 1024

// ProgressEvent is one observation of stage progress. Fraction is local
// to the stage, 0..1; the orchestrator remaps it into the pipeline total.
type ProgressEvent struct {
	Stage    string
	Fraction float64
	Frame    int
	FPS      float64
	ETA      time.Duration
	Message  string
}

// Emit delivers progress observations. Implementations must not block.
type Emit func(ProgressEvent)

// Job is the runtime context a stage runs in.
type Job struct {
	Config     config.JobConfig
	Settings   config.Settings
	Checkpoint *model.ProcessingCheckpoint
	Store      *checkpoint.Store
	Video      engine.VideoInfo
	WorkDir    string
	LogWriter  io.Writer

	// RegisterRunner hands each live process runner to the orchestrator
	// so a stop request can reach it.
	RegisterRunner func(*engine.Runner)
}

// Stage is one step of the restoration pipeline. Run returns the path of
// the artifact the next stage consumes.
type Stage interface {
	Name() string
	// DiskHeavy stages go through space admission before any process
	// is spawned.
	DiskHeavy() bool
	// EstimateBytes sizes the scratch footprint for admission.
	EstimateBytes(job *Job) uint64
	Run(ctx context.Context, job *Job, emit Emit) (string, error)
}

// ValidateArtifact checks that a stage output is worth keeping: it must
// exist and exceed the minimum size. When ffprobe is available the frame
// count is verified against want (zero skips the count check).
func ValidateArtifact(ctx context.Context, path string, wantFrames int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact %s missing: %w", path, err)
	}
	if info.Size() < minValidArtifactBytes {
		return fmt.Errorf("artifact %s too small (%d bytes), treating as invalid", path, info.Size())
	}
	if wantFrames <= 0 {
		return nil
	}
	got, err := engine.CountFrames(ctx, path)
	if err != nil {
		// No ffprobe or an unreadable stream degrades to the size check.
		return nil
	}
	if got < wantFrames {
		return fmt.Errorf("artifact %s has %d frames, want %d", path, got, wantFrames)
	}
	return nil
}

// checkpointFrame records one completed frame and forces a save on
// interval boundaries.
func checkpointFrame(job *Job, frameIndex int) error {
	job.Store.MarkFrameComplete(job.Checkpoint, frameIndex)
	interval := job.Settings.CheckpointIntervalFrames
	force := interval > 0 && (frameIndex+1)%interval == 0
	return job.Store.Save(job.Checkpoint, force)
}

func jobLogf(job *Job, format string, args ...any) {
	if job.LogWriter == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintf(job.LogWriter, "[%s] %s\n", time.Now().Format("15:04:05"), line)
}
