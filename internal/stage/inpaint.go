package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"tape-restorer/internal/diskspace"
	"tape-restorer/internal/engine"
)

// Inpaint removes logos and tape artifacts with the ProPainter launcher
// before filtering. The launcher renders to a work-dir intermediate that
// the encode stage then consumes.
type Inpaint struct {
	// LauncherPath points at the ProPainter wrapper script; comes from
	// Settings.ProPainterPath.
	LauncherPath string
}

func (Inpaint) Name() string    { return "inpaint" }
func (Inpaint) DiskHeavy() bool { return true }

func (Inpaint) EstimateBytes(job *Job) uint64 {
	info, err := os.Stat(job.Config.InputFile)
	if err != nil {
		return 0
	}
	return diskspace.EstimateInpaintBytes(uint64(info.Size()))
}

func (s Inpaint) Run(ctx context.Context, job *Job, emit Emit) (string, error) {
	cfg := job.Config.Inpaint
	if cfg == nil {
		return "", fmt.Errorf("inpaint stage invoked without inpaint settings")
	}
	if s.LauncherPath == "" {
		return "", &engine.MissingDependencyError{Tool: "propainter", Reason: "no launcher path configured"}
	}

	outPath := filepath.Join(job.WorkDir, "inpainted"+filepath.Ext(job.Config.InputFile))
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	// An intact intermediate from a prior run skips the whole stage.
	if err := ValidateArtifact(ctx, outPath, job.Video.FrameCount); err == nil {
		jobLogf(job, "inpaint: reusing intermediate %s", outPath)
		job.Checkpoint.Metadata["inpainted_artifact"] = outPath
		return outPath, nil
	}

	args := []string{
		"--video", job.Config.InputFile,
		"--output", outPath,
	}
	if cfg.MaskFile != "" {
		args = append(args, "--mask", cfg.MaskFile)
	}
	if cfg.Mode != "" {
		args = append(args, "--mode", cfg.Mode)
	}
	if cfg.NeighborLen > 0 {
		args = append(args, "--neighbor-length", strconv.Itoa(cfg.NeighborLen))
	}
	if cfg.RefStride > 0 {
		args = append(args, "--ref-stride", strconv.Itoa(cfg.RefStride))
	}

	total := job.Video.FrameCount
	runner := engine.NewRunner(engine.Spec{
		Name:      s.LauncherPath,
		Args:      args,
		LogWriter: job.LogWriter,
		StopGrace: job.Settings.StopGrace,
		OnLine: func(stream engine.OutputStream, line string) {
			u, ok := ParseProgress(line)
			if !ok {
				return
			}
			if u.Frame > 0 {
				if err := checkpointFrame(job, u.Frame-1); err != nil {
					jobLogf(job, "checkpoint save failed: %v", err)
				}
			}
			emit(ProgressEvent{
				Stage:    s.Name(),
				Fraction: u.Fraction(total),
				Frame:    u.Frame,
				Message:  "inpainting",
			})
		},
	})
	if job.RegisterRunner != nil {
		job.RegisterRunner(runner)
	}

	jobLogf(job, "inpaint: %s -> %s (mask=%s mode=%s)", job.Config.InputFile, outPath, cfg.MaskFile, cfg.Mode)

	if err := runner.Start(ctx); err != nil {
		return "", err
	}
	if err := runner.Wait(); err != nil {
		return "", err
	}

	if err := ValidateArtifact(ctx, outPath, job.Video.FrameCount); err != nil {
		return "", err
	}
	job.Checkpoint.Metadata["inpainted_artifact"] = outPath
	return outPath, nil
}
