package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"tape-restorer/internal/diskspace"
	"tape-restorer/internal/engine"
)

// frame images use a fixed-width name so lexical order is frame order
const framePattern = "%08d.png"

// minValidFrameBytes rejects half-written PNGs left by a killed enhancer.
const minValidFrameBytes = 1024

// FaceEnhance restores faces with GFPGAN. It works frame by frame over
// extracted PNGs, which makes it the one stage with real frame-level
// resume: frames already enhanced on disk are never re-done.
type FaceEnhance struct {
	LauncherPath string
}

func (FaceEnhance) Name() string    { return "face_enhance" }
func (FaceEnhance) DiskHeavy() bool { return true }

func (FaceEnhance) EstimateBytes(job *Job) uint64 {
	return diskspace.EstimateFaceEnhanceBytes(job.Video.Width, job.Video.Height, job.Video.FrameCount)
}

func (s FaceEnhance) Run(ctx context.Context, job *Job, emit Emit) (string, error) {
	cfg := job.Config.FaceEnh
	if cfg == nil {
		return "", fmt.Errorf("face enhance stage invoked without settings")
	}
	if s.LauncherPath == "" {
		return "", &engine.MissingDependencyError{Tool: "gfpgan", Reason: "no launcher path configured"}
	}

	source := job.Config.OutputFile
	if prior := job.Checkpoint.Metadata["encoded_artifact"]; prior != "" {
		source = prior
	}
	framesDir := filepath.Join(job.WorkDir, "frames")
	enhancedDir := filepath.Join(job.WorkDir, "enhanced")
	for _, d := range []string{framesDir, enhancedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", d, err)
		}
	}

	total := job.Video.FrameCount
	progress := func(fraction float64, frame int, msg string) {
		emit(ProgressEvent{Stage: s.Name(), Fraction: clamp01(fraction), Frame: frame, Message: msg})
	}

	// Phase 1: extract frames, skipped when a prior run already did.
	extracted := countValidFrames(framesDir)
	if total <= 0 || extracted < total {
		jobLogf(job, "face enhance: extracting frames from %s", source)
		if err := s.runFFmpeg(ctx, job, []string{
			"-y", "-i", source, filepath.Join(framesDir, framePattern),
		}, func(u Update) {
			progress(u.Fraction(total)*0.1, u.Frame, "extracting frames")
		}); err != nil {
			return "", err
		}
		extracted = countValidFrames(framesDir)
		if total <= 0 {
			total = extracted
			job.Checkpoint.TotalFrames = total
		}
	}

	// Phase 2: enhance only the frames not already done.
	pending, err := pendingFrames(framesDir, enhancedDir)
	if err != nil {
		return "", err
	}
	done := extracted - len(pending)
	if done > 0 {
		jobLogf(job, "face enhance: resuming, %d/%d frames already enhanced", done, extracted)
	}
	job.Checkpoint.CurrentFrame = done
	job.Checkpoint.ProcessedFrames = done

	if len(pending) > 0 {
		stagingDir := filepath.Join(job.WorkDir, "pending")
		if err := stagePendingFrames(framesDir, stagingDir, pending); err != nil {
			return "", err
		}
		args := []string{
			"--input", stagingDir,
			"--output", enhancedDir,
			"--upscale", strconv.Itoa(cfg.Upscale),
		}
		if cfg.Version != "" {
			args = append(args, "--version", cfg.Version)
		}
		if cfg.OnlyCenter {
			args = append(args, "--only-center-face")
		}
		if cfg.WeightBlend > 0 {
			args = append(args, "--weight", strconv.FormatFloat(cfg.WeightBlend, 'f', -1, 64))
		}

		batchTotal := len(pending)
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
				batchDone := u.Frame
				if u.HasPct {
					batchDone = int(u.Percent * float64(batchTotal))
				}
				idx := done + batchDone
				if idx > 0 {
					if err := checkpointFrame(job, idx-1); err != nil {
						jobLogf(job, "checkpoint save failed: %v", err)
					}
				}
				frac := 0.0
				if extracted > 0 {
					frac = float64(idx) / float64(extracted)
				}
				progress(0.1+frac*0.8, idx, "enhancing faces")
			},
		})
		if job.RegisterRunner != nil {
			job.RegisterRunner(runner)
		}
		if err := runner.Start(ctx); err != nil {
			return "", err
		}
		if err := runner.Wait(); err != nil {
			return "", err
		}
		_ = os.RemoveAll(stagingDir)
	}

	if got := countValidFrames(enhancedDir); got < extracted {
		return "", fmt.Errorf("face enhance produced %d/%d frames", got, extracted)
	}

	// Phase 3: reassemble with the original audio track.
	outPath := job.Config.OutputFile
	fps := job.Video.FPS
	if fps <= 0 {
		fps = 25
	}
	jobLogf(job, "face enhance: reassembling %d frames into %s", extracted, outPath)
	if err := s.runFFmpeg(ctx, job, []string{
		"-y",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", filepath.Join(enhancedDir, framePattern),
		"-i", source,
		"-map", "0:v:0",
		"-map", "1:a?",
		"-c:a", "copy",
		"-c:v", "ffv1", "-level", "3", "-g", "1",
		outPath,
	}, func(u Update) {
		progress(0.9+u.Fraction(total)*0.1, u.Frame, "reassembling")
	}); err != nil {
		return "", err
	}

	if err := ValidateArtifact(ctx, outPath, extracted); err != nil {
		return "", err
	}
	return outPath, nil
}

func (s FaceEnhance) runFFmpeg(ctx context.Context, job *Job, args []string, onUpdate func(Update)) error {
	runner := engine.NewRunner(engine.Spec{
		Name:      "ffmpeg",
		Args:      args,
		LogWriter: job.LogWriter,
		StopGrace: job.Settings.StopGrace,
		OnLine: func(stream engine.OutputStream, line string) {
			if IsBenignNoise(line) {
				return
			}
			if u, ok := ParseProgress(line); ok {
				onUpdate(u)
			}
		},
	})
	if job.RegisterRunner != nil {
		job.RegisterRunner(runner)
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	return runner.Wait()
}

func countValidFrames(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() < minValidFrameBytes {
			continue
		}
		n++
	}
	return n
}

// pendingFrames lists extracted frames with no valid enhanced twin.
func pendingFrames(framesDir, enhancedDir string) ([]string, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}
	var pending []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := os.Stat(filepath.Join(enhancedDir, e.Name()))
		if err == nil && info.Size() >= minValidFrameBytes {
			continue
		}
		pending = append(pending, e.Name())
	}
	sort.Strings(pending)
	return pending, nil
}

// stagePendingFrames links the still-pending frames into a fresh staging
// directory so the enhancer only sees work it has not done.
func stagePendingFrames(framesDir, stagingDir string, names []string) error {
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	for _, name := range names {
		src := filepath.Join(framesDir, name)
		dst := filepath.Join(stagingDir, name)
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("stage frame %s: %w", name, err)
		}
	}
	return nil
}
