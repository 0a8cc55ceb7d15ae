package stage

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"tape-restorer/internal/config"
	"tape-restorer/internal/diskspace"
	"tape-restorer/internal/engine"
)

// FilterEncode runs the VapourSynth filter script through vspipe and
// encodes its output with ffmpeg, the two joined by a pipe. Frames
// cannot be seeked into the pipe, so an interrupted encode restarts from
// frame zero; the checkpoint still tracks progress for reporting and for
// telling a pause from a crash.
type FilterEncode struct{}

func (FilterEncode) Name() string    { return "filter_encode" }
func (FilterEncode) DiskHeavy() bool { return true }

func (FilterEncode) EstimateBytes(job *Job) uint64 {
	return diskspace.EstimateEncodeBytes(job.Video.Width, job.Video.Height, job.Video.FrameCount)
}

func (s FilterEncode) Run(ctx context.Context, job *Job, emit Emit) (string, error) {
	outPath := adjustOutputForCodec(job.Config.OutputFile, job.Config.Encode.Codec)
	sourcePath := job.Config.InputFile
	if prior := job.Checkpoint.Metadata["inpainted_artifact"]; prior != "" {
		sourcePath = prior
	}

	// Restart semantics: pipe output cannot resume mid-stream.
	job.Checkpoint.CurrentFrame = 0
	job.Checkpoint.ProcessedFrames = 0
	job.Checkpoint.TotalFrames = job.Video.FrameCount

	pr, pw := io.Pipe()
	total := job.Video.FrameCount

	vspipe := engine.NewRunner(engine.Spec{
		Name:      "vspipe",
		Args:      []string{"-c", "y4m", "-a", "source=" + sourcePath, job.Config.Encode.FilterScript, "-"},
		StdoutTo:  pw,
		LogWriter: job.LogWriter,
		StopGrace: job.Settings.StopGrace,
		OnLine: func(stream engine.OutputStream, line string) {
			u, ok := ParseProgress(line)
			if !ok {
				return
			}
			// Filtering is the first half of this stage's span.
			emit(ProgressEvent{
				Stage:    s.Name(),
				Fraction: u.Fraction(total) * 0.5,
				Frame:    u.Frame,
				Message:  "filtering",
			})
		},
	})

	ffmpeg := engine.NewRunner(engine.Spec{
		Name:      "ffmpeg",
		Args:      encodeArgs(sourcePath, outPath, job.Config.Encode),
		Stdin:     pr,
		LogWriter: job.LogWriter,
		StopGrace: job.Settings.StopGrace,
		OnLine: func(stream engine.OutputStream, line string) {
			if IsBenignNoise(line) {
				return
			}
			u, ok := ParseProgress(line)
			if !ok || u.Frame == 0 {
				return
			}
			if err := checkpointFrame(job, u.Frame-1); err != nil {
				jobLogf(job, "checkpoint save failed: %v", err)
			}
			emit(ProgressEvent{
				Stage:    s.Name(),
				Fraction: 0.5 + u.Fraction(total)*0.5,
				Frame:    u.Frame,
				FPS:      u.FPS,
				ETA:      EstimateETA(u.Frame, total, u.FPS),
				Message:  "encoding",
			})
		},
	})

	if job.RegisterRunner != nil {
		job.RegisterRunner(vspipe)
		job.RegisterRunner(ffmpeg)
	}

	jobLogf(job, "filter+encode: %s -> %s (codec=%s)", sourcePath, outPath, job.Config.Encode.Codec)

	if err := vspipe.Start(ctx); err != nil {
		_ = pw.Close()
		return "", err
	}
	if err := ffmpeg.Start(ctx); err != nil {
		vspipe.Stop()
		_ = pr.Close()
		return "", err
	}

	var g errgroup.Group
	g.Go(vspipe.Wait)
	g.Go(ffmpeg.Wait)
	if err := g.Wait(); err != nil {
		// One side failing leaves the other blocked on the pipe.
		vspipe.Stop()
		ffmpeg.Stop()
		return "", err
	}

	if err := ValidateArtifact(ctx, outPath, job.Video.FrameCount); err != nil {
		return "", err
	}
	return outPath, nil
}

// adjustOutputForCodec swaps the container when the codec demands one,
// notably ProRes in Matroska which many NLEs refuse to read.
func adjustOutputForCodec(outPath, codec string) string {
	if strings.ToLower(strings.TrimSpace(codec)) != "prores" {
		return outPath
	}
	ext := filepath.Ext(outPath)
	if strings.EqualFold(ext, ".mov") {
		return outPath
	}
	return strings.TrimSuffix(outPath, ext) + ".mov"
}

// encodeArgs builds the ffmpeg invocation: filtered video on stdin,
// audio copied straight from the source file.
func encodeArgs(audioSource, outPath string, enc config.EncodeSettings) []string {
	args := []string{
		"-y",
		"-i", "pipe:0",
		"-i", audioSource,
		"-map", "0:v:0",
		"-map", "1:a?",
		"-c:a", "copy",
	}
	args = append(args, codecArgs(enc)...)
	args = append(args, outPath)
	return args
}

func codecArgs(enc config.EncodeSettings) []string {
	crf := enc.CRF
	preset := strings.TrimSpace(enc.Preset)
	switch strings.ToLower(strings.TrimSpace(enc.Codec)) {
	case "", "ffv1":
		return []string{
			"-c:v", "ffv1",
			"-level", "3",
			"-coder", "1",
			"-context", "1",
			"-g", "1",
			"-slices", "24",
			"-slicecrc", "1",
		}
	case "prores":
		return []string{"-c:v", "prores_ks", "-profile:v", "3", "-vendor", "apl0"}
	case "x264":
		if crf <= 0 {
			crf = 16
		}
		if preset == "" {
			preset = "slow"
		}
		return []string{"-c:v", "libx264", "-crf", strconv.Itoa(crf), "-preset", preset}
	case "x265":
		if crf <= 0 {
			crf = 18
		}
		if preset == "" {
			preset = "slow"
		}
		return []string{"-c:v", "libx265", "-crf", strconv.Itoa(crf), "-preset", preset}
	case "av1":
		if crf <= 0 {
			crf = 24
		}
		return []string{"-c:v", "libsvtav1", "-crf", strconv.Itoa(crf)}
	case "lossless":
		return []string{"-c:v", "libx264", "-qp", "0", "-preset", "veryslow"}
	default:
		return []string{"-c:v", "ffv1", "-level", "3", "-g", "1"}
	}
}
