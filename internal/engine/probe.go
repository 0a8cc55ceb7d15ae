package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo is the subset of ffprobe output the pipeline plans around.
type VideoInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Duration   float64
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		NBFrames     string `json:"nb_frames"`
		NBReadFrames string `json:"nb_read_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeVideo inspects the first video stream of path. When the container
// does not carry a frame count, one is derived from duration and frame
// rate; exact counting is left to CountFrames because it decodes the
// whole file.
func ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	out, err := runFFprobe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return VideoInfo{}, err
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream in %s", path)
	}

	s := parsed.Streams[0]
	info := VideoInfo{
		Width:  s.Width,
		Height: s.Height,
		FPS:    parseFrameRate(s.RFrameRate),
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64); err == nil {
		info.Duration = d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s.NBFrames)); err == nil && n > 0 {
		info.FrameCount = n
	} else if info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration * info.FPS))
	}
	if info.Width <= 0 || info.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("ffprobe reported no dimensions for %s", path)
	}
	return info, nil
}

// CountFrames decodes the stream to get an exact frame count. Slow on
// long tapes; callers fall back to ProbeVideo's estimate when this fails.
func CountFrames(ctx context.Context, path string) (int, error) {
	out, err := runFFprobe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, err
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return 0, fmt.Errorf("no video stream in %s", path)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parsed.Streams[0].NBReadFrames))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("ffprobe returned no frame count for %s", path)
	}
	return n, nil
}

func runFFprobe(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffprobe returned empty output")
	}
	return stdout.Bytes(), nil
}

func parseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}
