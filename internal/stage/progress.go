package stage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Update is one parsed progress observation from a tool's output.
type Update struct {
	Frame int
	Total int
	FPS   float64
	// Percent is set when the line carried only a percentage.
	Percent float64
	HasPct  bool
}

var (
	// vspipe: "Frame 1234/40000"
	vspipeFrameRe = regexp.MustCompile(`Frame (\d+)/(\d+)`)
	// ffmpeg status line: "frame= 1234 fps= 25.0 ..."
	ffmpegFrameRe = regexp.MustCompile(`frame=\s*(\d+)\s+fps=\s*([\d.]+)`)
	// generic "1234/40000" used by the inpainting launcher
	ratioRe = regexp.MustCompile(`\b(\d+)/(\d+)\b`)
	// bare percentage: "42%"
	percentRe = regexp.MustCompile(`\b(\d{1,3})%`)
	// "frame: 1234" or "frame 1234" from the face enhancer
	looseFrameRe = regexp.MustCompile(`frame[:\s]+(\d+)`)
)

// ParseProgress extracts a progress observation from one output line.
// Patterns are tried from most to least specific.
func ParseProgress(line string) (Update, bool) {
	if m := ffmpegFrameRe.FindStringSubmatch(line); m != nil {
		frame, _ := strconv.Atoi(m[1])
		fps, _ := strconv.ParseFloat(m[2], 64)
		return Update{Frame: frame, FPS: fps}, true
	}
	if m := vspipeFrameRe.FindStringSubmatch(line); m != nil {
		frame, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		return Update{Frame: frame, Total: total}, true
	}
	if m := ratioRe.FindStringSubmatch(line); m != nil {
		frame, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		if total > 0 && frame <= total {
			return Update{Frame: frame, Total: total}, true
		}
	}
	if m := percentRe.FindStringSubmatch(line); m != nil {
		pct, _ := strconv.Atoi(m[1])
		if pct <= 100 {
			return Update{Percent: float64(pct) / 100, HasPct: true}, true
		}
	}
	if m := looseFrameRe.FindStringSubmatch(strings.ToLower(line)); m != nil {
		frame, _ := strconv.Atoi(m[1])
		return Update{Frame: frame}, true
	}
	return Update{}, false
}

// Fraction converts an update into a 0..1 stage fraction given the known
// frame total. Updates carrying their own total prefer it.
func (u Update) Fraction(totalFrames int) float64 {
	switch {
	case u.HasPct:
		return clamp01(u.Percent)
	case u.Total > 0:
		return clamp01(float64(u.Frame) / float64(u.Total))
	case totalFrames > 0:
		return clamp01(float64(u.Frame) / float64(totalFrames))
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EstimateETA projects remaining wall time from the observed rate.
func EstimateETA(done, total int, fps float64) time.Duration {
	if fps <= 0 || total <= 0 || done >= total {
		return 0
	}
	remaining := float64(total-done) / fps
	return time.Duration(remaining * float64(time.Second))
}

// FormatETA renders a duration the way the dashboard shows it.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// benign stderr noise that must not be surfaced as errors
var benignPatterns = []string{
	"deprecated pixel format",
	"Last message repeated",
	"timestamp discontinuity",
	"Warning: data is not aligned",
	"Past duration",
}

// IsBenignNoise reports whether a stderr line is known harmless chatter.
func IsBenignNoise(line string) bool {
	for _, p := range benignPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}
