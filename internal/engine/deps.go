package engine

import (
	"os"
	"os/exec"
	"strings"
)

// Capability reports whether one external tool is usable and why not.
type Capability struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// DependencyReport collects the probe results the doctor command prints.
type DependencyReport struct {
	VSPipe     Capability `json:"vspipe"`
	FFmpeg     Capability `json:"ffmpeg"`
	FFprobe    Capability `json:"ffprobe"`
	ProPainter Capability `json:"propainter"`
	GFPGAN     Capability `json:"gfpgan"`
}

func probeBinary(name string) Capability {
	path, err := exec.LookPath(name)
	if err != nil {
		return Capability{Name: name, Reason: "not found on PATH"}
	}
	return Capability{Name: name, Path: path, Available: true}
}

// probeScript checks a configured launcher path for the Python-side
// tools, which do not live on PATH.
func probeScript(name, configuredPath string) Capability {
	p := strings.TrimSpace(configuredPath)
	if p == "" {
		return Capability{Name: name, Reason: "no launcher path configured"}
	}
	if _, err := os.Stat(p); err != nil {
		return Capability{Name: name, Reason: "configured launcher path does not exist: " + p}
	}
	return Capability{Name: name, Path: p, Available: true}
}

// DependencyStatus probes every external tool the pipeline can use.
// proPainterPath and gfpganPath come from configuration and may be empty.
func DependencyStatus(proPainterPath, gfpganPath string) DependencyReport {
	return DependencyReport{
		VSPipe:     probeBinary("vspipe"),
		FFmpeg:     probeBinary("ffmpeg"),
		FFprobe:    probeBinary("ffprobe"),
		ProPainter: probeScript("propainter", proPainterPath),
		GFPGAN:     probeScript("gfpgan", gfpganPath),
	}
}

// CheckCore verifies the tools no pipeline can run without.
func (r DependencyReport) CheckCore() error {
	if !r.VSPipe.Available {
		return missingDependency("vspipe", r.VSPipe.Reason)
	}
	if !r.FFmpeg.Available {
		return missingDependency("ffmpeg", r.FFmpeg.Reason)
	}
	return nil
}

func missingDependency(name, reason string) error {
	if reason == "" {
		reason = "unavailable"
	}
	return &MissingDependencyError{Tool: name, Reason: reason}
}

// MissingDependencyError distinguishes setup problems from runtime
// failures; these stay non-retryable.
type MissingDependencyError struct {
	Tool   string
	Reason string
}

func (e *MissingDependencyError) Error() string {
	return "missing dependency: " + e.Tool + " (" + e.Reason + ")"
}
