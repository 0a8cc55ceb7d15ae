package model

import (
	"path/filepath"
	"time"
)

// ProcessingCheckpoint is the canonical per-job state record. One file per
// job_id lives in the checkpoint directory; the stage runner that owns the
// job is the only writer while its process is active.
type ProcessingCheckpoint struct {
	SchemaVersion   int               `json:"schema_version"`
	JobID           string            `json:"job_id"`
	InputFile       string            `json:"input_file"`
	OutputFile      string            `json:"output_file"`
	TotalFrames     int               `json:"total_frames"`
	ProcessedFrames int               `json:"processed_frames"`
	CurrentFrame    int               `json:"current_frame"`
	StartTime       time.Time         `json:"start_time"`
	LastUpdate      time.Time         `json:"last_update"`
	SettingsHash    string            `json:"settings_hash"`
	Status          string            `json:"status"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

const CheckpointSchemaVersion = 1

// OutputRoot is the directory that holds the output file and the job's
// scratch directory.
func (cp *ProcessingCheckpoint) OutputRoot() string {
	return filepath.Dir(cp.OutputFile)
}

// ProgressPercent reports completed work on a 0-100 scale.
func (cp *ProcessingCheckpoint) ProgressPercent() float64 {
	if cp.TotalFrames == 0 {
		return 0
	}
	return float64(cp.ProcessedFrames) / float64(cp.TotalFrames) * 100
}

// Elapsed is the wall-clock time spent processing so far.
func (cp *ProcessingCheckpoint) Elapsed() time.Duration {
	if cp.LastUpdate.Before(cp.StartTime) {
		return 0
	}
	return cp.LastUpdate.Sub(cp.StartTime)
}

// EstimatedRemaining extrapolates the remaining time from the observed
// frame throughput. Returns zero until at least one frame has completed.
func (cp *ProcessingCheckpoint) EstimatedRemaining() time.Duration {
	if cp.ProcessedFrames == 0 {
		return 0
	}
	elapsed := cp.Elapsed()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(cp.ProcessedFrames) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	remaining := cp.TotalFrames - cp.ProcessedFrames
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// Terminal reports whether the checkpoint may never be resumed.
func (cp *ProcessingCheckpoint) Terminal() bool {
	return cp.Status == StatusCompleted || cp.Status == StatusFailed
}
