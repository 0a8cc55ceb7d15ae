package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tape-restorer/internal/model"
)

const checkpointSuffix = ".checkpoint.json"

// Store persists ProcessingCheckpoints, one JSON file per job_id, with
// debounced writes so a fast frame loop does not turn into an fsync loop.
type Store struct {
	dir string

	// Non-forced saves are skipped unless at least debounceEvery has
	// elapsed OR debounceCount mutations accumulated since the last
	// physical write.
	debounceEvery time.Duration
	debounceCount int

	mu        sync.Mutex
	lastWrite time.Time
	dirty     int
	writes    int
}

type Option func(*Store)

func WithDebounce(every time.Duration, count int) Option {
	return func(s *Store) {
		if every > 0 {
			s.debounceEvery = every
		}
		if count > 0 {
			s.debounceCount = count
		}
	}
}

// NewStore binds a store to dir, creating it if needed. Failure to create
// the directory is job-fatal for the caller: nothing can be persisted.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := Mkdir(dir); err != nil {
		return nil, err
	}
	s := &Store{
		dir:           dir,
		debounceEvery: 5 * time.Second,
		debounceCount: 25,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+checkpointSuffix)
}

// JobID derives a stable job identifier from the stage name and the input
// path, so re-invoking the same logical job resumes instead of restarting.
func JobID(stage, inputPath string) string {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		abs = inputPath
	}
	sum := sha256.Sum256([]byte(abs))
	return stage + "_" + hex.EncodeToString(sum[:])[:12]
}

// SettingsHash fingerprints the effective stage settings plus file
// identity. Key order is canonicalized so equal settings always hash equal.
func SettingsHash(settings map[string]string, inputFile, outputFile string) string {
	merged := make(map[string]string, len(settings)+2)
	for k, v := range settings {
		merged[k] = v
	}
	merged["input_file"] = inputFile
	merged["output_file"] = outputFile

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(merged[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LoadOrCreate returns the persisted checkpoint for jobID when it is safe
// to resume. A terminal status, a settings-hash mismatch, or an unreadable
// file all yield a fresh checkpoint instead: never resume finished,
// incompatible, or corrupt work. The bool result reports whether partial
// progress was actually loaded.
func (s *Store) LoadOrCreate(jobID, inputFile, outputFile, settingsHash string, metadata map[string]string) (*model.ProcessingCheckpoint, bool, error) {
	path := s.Path(jobID)

	// Corrupt or unreadable checkpoints are treated the same as absent
	// ones; corruption must never block a restart.
	var cp model.ProcessingCheckpoint
	if err := ReadJSON(path, &cp); err != nil {
		return s.newCheckpoint(jobID, inputFile, outputFile, settingsHash, metadata), false, nil
	}

	if cp.Terminal() || cp.SettingsHash != settingsHash || !model.IsKnownStatus(cp.Status) {
		return s.newCheckpoint(jobID, inputFile, outputFile, settingsHash, metadata), false, nil
	}

	// A `running` checkpoint found at process start means the prior run
	// did not exit cleanly; it resumes as-is. Paused resumes too.
	if cp.Status == model.StatusPaused {
		if err := model.Transition(&cp, model.StatusRunning, ""); err != nil {
			return nil, false, err
		}
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]string{}
	}
	return &cp, cp.CurrentFrame > 0, nil
}

func (s *Store) newCheckpoint(jobID, inputFile, outputFile, settingsHash string, metadata map[string]string) *model.ProcessingCheckpoint {
	now := time.Now().UTC()
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &model.ProcessingCheckpoint{
		SchemaVersion: model.CheckpointSchemaVersion,
		JobID:         jobID,
		InputFile:     inputFile,
		OutputFile:    outputFile,
		StartTime:     now,
		LastUpdate:    now,
		SettingsHash:  settingsHash,
		Status:        model.StatusRunning,
		Metadata:      meta,
	}
}

// MarkFrameComplete advances the in-memory counters; it does not persist.
// current_frame is always the NEXT frame to process on resume.
func (s *Store) MarkFrameComplete(cp *model.ProcessingCheckpoint, frameIndex int) {
	// Frame indexes from tool status lines are cumulative, so advance
	// the processed count by the delta rather than by one per line.
	if frameIndex+1 > cp.CurrentFrame {
		cp.ProcessedFrames += frameIndex + 1 - cp.CurrentFrame
		cp.CurrentFrame = frameIndex + 1
	}
	cp.LastUpdate = time.Now().UTC()

	s.mu.Lock()
	s.dirty++
	s.mu.Unlock()
}

// Save persists the checkpoint. Non-forced saves are debounced; forced
// saves (status transitions, shutdown, explicit interval boundaries)
// always hit disk.
func (s *Store) Save(cp *model.ProcessingCheckpoint, force bool) error {
	s.mu.Lock()
	if !force {
		elapsed := time.Since(s.lastWrite)
		if elapsed < s.debounceEvery && s.dirty < s.debounceCount {
			s.mu.Unlock()
			return nil
		}
	}
	s.lastWrite = time.Now()
	s.dirty = 0
	s.writes++
	s.mu.Unlock()

	return WriteJSON(s.Path(cp.JobID), cp)
}

// PhysicalWrites reports how many saves actually reached disk.
func (s *Store) PhysicalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Delete removes the persisted file; called once the owning job has fully
// completed end-to-end.
func (s *Store) Delete(cp *model.ProcessingCheckpoint) error {
	if err := os.Remove(s.Path(cp.JobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint %s: %w", cp.JobID, err)
	}
	return nil
}

// JobSummary is the listing view the CLI renders for resumable work.
type JobSummary struct {
	JobID           string    `json:"job_id"`
	InputFile       string    `json:"input_file"`
	OutputFile      string    `json:"output_file"`
	Status          string    `json:"status"`
	ProcessedFrames int       `json:"processed_frames"`
	TotalFrames     int       `json:"total_frames"`
	ProgressPercent float64   `json:"progress_percent"`
	LastUpdate      time.Time `json:"last_update"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// List returns summaries for every readable checkpoint in the store,
// newest first. Unreadable files are skipped, not fatal.
func (s *Store) List() ([]JobSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []JobSummary{}, nil
		}
		return nil, fmt.Errorf("read checkpoint directory %s: %w", s.dir, err)
	}

	summaries := make([]JobSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), checkpointSuffix) {
			continue
		}
		var cp model.ProcessingCheckpoint
		if err := ReadJSON(filepath.Join(s.dir, e.Name()), &cp); err != nil {
			continue
		}
		summaries = append(summaries, JobSummary{
			JobID:           cp.JobID,
			InputFile:       cp.InputFile,
			OutputFile:      cp.OutputFile,
			Status:          cp.Status,
			ProcessedFrames: cp.ProcessedFrames,
			TotalFrames:     cp.TotalFrames,
			ProgressPercent: cp.ProgressPercent(),
			LastUpdate:      cp.LastUpdate,
			ErrorMessage:    cp.ErrorMessage,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastUpdate.After(summaries[j].LastUpdate)
	})
	return summaries, nil
}

// Resumable filters List down to checkpoints worth offering for resume.
func (s *Store) Resumable() ([]JobSummary, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]JobSummary, 0, len(all))
	for _, sum := range all {
		if sum.Status == model.StatusRunning || sum.Status == model.StatusPaused {
			out = append(out, sum)
		}
	}
	return out, nil
}

// SweepOlderThan removes checkpoint files whose last update is older than
// age, returning the number deleted.
func (s *Store) SweepOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read checkpoint directory %s: %w", s.dir, err)
	}

	cutoff := time.Now().Add(-age)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), checkpointSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// MetadataHash is a convenience for callers that keep settings as an
// arbitrary JSON-marshalable record rather than a string map.
func MetadataHash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal settings for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
