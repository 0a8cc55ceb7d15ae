package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"tape-restorer/internal/checkpoint"
	"tape-restorer/internal/config"
	"tape-restorer/internal/diskspace"
	"tape-restorer/internal/engine"
	"tape-restorer/internal/migrate"
	"tape-restorer/internal/model"
	"tape-restorer/internal/stage"
)

// ErrStopped reports that the pipeline was paused by request rather
// than failing.
var ErrStopped = errors.New("pipeline stopped by request")

// jobIDPrefix groups all pipeline checkpoints under one namespace.
const jobIDPrefix = "restore"

// Pipeline drives one restoration job through its stages, checkpointing
// as it goes. It is the only component that writes terminal statuses.
type Pipeline struct {
	settings config.Settings
	job      config.JobConfig
	store    *checkpoint.Store
	sink     *eventSink

	// ReleaseAccel, when set by the caller, frees shared accelerator
	// state between stages so no stage holds it across a boundary.
	ReleaseAccel func()

	stopReq atomic.Bool

	mu      sync.Mutex
	runners []*engine.Runner
}

func New(settings config.Settings, job config.JobConfig) (*Pipeline, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	store, err := checkpoint.NewStore(
		settings.CheckpointDir,
		checkpoint.WithDebounce(settings.CheckpointDebounce, 25),
	)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		settings: settings,
		job:      job,
		store:    store,
		sink:     newEventSink(),
	}, nil
}

// Events exposes the progress stream. Closed when Run returns.
func (p *Pipeline) Events() <-chan Event {
	return p.sink.ch
}

// RequestStop asks the pipeline to pause at the next safe point. Live
// external processes get the graceful stop treatment.
func (p *Pipeline) RequestStop() {
	p.stopReq.Store(true)
	p.mu.Lock()
	runners := append([]*engine.Runner(nil), p.runners...)
	p.mu.Unlock()
	for _, r := range runners {
		r.Stop()
	}
}

func (p *Pipeline) registerRunner(r *engine.Runner) {
	p.mu.Lock()
	p.runners = append(p.runners, r)
	p.mu.Unlock()
	// A stop that raced registration still reaches the runner.
	if p.stopReq.Load() {
		r.Stop()
	}
}

// Run executes the job to completion, pause, or failure. The returned
// error is nil on completion and ErrStopped on a requested pause.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.sink.close()
	defer p.releaseAccel()

	report := engine.DependencyStatus(p.settings.ProPainterPath, p.settings.GFPGANPath)
	if err := report.CheckCore(); err != nil {
		return err
	}

	jobID := checkpoint.JobID(jobIDPrefix, p.job.InputFile)
	lock, err := checkpoint.AcquireJobLock(p.settings.CheckpointDir, jobID)
	if err != nil {
		return err
	}
	defer lock.Release()

	settingsHash := p.settingsHash()
	meta := map[string]string{}
	if cfgJSON, err := json.Marshal(p.job); err == nil {
		meta["job_config"] = string(cfgJSON)
	}
	cp, resumed, err := p.store.LoadOrCreate(jobID, p.job.InputFile, p.job.OutputFile, settingsHash, meta)
	if err != nil {
		return err
	}

	if resumed && cp.OutputFile != p.job.OutputFile {
		res, err := migrate.DetectAndMigrate(cp, p.job.OutputFile)
		if err != nil {
			// Migration failure just costs recomputation.
			p.sink.publish(Event{Kind: EventWarning, Message: fmt.Sprintf("work dir migration failed: %v", err)})
		} else if res.Migrated {
			p.sink.publish(Event{Kind: EventStage, Message: fmt.Sprintf(
				"migrated %d files (%s) to %s",
				res.FilesMoved, diskspace.FormatBytes(uint64(res.BytesMoved)), res.ToDir,
			)})
		}
	}

	logWriter, logClose, err := p.openJobLog(jobID)
	if err != nil {
		return err
	}
	defer logClose()

	video, err := engine.ProbeVideo(ctx, p.job.InputFile)
	if err != nil {
		if !report.FFprobe.Available {
			p.sink.publish(Event{Kind: EventWarning, Message: "ffprobe unavailable, frame counts will be estimated"})
		} else {
			return p.fail(cp, fmt.Errorf("probe input: %w", err))
		}
	}
	if cp.TotalFrames == 0 {
		cp.TotalFrames = video.FrameCount
	}
	if err := p.store.Save(cp, true); err != nil {
		return err
	}

	workDir := p.job.WorkDir()
	err = p.runStages(ctx, report, cp, video, workDir, logWriter)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			if terr := model.Transition(cp, model.StatusPaused, ""); terr == nil {
				_ = p.store.Save(cp, true)
			}
			return ErrStopped
		}
		return p.fail(cp, err)
	}

	if err := model.Transition(cp, model.StatusCompleted, ""); err != nil {
		return err
	}
	if err := p.store.Save(cp, true); err != nil {
		return err
	}
	// The work dir and the checkpoint have nothing left to offer once
	// the output is final.
	_ = os.RemoveAll(workDir)
	if err := p.store.Delete(cp); err != nil {
		p.sink.publish(Event{Kind: EventWarning, Message: err.Error()})
	}
	p.sink.publish(Event{Kind: EventStage, Message: "restoration complete: " + cp.OutputFile})
	return nil
}

type plannedStage struct {
	impl     stage.Stage
	weight   float64
	optional bool
	// available gates optional stages on their external tool.
	available bool
	reason    string
}

func (p *Pipeline) plan(report engine.DependencyReport) []plannedStage {
	var stages []plannedStage
	if p.job.Inpaint != nil {
		stages = append(stages, plannedStage{
			impl:      stage.Inpaint{LauncherPath: p.settings.ProPainterPath},
			weight:    0.2,
			optional:  true,
			available: report.ProPainter.Available,
			reason:    report.ProPainter.Reason,
		})
	}
	stages = append(stages, plannedStage{
		impl:      stage.FilterEncode{},
		weight:    0.6,
		available: true,
	})
	if p.job.FaceEnh != nil {
		stages = append(stages, plannedStage{
			impl:      stage.FaceEnhance{LauncherPath: p.settings.GFPGANPath},
			weight:    0.2,
			optional:  true,
			available: report.GFPGAN.Available,
			reason:    report.GFPGAN.Reason,
		})
	}

	// Normalize weights over the stages that will actually run.
	var sum float64
	for _, st := range stages {
		if st.available || !st.optional {
			sum += st.weight
		}
	}
	if sum > 0 {
		for i := range stages {
			stages[i].weight /= sum
		}
	}
	return stages
}

func (p *Pipeline) runStages(ctx context.Context, report engine.DependencyReport, cp *model.ProcessingCheckpoint, video engine.VideoInfo, workDir string, logWriter io.Writer) error {
	stages := p.plan(report)
	completed := completedSet(cp)

	faceEnhanceRuns := p.job.FaceEnh != nil && report.GFPGAN.Available

	offset := 0.0
	for _, st := range stages {
		name := st.impl.Name()
		if st.optional && !st.available {
			p.sink.publish(Event{Kind: EventWarning, Message: fmt.Sprintf(
				"skipping %s: %s", name, st.reason,
			)})
			continue
		}
		if completed[name] {
			offset += st.weight
			continue
		}
		if p.stopReq.Load() {
			return ErrStopped
		}

		jobCfg := p.job
		if name == "filter_encode" && faceEnhanceRuns {
			// The encode output becomes face-enhance input, so it lands
			// in the work dir instead of the final path.
			jobCfg.OutputFile = filepath.Join(workDir, "encoded.mkv")
		}

		stageWorkDir := workDir
		if st.impl.DiskHeavy() {
			est := st.impl.EstimateBytes(&stage.Job{Config: jobCfg, Video: video})
			res, err := diskspace.Check(est, workDir, p.settings.DiskBufferBytes, p.settings.MinFreeBytes)
			if err != nil {
				return err
			}
			if !res.OK {
				alt, altErr := diskspace.FindAlternative(est, p.scratchCandidates(), p.settings.DiskBufferBytes)
				if altErr != nil {
					return fmt.Errorf("%s admission: %s", name, res.Message)
				}
				stageWorkDir = filepath.Join(alt, "tape-restorer-work")
				p.sink.publish(Event{Kind: EventWarning, Message: fmt.Sprintf(
					"%s: using alternative scratch dir %s", name, stageWorkDir,
				)})
			} else if res.LowSpace {
				p.sink.publish(Event{Kind: EventWarning, Message: res.Message})
			}
		}
		if err := os.MkdirAll(stageWorkDir, 0o755); err != nil {
			return fmt.Errorf("create work dir: %w", err)
		}

		p.sink.publish(Event{Kind: EventStage, Stage: name, OverallFraction: offset, Message: "starting " + name})

		sj := &stage.Job{
			Config:         jobCfg,
			Settings:       p.settings,
			Checkpoint:     cp,
			Store:          p.store,
			Video:          video,
			WorkDir:        stageWorkDir,
			LogWriter:      logWriter,
			RegisterRunner: p.registerRunner,
		}
		stageOffset := offset
		artifact, err := st.impl.Run(ctx, sj, func(ev stage.ProgressEvent) {
			p.sink.publish(remap(ev, stageOffset, st.weight))
		})
		p.releaseAccel()
		if err != nil {
			if p.stopReq.Load() {
				return ErrStopped
			}
			if st.optional {
				// Degraded result beats no result: drop the stage's effect
				// and carry the prior artifact forward.
				p.sink.publish(Event{Kind: EventWarning, Message: fmt.Sprintf(
					"%s failed, continuing without it: %v", name, err,
				)})
				delete(cp.Metadata, name+"_artifact")
				if name == "inpaint" {
					delete(cp.Metadata, "inpainted_artifact")
				}
				if name == "face_enhance" {
					if src := cp.Metadata["encoded_artifact"]; src != "" && src != p.job.OutputFile {
						if perr := promoteArtifact(src, p.job.OutputFile); perr != nil {
							return fmt.Errorf("recover encoded output: %w", perr)
						}
					}
				}
				offset += st.weight
				continue
			}
			return fmt.Errorf("stage %s: %w", name, err)
		}

		completed[name] = true
		cp.Metadata["completed_stages"] = joinCompleted(completed)
		cp.Metadata[name+"_artifact"] = artifact
		if name == "filter_encode" {
			cp.Metadata["encoded_artifact"] = artifact
		}
		if err := p.store.Save(cp, true); err != nil {
			return err
		}
		offset += st.weight
	}
	return nil
}

// scratchCandidates orders the explicit fallback dirs first, then the
// configured scratch dir, ahead of the system-wide locations probed by
// FindAlternative itself.
func (p *Pipeline) scratchCandidates() []string {
	dirs := append([]string(nil), p.settings.AlternativeDirs...)
	if p.settings.TempDir != "" {
		dirs = append(dirs, p.settings.TempDir)
	}
	return dirs
}

func (p *Pipeline) releaseAccel() {
	if p.ReleaseAccel != nil {
		p.ReleaseAccel()
	}
}

// promoteArtifact moves an intermediate into its final location, falling
// back to a copy when the two sit on different filesystems.
func promoteArtifact(src, dst string) error {
	if os.Rename(src, dst) == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func (p *Pipeline) fail(cp *model.ProcessingCheckpoint, cause error) error {
	if terr := model.Transition(cp, model.StatusFailed, cause.Error()); terr == nil {
		_ = p.store.Save(cp, true)
	}
	return cause
}

// settingsHash covers every knob whose change invalidates prior work.
func (p *Pipeline) settingsHash() string {
	merged := map[string]string{}
	for k, v := range p.job.EncodeSettingsMap() {
		merged["encode."+k] = v
	}
	for k, v := range p.job.InpaintSettingsMap() {
		merged["inpaint."+k] = v
	}
	for k, v := range p.job.FaceEnhanceSettingsMap() {
		merged["face."+k] = v
	}
	return checkpoint.SettingsHash(merged, p.job.InputFile, p.job.OutputFile)
}

func (p *Pipeline) openJobLog(jobID string) (io.Writer, func(), error) {
	if err := os.MkdirAll(p.settings.LogDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(p.settings.LogDir, jobID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func completedSet(cp *model.ProcessingCheckpoint) map[string]bool {
	set := map[string]bool{}
	for _, name := range strings.Split(cp.Metadata["completed_stages"], ",") {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = true
		}
	}
	return set
}

func joinCompleted(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for name, ok := range set {
		if ok {
			names = append(names, name)
		}
	}
	// Stage order is fixed, but the metadata value should be stable too.
	sort.Strings(names)
	return strings.Join(names, ",")
}
