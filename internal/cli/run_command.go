package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tape-restorer/internal/config"
	"tape-restorer/internal/pipeline"
)

func runRestore(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	input := fs.String("input", "", "input video file (required)")
	output := fs.String("output", "", "output video file (required)")
	filterScript := fs.String("filter-script", "", "VapourSynth filter script (required)")
	codec := fs.String("codec", "ffv1", "output codec: ffv1|prores|x264|x265|av1|lossless")
	crf := fs.Int("crf", 0, "CRF for lossy codecs (0 = codec default)")
	preset := fs.String("preset", "", "encoder preset for x264/x265")
	inpaintMask := fs.String("inpaint-mask", "", "mask file enabling logo/artifact inpainting")
	inpaintMode := fs.String("inpaint-mode", "mask", "inpainting mode: mask|auto")
	faceEnhance := fs.Bool("face-enhance", false, "enable GFPGAN face restoration")
	faceVersion := fs.String("face-version", "1.4", "GFPGAN model version")
	faceUpscale := fs.Int("face-upscale", 1, "GFPGAN upscale factor")
	jsonOut := fs.Bool("json", false, "print machine-readable progress lines")
	quiet := fs.Bool("quiet", false, "suppress the progress dashboard")

	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*input) == "" || strings.TrimSpace(*output) == "" {
		fs.Usage()
		return errors.New("--input and --output are required")
	}
	if strings.TrimSpace(*filterScript) == "" {
		fs.Usage()
		return errors.New("--filter-script is required")
	}

	job := config.JobConfig{
		InputFile:  *input,
		OutputFile: *output,
		Encode: config.EncodeSettings{
			FilterScript: *filterScript,
			Codec:        *codec,
			CRF:          *crf,
			Preset:       *preset,
		},
	}
	if strings.TrimSpace(*inpaintMask) != "" || *inpaintMode == "auto" {
		job.Inpaint = &config.InpaintSettings{
			MaskFile: strings.TrimSpace(*inpaintMask),
			Mode:     *inpaintMode,
		}
	}
	if *faceEnhance {
		job.FaceEnh = &config.FaceEnhanceSettings{
			Version: *faceVersion,
			Upscale: *faceUpscale,
		}
	}

	settings, err := config.Load()
	if err != nil {
		return err
	}
	return executeJob(settings, job, *jsonOut, *quiet)
}

// executeJob drives one pipeline run with signal handling and progress
// rendering. Shared with the resume command.
func executeJob(settings config.Settings, job config.JobConfig, jsonOut, quiet bool) error {
	p, err := pipeline.New(settings, job)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nstop requested, checkpointing...")
		p.RequestStop()
	}()

	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(p.Events(), jsonOut, quiet)
	}()

	err = p.Run(context.Background())
	<-renderDone

	if errors.Is(err, pipeline.ErrStopped) {
		fmt.Println("paused; run `tape-restorer resume` to continue")
		return nil
	}
	return err
}

func renderEvents(events <-chan pipeline.Event, jsonOut, quiet bool) {
	var dash *dashboard
	if !jsonOut && !quiet {
		dash = newDashboard(os.Stdout)
	}
	for ev := range events {
		switch {
		case jsonOut:
			_ = printJSON(progressLine{
				Kind:     string(ev.Kind),
				Stage:    ev.Stage,
				Fraction: ev.OverallFraction,
				FPS:      ev.FPS,
				Message:  ev.Message,
			})
		case quiet:
			if ev.Kind != pipeline.EventProgress {
				fmt.Println(ev.Message)
			}
		default:
			dash.render(ev)
		}
	}
	if dash != nil {
		dash.finish()
	}
}

type progressLine struct {
	Kind     string  `json:"kind"`
	Stage    string  `json:"stage,omitempty"`
	Fraction float64 `json:"fraction"`
	FPS      float64 `json:"fps,omitempty"`
	Message  string  `json:"message,omitempty"`
}
