package cli

import (
	"flag"
	"fmt"
	"time"

	"tape-restorer/internal/checkpoint"
	"tape-restorer/internal/config"
)

func runJobs(args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	sweepOlderThan := fs.Duration("sweep-older-than", 0, "delete checkpoints idle longer than this (e.g. 720h)")

	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.Load()
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(settings.CheckpointDir)
	if err != nil {
		return err
	}

	if *sweepOlderThan > 0 {
		deleted, err := store.SweepOlderThan(*sweepOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("swept %d stale checkpoint(s)\n", deleted)
	}

	summaries, err := store.List()
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("no checkpointed jobs")
		return nil
	}

	fmt.Printf("%-22s %-9s %8s %10s  %s\n", "JOB", "STATUS", "PROGRESS", "UPDATED", "INPUT")
	for _, s := range summaries {
		fmt.Printf("%-22s %-9s %7.1f%% %10s  %s\n",
			s.JobID, s.Status, s.ProgressPercent, relativeAge(s.LastUpdate), s.InputFile)
	}
	return nil
}

func relativeAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
