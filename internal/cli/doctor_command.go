package cli

import (
	"flag"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"tape-restorer/internal/config"
	"tape-restorer/internal/diskspace"
	"tape-restorer/internal/engine"
)

var (
	doctorOKStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	doctorErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")

	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.Load()
	if err != nil {
		return err
	}
	report := engine.DependencyStatus(settings.ProPainterPath, settings.GFPGANPath)
	if *jsonOut {
		return printJSON(report)
	}

	fmt.Println("External tools:")
	printCapability(report.VSPipe, true)
	printCapability(report.FFmpeg, true)
	printCapability(report.FFprobe, false)
	printCapability(report.ProPainter, false)
	printCapability(report.GFPGAN, false)

	fmt.Println()
	fmt.Println("Storage:")
	usage, err := diskspace.Stat(settings.CheckpointDir)
	if err != nil {
		fmt.Printf("  checkpoint dir %s: %s\n", settings.CheckpointDir, doctorErrStyle.Render(err.Error()))
	} else {
		fmt.Printf("  checkpoint dir %s: %s free\n", settings.CheckpointDir, diskspace.FormatBytes(usage.FreeBytes))
	}
	fmt.Printf("  temp dir %s\n", settings.TempDir)
	for _, alt := range settings.AlternativeDirs {
		fmt.Printf("  alternative dir %s\n", alt)
	}

	if err := report.CheckCore(); err != nil {
		fmt.Println()
		return err
	}
	fmt.Println()
	fmt.Println(doctorOKStyle.Render("ready"), "core tools are available")
	return nil
}

func printCapability(c engine.Capability, required bool) {
	if c.Available {
		fmt.Printf("  %s %-11s %s\n", doctorOKStyle.Render("ok"), c.Name, c.Path)
		return
	}
	label := "optional"
	if required {
		label = "MISSING"
	}
	fmt.Printf("  %s %-11s %s (%s)\n", doctorErrStyle.Render(label), c.Name, c.Reason, noteFor(required))
}

func noteFor(required bool) string {
	if required {
		return "required"
	}
	return "feature disabled without it"
}
