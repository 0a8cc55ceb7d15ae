package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tape-restorer/internal/checkpoint"
	"tape-restorer/internal/config"
)

func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	jobID := fs.String("job", "", "resume this job id without the interactive picker")
	jsonOut := fs.Bool("json", false, "print machine-readable progress lines")
	quiet := fs.Bool("quiet", false, "suppress the progress dashboard")

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
	resumable, err := store.Resumable()
	if err != nil {
		return err
	}
	if len(resumable) == 0 {
		fmt.Println("nothing to resume")
		return nil
	}

	chosen := strings.TrimSpace(*jobID)
	if chosen == "" {
		if !stdinIsTTY() {
			return errors.New("no TTY: pass --job <id> (see `tape-restorer jobs`)")
		}
		picked, err := pickJob(resumable)
		if err != nil {
			return err
		}
		if picked == "" {
			return nil // cancelled
		}
		chosen = picked
	}

	job, err := loadJobConfig(store, chosen)
	if err != nil {
		return err
	}
	return executeJob(settings, job, *jsonOut, *quiet)
}

// loadJobConfig rebuilds the original job from the config the pipeline
// serialized into checkpoint metadata.
func loadJobConfig(store *checkpoint.Store, jobID string) (config.JobConfig, error) {
	var cp struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := checkpoint.ReadJSON(store.Path(jobID), &cp); err != nil {
		return config.JobConfig{}, fmt.Errorf("no checkpoint for job %s: %w", jobID, err)
	}
	raw := cp.Metadata["job_config"]
	if raw == "" {
		return config.JobConfig{}, fmt.Errorf("checkpoint %s predates job replay, re-run with the original flags", jobID)
	}
	var job config.JobConfig
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return config.JobConfig{}, fmt.Errorf("parse stored job config for %s: %w", jobID, err)
	}
	return job, nil
}

var (
	pickTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pickMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pickSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

type pickModel struct {
	jobs   []checkpoint.JobSummary
	cursor int
	chosen string
	done   bool
}

func pickJob(jobs []checkpoint.JobSummary) (string, error) {
	m := pickModel{jobs: jobs}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return "", err
	}
	result, ok := final.(pickModel)
	if !ok {
		return "", nil
	}
	return result.chosen, nil
}

func (m pickModel) Init() tea.Cmd {
	return nil
}

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.jobs)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.jobs[m.cursor].JobID
		m.done = true
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m pickModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(pickTitleStyle.Render("Resume which job?"))
	b.WriteString("\n\n")
	for i, job := range m.jobs {
		line := fmt.Sprintf("%-22s %-8s %5.1f%%  %s", job.JobID, job.Status, job.ProgressPercent, job.InputFile)
		if i == m.cursor {
			b.WriteString(pickSelStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(pickMutedStyle.Render("enter resume · q cancel"))
	b.WriteString("\n")
	return b.String()
}
