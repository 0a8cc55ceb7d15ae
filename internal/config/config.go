package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the process-wide configuration, read from the environment.
// A .env file next to the working directory is honored when present.
//
// Environment Variables:
// - TAPE_RESTORER_CHECKPOINT_DIR: checkpoint directory (default: ~/.tape-restorer/checkpoints)
// - TAPE_RESTORER_TEMP_DIR: scratch directory for stage intermediates (default: system temp)
// - TAPE_RESTORER_ALT_DIRS: colon-separated fallback directories for disk-heavy stages
// - TAPE_RESTORER_DISK_BUFFER_GB: free-space headroom kept beyond estimates (default: 10)
// - TAPE_RESTORER_MIN_FREE_GB: soft low-space warning threshold (default: 20)
// - TAPE_RESTORER_CHECKPOINT_INTERVAL: frames between forced checkpoint saves (default: 50)
// - TAPE_RESTORER_CHECKPOINT_DEBOUNCE_SEC: min seconds between debounced saves (default: 5)
// - TAPE_RESTORER_STOP_GRACE_SEC: seconds between polite stop and kill (default: 5)
// - TAPE_RESTORER_PROPAINTER: path to the ProPainter launcher script
// - TAPE_RESTORER_GFPGAN: path to the GFPGAN launcher script
// - TAPE_RESTORER_LOG_DIR: per-job log directory (default: <checkpoint dir>/logs)
type Settings struct {
	CheckpointDir            string
	TempDir                  string
	AlternativeDirs          []string
	DiskBufferBytes          uint64
	MinFreeBytes             uint64
	CheckpointIntervalFrames int
	CheckpointDebounce       time.Duration
	StopGrace                time.Duration
	ProPainterPath           string
	GFPGANPath               string
	LogDir                   string
}

const gib = 1 << 30

// Load reads settings from .env plus the environment. A missing .env is
// not an error.
func Load() (Settings, error) {
	_ = godotenv.Load()

	s := Settings{
		CheckpointDir:            getEnvString("TAPE_RESTORER_CHECKPOINT_DIR", defaultCheckpointDir()),
		TempDir:                  getEnvString("TAPE_RESTORER_TEMP_DIR", os.TempDir()),
		AlternativeDirs:          splitDirs(os.Getenv("TAPE_RESTORER_ALT_DIRS")),
		DiskBufferBytes:          uint64(getEnvInt("TAPE_RESTORER_DISK_BUFFER_GB", 10)) * gib,
		MinFreeBytes:             uint64(getEnvInt("TAPE_RESTORER_MIN_FREE_GB", 20)) * gib,
		CheckpointIntervalFrames: getEnvInt("TAPE_RESTORER_CHECKPOINT_INTERVAL", 50),
		CheckpointDebounce:       time.Duration(getEnvInt("TAPE_RESTORER_CHECKPOINT_DEBOUNCE_SEC", 5)) * time.Second,
		StopGrace:                time.Duration(getEnvInt("TAPE_RESTORER_STOP_GRACE_SEC", 5)) * time.Second,
		ProPainterPath:           getEnvString("TAPE_RESTORER_PROPAINTER", ""),
		GFPGANPath:               getEnvString("TAPE_RESTORER_GFPGAN", ""),
	}
	s.LogDir = getEnvString("TAPE_RESTORER_LOG_DIR", filepath.Join(s.CheckpointDir, "logs"))

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.CheckpointIntervalFrames <= 0 {
		return fmt.Errorf("checkpoint interval must be positive, got %d", s.CheckpointIntervalFrames)
	}
	if s.CheckpointDebounce <= 0 {
		return fmt.Errorf("checkpoint debounce must be positive, got %s", s.CheckpointDebounce)
	}
	if s.StopGrace <= 0 {
		return fmt.Errorf("stop grace must be positive, got %s", s.StopGrace)
	}
	return nil
}

func defaultCheckpointDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tape-restorer", "checkpoints")
	}
	return filepath.Join(home, ".tape-restorer", "checkpoints")
}

func splitDirs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return v
}
