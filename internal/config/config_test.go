package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"TAPE_RESTORER_CHECKPOINT_DIR",
		"TAPE_RESTORER_TEMP_DIR",
		"TAPE_RESTORER_ALT_DIRS",
		"TAPE_RESTORER_DISK_BUFFER_GB",
		"TAPE_RESTORER_MIN_FREE_GB",
		"TAPE_RESTORER_CHECKPOINT_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	s, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, s.CheckpointDir)
	assert.NotEmpty(t, s.TempDir)
	assert.Equal(t, uint64(10)<<30, s.DiskBufferBytes)
	assert.Equal(t, uint64(20)<<30, s.MinFreeBytes)
	assert.Equal(t, 50, s.CheckpointIntervalFrames)
	assert.Equal(t, 5*time.Second, s.CheckpointDebounce)
	assert.Equal(t, 5*time.Second, s.StopGrace)
	assert.Empty(t, s.AlternativeDirs)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TAPE_RESTORER_CHECKPOINT_DIR", "/data/checkpoints")
	t.Setenv("TAPE_RESTORER_ALT_DIRS", "/mnt/scratch:/mnt/overflow:")
	t.Setenv("TAPE_RESTORER_DISK_BUFFER_GB", "2")
	t.Setenv("TAPE_RESTORER_CHECKPOINT_INTERVAL", "100")
	t.Setenv("TAPE_RESTORER_STOP_GRACE_SEC", "10")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/checkpoints", s.CheckpointDir)
	assert.Equal(t, []string{"/mnt/scratch", "/mnt/overflow"}, s.AlternativeDirs)
	assert.Equal(t, uint64(2)<<30, s.DiskBufferBytes)
	assert.Equal(t, 100, s.CheckpointIntervalFrames)
	assert.Equal(t, 10*time.Second, s.StopGrace)
	assert.Equal(t, "/data/checkpoints/logs", s.LogDir)
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	t.Setenv("TAPE_RESTORER_CHECKPOINT_INTERVAL", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint interval")
}

func TestJobConfigValidate(t *testing.T) {
	base := JobConfig{
		InputFile:  "tape.mkv",
		OutputFile: "restored.mkv",
		Encode:     EncodeSettings{FilterScript: "restore.vpy", Codec: "ffv1"},
	}
	require.NoError(t, base.Validate())

	missing := base
	missing.InputFile = ""
	assert.Error(t, missing.Validate())

	badCodec := base
	badCodec.Encode.Codec = "divx"
	assert.Error(t, badCodec.Validate())

	noMask := base
	noMask.Inpaint = &InpaintSettings{Mode: "mask"}
	assert.Error(t, noMask.Validate())

	autoMask := base
	autoMask.Inpaint = &InpaintSettings{Mode: "auto"}
	assert.NoError(t, autoMask.Validate())
}

func TestSettingsMapsDistinguishChanges(t *testing.T) {
	a := JobConfig{Encode: EncodeSettings{FilterScript: "a.vpy", Codec: "ffv1", CRF: 0}}
	b := JobConfig{Encode: EncodeSettings{FilterScript: "a.vpy", Codec: "ffv1", CRF: 18}}
	assert.NotEqual(t, a.EncodeSettingsMap(), b.EncodeSettingsMap())

	var c JobConfig
	assert.Empty(t, c.InpaintSettingsMap())
	assert.Empty(t, c.FaceEnhanceSettingsMap())
}
