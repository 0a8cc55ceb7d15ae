package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func installFakeTools(t *testing.T) {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+":"+os.Getenv("PATH"))

	scripts := map[string]string{
		"vspipe": `#!/usr/bin/env bash
printf 'YUV4MPEG2 fake stream data'
echo "Frame 10/10" >&2
`,
		"ffmpeg": `#!/usr/bin/env bash
if [ ! -t 0 ]; then cat > /dev/null; fi
out="${@: -1}"
head -c 4096 /dev/zero > "$out"
echo "frame=   10 fps= 25.0" >&2
`,
		"ffprobe": `#!/usr/bin/env bash
for a in "$@"; do
  if [ "$a" = "-count_frames" ]; then
    echo '{"streams": [{"nb_read_frames": "10"}]}'
    exit 0
  fi
done
cat <<'EOF'
{
  "streams": [{"width": 720, "height": 576, "r_frame_rate": "25/1", "nb_frames": "10"}],
  "format": {"duration": "0.4"}
}
EOF
`,
	}
	for name, script := range scripts {
		if err := os.WriteFile(filepath.Join(bin, name), []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func setTestEnv(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("TAPE_RESTORER_CHECKPOINT_DIR", filepath.Join(base, "checkpoints"))
	t.Setenv("TAPE_RESTORER_TEMP_DIR", base)
	t.Setenv("TAPE_RESTORER_DISK_BUFFER_GB", "0")
	t.Setenv("TAPE_RESTORER_MIN_FREE_GB", "0")
	t.Setenv("TAPE_RESTORER_LOG_DIR", filepath.Join(base, "logs"))
	return base
}

func TestHarnessRunCommandCompletes(t *testing.T) {
	installFakeTools(t)
	base := setTestEnv(t)

	input := filepath.Join(base, "tape.mkv")
	if err := os.WriteFile(input, bytes.Repeat([]byte{7}, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(base, "restore.vpy")
	if err := os.WriteFile(script, []byte("# filter chain\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(base, "restored.mkv")

	err := Run([]string{"run",
		"--input", input,
		"--output", output,
		"--filter-script", script,
		"--quiet",
	})
	if err != nil {
		t.Fatalf("run command failed: %v", err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestHarnessRunCommandValidatesFlags(t *testing.T) {
	setTestEnv(t)

	err := Run([]string{"run", "--input", "only.mkv"})
	if err == nil {
		t.Fatal("run accepted missing required flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Fatalf("error %q does not name the missing flags", err)
	}
}

func TestHarnessJobsEmptyStore(t *testing.T) {
	setTestEnv(t)

	if err := Run([]string{"jobs"}); err != nil {
		t.Fatalf("jobs failed on empty store: %v", err)
	}
}

func TestHarnessUnknownCommand(t *testing.T) {
	err := Run([]string{"frobnicate"})
	if err == nil {
		t.Fatal("unknown command accepted")
	}
}
