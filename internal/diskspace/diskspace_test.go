package diskspace

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestStatClimbsToExistingParent(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "not", "yet", "created")

	usage, err := Stat(missing)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if usage.TotalBytes == 0 {
		t.Fatal("TotalBytes = 0 for a real filesystem")
	}
	if usage.Path != dir {
		t.Fatalf("probe path = %q, want nearest existing parent %q", usage.Path, dir)
	}
}

func TestCheckPassesForTinyRequirement(t *testing.T) {
	res, err := Check(1, t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.OK {
		t.Fatalf("Check failed for a 1-byte requirement: %s", res.Message)
	}
}

func TestCheckHonorsConfiguredLowSpaceThreshold(t *testing.T) {
	// A threshold above any real disk's free space forces the warning
	// while admission still passes.
	res, err := Check(1, t.TempDir(), 0, 1<<60)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.OK {
		t.Fatalf("soft threshold must not reject: %s", res.Message)
	}
	if !res.LowSpace {
		t.Fatal("configured low-space threshold was ignored")
	}
	if !strings.Contains(res.Message, "comfort margin") {
		t.Fatalf("warning message %q does not name the margin", res.Message)
	}
}

func TestCheckRejectsImpossibleRequirement(t *testing.T) {
	// An exabyte will not fit anywhere this test runs.
	res, err := Check(1<<60, t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.OK {
		t.Fatal("Check approved an exabyte requirement")
	}
	if !strings.Contains(res.Message, "short by") {
		t.Fatalf("rejection message %q does not state the shortfall", res.Message)
	}
}

func TestFindAlternativeFallsBackToTemp(t *testing.T) {
	dir, err := FindAlternative(1, nil, 0)
	if err != nil {
		t.Fatalf("FindAlternative: %v", err)
	}
	if dir == "" {
		t.Fatal("FindAlternative returned empty directory")
	}
}

func TestFindAlternativeReportsAllProbes(t *testing.T) {
	_, err := FindAlternative(1<<60, []string{t.TempDir()}, 0)
	if err == nil {
		t.Fatal("expected failure for an exabyte requirement")
	}
	if !strings.Contains(err.Error(), "probed") {
		t.Fatalf("error %q does not list probed locations", err)
	}
}

func TestClassifyResolution(t *testing.T) {
	cases := []struct {
		w, h int
		want ResolutionClass
	}{
		{720, 576, ResolutionSD},
		{1280, 720, ResolutionHD},
		{1920, 1080, ResolutionFullHD},
		{3840, 2160, Resolution4K},
	}
	for _, c := range cases {
		if got := ClassifyResolution(c.w, c.h); got != c.want {
			t.Errorf("ClassifyResolution(%d, %d) = %d, want %d", c.w, c.h, got, c.want)
		}
	}
}

func TestEstimatesCarrySafetyMargin(t *testing.T) {
	if got := EstimateInpaintBytes(1000); got != 3600 {
		t.Fatalf("EstimateInpaintBytes(1000) = %d, want 3600", got)
	}

	enc := EstimateEncodeBytes(1920, 1080, 100)
	if enc == 0 {
		t.Fatal("EstimateEncodeBytes returned 0")
	}
	face := EstimateFaceEnhanceBytes(1920, 1080, 100)
	if face <= enc {
		t.Fatalf("face enhance (two PNG sets, %d) should exceed encode (%d)", face, enc)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		n    uint64
		want string
	}{
		{512, "512 B"},
		{2 * kib, "2.0 KiB"},
		{3 * mib, "3.0 MiB"},
		{20 * gib, "20.0 GiB"},
	}
	for _, c := range cases {
		if got := FormatBytes(c.n); got != c.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}
