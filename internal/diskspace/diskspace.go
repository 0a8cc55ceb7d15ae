package diskspace

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// safetyMultiplier pads every stage estimate; real footprints drift above
// the heuristic on noisy sources.
const safetyMultiplier = 1.2

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// DefaultLowSpaceBytes is the free-space level below which admission
// still passes but the caller is warned to watch the disk, used when
// no explicit threshold is configured.
const DefaultLowSpaceBytes = 20 * gib

// Usage describes the filesystem holding path.
type Usage struct {
	Path       string
	TotalBytes uint64
	FreeBytes  uint64
}

// Stat reports free space for the filesystem that will hold path. The
// path itself may not exist yet; the walk climbs to the nearest existing
// parent so estimates can be made before output directories are created.
func Stat(path string) (Usage, error) {
	probe, err := nearestExisting(path)
	if err != nil {
		return Usage{}, err
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(probe, &fs); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", probe, err)
	}
	bsize := uint64(fs.Bsize)
	return Usage{
		Path:       probe,
		TotalBytes: fs.Blocks * bsize,
		FreeBytes:  fs.Bavail * bsize,
	}, nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for p := abs; ; {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %s", abs)
		}
		p = parent
	}
}

// ResolutionClass buckets a video by pixel area for per-frame estimates.
type ResolutionClass int

const (
	ResolutionSD ResolutionClass = iota
	ResolutionHD
	ResolutionFullHD
	Resolution4K
)

// ClassifyResolution maps frame dimensions onto an estimate bucket.
func ClassifyResolution(width, height int) ResolutionClass {
	area := width * height
	switch {
	case area > 1920*1080:
		return Resolution4K
	case area > 1280*720:
		return ResolutionFullHD
	case area > 720*576:
		return ResolutionHD
	default:
		return ResolutionSD
	}
}

// pngFrameBytes approximates one extracted PNG frame per resolution
// class. PNG lands around 40% of raw RGB for restoration-grade content.
func pngFrameBytes(class ResolutionClass) uint64 {
	switch class {
	case Resolution4K:
		return 10 * mib
	case ResolutionFullHD:
		return 2500 * kib
	case ResolutionHD:
		return 1100 * kib
	default:
		return 500 * kib
	}
}

// EstimateFaceEnhanceBytes sizes the face-enhancement scratch footprint:
// one extracted PNG set plus one enhanced PNG set, both live at once.
func EstimateFaceEnhanceBytes(width, height, totalFrames int) uint64 {
	perFrame := pngFrameBytes(ClassifyResolution(width, height))
	raw := perFrame * uint64(totalFrames) * 2
	return uint64(float64(raw) * safetyMultiplier)
}

// EstimateInpaintBytes sizes inpainting scratch relative to the input
// file; masks, flow fields, and the intermediate render together run
// about three times the source.
func EstimateInpaintBytes(inputSizeBytes uint64) uint64 {
	return uint64(float64(inputSizeBytes*3) * safetyMultiplier)
}

// EstimateEncodeBytes sizes the filtered encode output from the frame
// count and resolution class. Lossless intermediates dominate here.
func EstimateEncodeBytes(width, height, totalFrames int) uint64 {
	var perFrame uint64
	switch ClassifyResolution(width, height) {
	case Resolution4K:
		perFrame = 4 * mib
	case ResolutionFullHD:
		perFrame = 1 * mib
	case ResolutionHD:
		perFrame = 512 * kib
	default:
		perFrame = 256 * kib
	}
	return uint64(float64(perFrame*uint64(totalFrames)) * safetyMultiplier)
}

// CheckResult is the admission verdict for a stage.
type CheckResult struct {
	OK            bool
	LowSpace      bool
	RequiredBytes uint64
	FreeBytes     uint64
	Message       string
}

// Check decides whether dir has room for requiredBytes plus minFreeBuffer
// of headroom. Rejection happens before any external process is spawned.
// lowSpaceBytes sets the soft-warning threshold; zero falls back to
// DefaultLowSpaceBytes.
func Check(requiredBytes uint64, dir string, minFreeBuffer, lowSpaceBytes uint64) (CheckResult, error) {
	if lowSpaceBytes == 0 {
		lowSpaceBytes = DefaultLowSpaceBytes
	}
	usage, err := Stat(dir)
	if err != nil {
		return CheckResult{}, err
	}

	needed := requiredBytes + minFreeBuffer
	res := CheckResult{
		RequiredBytes: requiredBytes,
		FreeBytes:     usage.FreeBytes,
	}
	if usage.FreeBytes < needed {
		shortfall := needed - usage.FreeBytes
		res.Message = fmt.Sprintf(
			"insufficient space in %s: need %s (%s stage + %s buffer), have %s, short by %s",
			dir, FormatBytes(needed), FormatBytes(requiredBytes),
			FormatBytes(minFreeBuffer), FormatBytes(usage.FreeBytes), FormatBytes(shortfall),
		)
		return res, nil
	}

	res.OK = true
	if usage.FreeBytes-needed < lowSpaceBytes {
		res.LowSpace = true
		res.Message = fmt.Sprintf(
			"space is tight in %s: %s free after this stage, below the %s comfort margin",
			dir, FormatBytes(usage.FreeBytes-needed), FormatBytes(lowSpaceBytes),
		)
	}
	return res, nil
}

// FindAlternative probes candidate directories for one that can hold
// requiredBytes, in configured order, then the system temp directory,
// then mounted sibling drives, then the user home. Returns the first
// fit or an error naming every probed location.
func FindAlternative(requiredBytes uint64, configured []string, minFreeBuffer uint64) (string, error) {
	candidates := make([]string, 0, len(configured)+2)
	candidates = append(candidates, configured...)
	candidates = append(candidates, os.TempDir())
	candidates = append(candidates, mountedDrives()...)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}

	var probed []string
	for _, dir := range candidates {
		res, err := Check(requiredBytes, dir, minFreeBuffer, 0)
		if err != nil {
			probed = append(probed, fmt.Sprintf("%s (unreadable: %v)", dir, err))
			continue
		}
		if res.OK {
			return dir, nil
		}
		probed = append(probed, fmt.Sprintf("%s (%s free)", dir, FormatBytes(res.FreeBytes)))
	}
	return "", fmt.Errorf(
		"no directory can hold %s; probed: %v",
		FormatBytes(requiredBytes), probed,
	)
}

// mountedDrives lists the roots of drives mounted under the usual Linux
// removable/secondary mount points.
func mountedDrives() []string {
	var roots []string
	for _, base := range []string{"/mnt", "/media"} {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				roots = append(roots, filepath.Join(base, e.Name()))
			}
		}
	}
	return roots
}

// FormatBytes renders a byte count in IEC units.
func FormatBytes(n uint64) string {
	switch {
	case n >= gib:
		return fmt.Sprintf("%.1f GiB", float64(n)/float64(gib))
	case n >= mib:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(mib))
	case n >= kib:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(kib))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
