package migrate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tape-restorer/internal/model"
)

// workDirName matches the per-job scratch directory kept next to the
// output file.
const workDirName = ".tape-restorer-work"

// Result summarizes what a migration moved.
type Result struct {
	Migrated   bool
	FromDir    string
	ToDir      string
	FilesMoved int
	BytesMoved int64
}

// DetectAndMigrate notices when a checkpoint's recorded output location
// no longer matches the requested one and carries the work directory
// over. Files are copied, never moved, and the old location is left
// untouched: if anything fails midway it still holds a complete set,
// and reclaiming it stays the user's call. Migration failures are
// reported but are not fatal; the caller falls back to recomputing.
func DetectAndMigrate(cp *model.ProcessingCheckpoint, newOutputFile string) (Result, error) {
	oldDir := cp.OutputRoot()
	newDir := filepath.Dir(newOutputFile)
	if sameDir(oldDir, newDir) {
		cp.OutputFile = newOutputFile
		return Result{}, nil
	}

	oldWork := filepath.Join(oldDir, workDirName)
	newWork := filepath.Join(newDir, workDirName)
	res := Result{FromDir: oldWork, ToDir: newWork}

	if _, err := os.Stat(oldWork); err != nil {
		// Nothing to carry over; just repoint the checkpoint.
		cp.OutputFile = newOutputFile
		return res, nil
	}

	files, bytes, err := copyTree(oldWork, newWork)
	res.FilesMoved = files
	res.BytesMoved = bytes
	if err != nil {
		return res, fmt.Errorf("migrate work dir %s -> %s: %w", oldWork, newWork, err)
	}
	res.Migrated = true

	cp.OutputFile = newOutputFile
	return res, nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

func copyTree(src, dst string) (int, int64, error) {
	files := 0
	var bytes int64
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		n, err := copyFile(path, target)
		if err != nil {
			return err
		}
		files++
		bytes += n
		return nil
	})
	return files, bytes, err
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return n, err
	}
	return n, nil
}
