package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const jobLockOwnerFile = "owner.json"

// JobLock guards a job_id against two live processes mutating the same
// checkpoint. The lock is a directory created atomically next to the
// checkpoint file. A `running` checkpoint WITHOUT a live lock is crash
// evidence and stays eligible for resume.
type JobLock struct {
	lockDir string
}

type jobLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireJobLock(checkpointDir, jobID string) (JobLock, error) {
	dir := strings.TrimSpace(checkpointDir)
	if dir == "" {
		return JobLock{}, fmt.Errorf("checkpoint directory is required")
	}
	if strings.TrimSpace(jobID) == "" {
		return JobLock{}, fmt.Errorf("job id is required")
	}

	lockDir := filepath.Join(dir, "."+jobID+".lock")
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, jobLockOwnerFile)
			var owner jobLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return JobLock{}, fmt.Errorf(
					"job %s is locked by another process (pid=%d created_at=%s host=%s)",
					jobID, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return JobLock{}, fmt.Errorf("job %s is locked by another process", jobID)
		}
		return JobLock{}, fmt.Errorf("acquire job lock for %s: %w", jobID, err)
	}

	owner := jobLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, jobLockOwnerFile), owner); err != nil {
		_ = os.Remove(lockDir)
		return JobLock{}, fmt.Errorf("write job lock owner for %s: %w", jobID, err)
	}

	return JobLock{lockDir: lockDir}, nil
}

func (l JobLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, jobLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release job lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
