package model

import "fmt"

const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusRunning:   true,
		StatusPaused:    true,
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusPaused: {
		StatusPaused:  true,
		StatusRunning: true,
		StatusFailed:  true,
	},
	// Terminal states only self-transition; the store hands out a fresh
	// checkpoint instead of resuming these.
	StatusCompleted: {
		StatusCompleted: true,
	},
	StatusFailed: {
		StatusFailed: true,
	},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition moves the checkpoint to toStatus, rejecting anything outside
// the allowed table. errMessage is recorded only on a failed transition.
func Transition(cp *ProcessingCheckpoint, toStatus, errMessage string) error {
	if !CanTransition(cp.Status, toStatus) {
		return fmt.Errorf("invalid checkpoint status transition: %q -> %q (job_id=%s)", cp.Status, toStatus, cp.JobID)
	}
	cp.Status = toStatus
	if toStatus == StatusFailed {
		cp.ErrorMessage = errMessage
	} else {
		cp.ErrorMessage = ""
	}
	return nil
}
