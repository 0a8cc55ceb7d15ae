package model

import (
	"testing"
	"time"
)

func TestTransitionRejectsResumeOfTerminalStates(t *testing.T) {
	for _, from := range []string{StatusCompleted, StatusFailed} {
		cp := &ProcessingCheckpoint{JobID: "j1", Status: from}
		if err := Transition(cp, StatusRunning, ""); err == nil {
			t.Fatalf("expected %s -> running to be rejected", from)
		}
	}
}

func TestTransitionPausedRoundTrip(t *testing.T) {
	cp := &ProcessingCheckpoint{JobID: "j1"}
	if err := Transition(cp, StatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := Transition(cp, StatusPaused, ""); err != nil {
		t.Fatal(err)
	}
	if err := Transition(cp, StatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := Transition(cp, StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionRecordsErrorOnlyWhenFailed(t *testing.T) {
	cp := &ProcessingCheckpoint{JobID: "j1", Status: StatusRunning}
	if err := Transition(cp, StatusFailed, "disk full"); err != nil {
		t.Fatal(err)
	}
	if cp.ErrorMessage != "disk full" {
		t.Fatalf("error message not recorded: %q", cp.ErrorMessage)
	}

	cp2 := &ProcessingCheckpoint{JobID: "j2", Status: StatusRunning}
	if err := Transition(cp2, StatusPaused, "ignored"); err != nil {
		t.Fatal(err)
	}
	if cp2.ErrorMessage != "" {
		t.Fatalf("non-failed transition must not set error message, got %q", cp2.ErrorMessage)
	}
}

func TestEstimatedRemainingUsesObservedRate(t *testing.T) {
	start := time.Now().Add(-100 * time.Second)
	cp := &ProcessingCheckpoint{
		TotalFrames:     1000,
		ProcessedFrames: 200,
		StartTime:       start,
		LastUpdate:      start.Add(100 * time.Second),
	}
	// 2 fps observed, 800 frames remaining => 400s.
	got := cp.EstimatedRemaining()
	if got < 399*time.Second || got > 401*time.Second {
		t.Fatalf("unexpected ETA %v", got)
	}
}

func TestProgressPercentZeroTotal(t *testing.T) {
	cp := &ProcessingCheckpoint{ProcessedFrames: 10}
	if cp.ProgressPercent() != 0 {
		t.Fatal("zero total frames must report zero percent")
	}
}
