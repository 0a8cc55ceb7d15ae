package pipeline

import (
	"time"

	"tape-restorer/internal/stage"
)

// EventKind distinguishes progress ticks from lifecycle notices.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventStage    EventKind = "stage"
	EventWarning  EventKind = "warning"
)

// Event is what the pipeline publishes to its observer. OverallFraction
// is the whole-job fraction after stage weights are applied.
type Event struct {
	Kind            EventKind
	Stage           string
	OverallFraction float64
	StageFraction   float64
	Frame           int
	FPS             float64
	ETA             time.Duration
	Message         string
}

const eventBuffer = 64

// eventSink fans stage progress into a bounded channel. A slow or absent
// consumer never stalls the pipeline: when the buffer is full the event
// is dropped.
type eventSink struct {
	ch chan Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, eventBuffer)}
}

func (s *eventSink) publish(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *eventSink) close() {
	close(s.ch)
}

// remap converts a stage-local progress event into a whole-job one.
func remap(ev stage.ProgressEvent, offset, weight float64) Event {
	return Event{
		Kind:            EventProgress,
		Stage:           ev.Stage,
		OverallFraction: offset + ev.Fraction*weight,
		StageFraction:   ev.Fraction,
		Frame:           ev.Frame,
		FPS:             ev.FPS,
		ETA:             ev.ETA,
		Message:         ev.Message,
	}
}
