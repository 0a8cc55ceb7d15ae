package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Spec describes one external process invocation. Restoration stages
// wire their progress parsers into OnLine and pipe stage-to-stage data
// through Stdin/StdoutTo.
type Spec struct {
	Name string
	Args []string
	Dir  string

	// Stdin feeds the process when set. StdoutTo, when set, receives raw
	// stdout bytes instead of line scanning; used when stdout carries
	// video data rather than text.
	Stdin    io.Reader
	StdoutTo io.WriteCloser

	// OnLine receives every scanned output line. Lines are split on both
	// \n and \r: encoders rewrite progress lines in place with bare CRs.
	OnLine func(stream OutputStream, line string)

	// LogWriter mirrors all output lines into the job log.
	LogWriter io.Writer

	// StopGrace bounds how long Stop waits between the polite interrupt
	// and the kill. Zero means 5 seconds.
	StopGrace time.Duration
}

// Runner owns the lifecycle of one running process.
type Runner struct {
	spec Spec
	cmd  *exec.Cmd

	mu      sync.Mutex
	started bool
	done    bool
	stopped bool

	outBuf strings.Builder
	errBuf strings.Builder

	wg      sync.WaitGroup
	waitErr error
	waitCh  chan struct{}
}

func NewRunner(spec Spec) *Runner {
	return &Runner{spec: spec, waitCh: make(chan struct{})}
}

// Start launches the process. ctx cancellation kills it outright; use
// Stop for the graceful path.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner for %s already started", r.spec.Name)
	}
	if r.stopped {
		return fmt.Errorf("runner for %s stopped before start", r.spec.Name)
	}

	cmd := exec.CommandContext(ctx, r.spec.Name, r.spec.Args...)
	cmd.Dir = r.spec.Dir
	if r.spec.Stdin != nil {
		cmd.Stdin = r.spec.Stdin
	}

	var stdoutPipe io.ReadCloser
	if r.spec.StdoutTo != nil {
		cmd.Stdout = r.spec.StdoutTo
	} else {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("setup stdout pipe for %s: %w", r.spec.Name, err)
		}
		stdoutPipe = pipe
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe for %s: %w", r.spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.spec.Name, err)
	}
	r.cmd = cmd
	r.started = true

	if stdoutPipe != nil {
		r.wg.Add(1)
		go r.scan(StreamStdout, stdoutPipe)
	}
	r.wg.Add(1)
	go r.scan(StreamStderr, stderrPipe)

	go func() {
		r.wg.Wait()
		err := cmd.Wait()
		if r.spec.StdoutTo != nil {
			_ = r.spec.StdoutTo.Close()
		}
		r.mu.Lock()
		r.done = true
		r.waitErr = err
		r.mu.Unlock()
		close(r.waitCh)
	}()
	return nil
}

func (r *Runner) scan(stream OutputStream, pipe io.Reader) {
	defer r.wg.Done()
	scanner := bufio.NewScanner(pipe)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	scanner.Split(splitByNewlineOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		r.mu.Lock()
		appendLimited(&r.outBuf, &r.errBuf, stream, line)
		if r.spec.LogWriter != nil {
			_, _ = io.WriteString(r.spec.LogWriter, line+"\n")
		}
		r.mu.Unlock()
		if r.spec.OnLine != nil {
			r.spec.OnLine(stream, line)
		}
	}
}

// Wait blocks until the process exits and wraps failures with the
// captured output tail.
func (r *Runner) Wait() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner for %s not started", r.spec.Name)
	}
	r.mu.Unlock()

	<-r.waitCh

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitErr == nil {
		return nil
	}
	if r.stopped {
		return fmt.Errorf("%s stopped: %w", r.spec.Name, r.waitErr)
	}
	tail := strings.TrimSpace(r.errBuf.String())
	if tail == "" {
		tail = strings.TrimSpace(r.outBuf.String())
	}
	if tail != "" {
		return fmt.Errorf("%s failed: %w\n%s", r.spec.Name, r.waitErr, tail)
	}
	return fmt.Errorf("%s failed: %w", r.spec.Name, r.waitErr)
}

// Stop interrupts the process, waits out the grace period, then kills.
// Called before Start it records the intent and Start refuses to launch.
// Safe to call after exit and more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.done || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	if !r.started {
		r.mu.Unlock()
		return
	}
	proc := r.cmd.Process
	grace := r.spec.StopGrace
	r.mu.Unlock()

	if grace <= 0 {
		grace = 5 * time.Second
	}
	if proc == nil {
		return
	}
	_ = interrupt(proc)

	select {
	case <-r.waitCh:
	case <-time.After(grace):
		_ = proc.Kill()
		<-r.waitCh
	}
}

// Stopped reports whether Stop initiated the shutdown, so callers can
// tell a pause from a failure.
func (r *Runner) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// OutputTail returns the capped captured output for diagnostics.
func (r *Runner) OutputTail() (stdout, stderr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outBuf.String(), r.errBuf.String()
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
