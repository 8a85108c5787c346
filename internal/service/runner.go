package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrNotStarted    = errors.New("run not started")
	ErrRunInProgress = errors.New("run in progress")
)

// LineFunc receives every output line of a running command, in order.
type LineFunc func(ctx context.Context, line string)

// Runner runs one command at a time.
type Runner struct {
	mx     sync.Mutex
	cmd    *exec.Cmd
	result Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
	}
}

type Command struct {
	Path string
	Args []string
	Env  []string // nil inherits the environment
	// Timeout bounds the whole run, zero means no limit.
	Timeout time.Duration
	// KillGrace is how long an interrupted process may take to exit before
	// it gets killed.
	KillGrace time.Duration
}

type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	TimedOut bool
	Err      error
}

// Start runs the command with stderr merged into stdout. lineFunc is called
// for each line from a single goroutine; \r separated progress updates count
// as lines. The returned channel gets the Result once the process exited
// and every line was delivered.
//
// Cancelling ctx interrupts the process group and kills it after KillGrace,
// children holding the output open included.
func (r *Runner) Start(ctx context.Context, proto Command, lineFunc LineFunc) (<-chan Result, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return nil, ErrRunInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	cancel := context.CancelFunc(func() {})
	if proto.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
	}

	grace := proto.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		err := interruptGroup(cmd.Process)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			return killGroup(cmd.Process)
		}
		return err
	}
	cmd.WaitDelay = grace

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		cancel()
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		return nil, err
	}
	r.cmd = cmd

	exited := make(chan struct{})
	go escalate(ctx, cmd.Process, grace, exited)

	done := make(chan Result, 1)
	go func() {
		defer close(exited)
		r.wait(ctx, cancel, cmd, out, lineFunc, done)
	}()
	return done, nil
}

// escalate kills the process group when it is still around KillGrace after
// ctx was cancelled. WaitDelay only covers the direct child, a grandchild
// keeps the output pipe open and the reader blocked.
func escalate(ctx context.Context, p *os.Process, grace time.Duration, exited <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-exited:
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-timer.C:
		if err := killGroup(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.WarnContext(ctx, "killing process group", "pid", p.Pid, "error", err)
		}
	case <-exited:
	}
}

func (r *Runner) wait(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, out io.Reader, lineFunc LineFunc, done chan<- Result) {
	defer cancel()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		if lineFunc != nil {
			lineFunc(ctx, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		slog.ErrorContext(ctx, "reading command output", "path", cmd.Path, "error", err)
		// drain, the process must not block on a full pipe
		_, _ = io.Copy(io.Discard, out)
	}

	err := cmd.Wait()
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	r.result.Stopped = stopped
	r.result.Err = err
	r.result.ExitCode = -1
	if cmd.ProcessState != nil {
		r.result.ExitCode = cmd.ProcessState.ExitCode()
	}
	r.result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	r.cmd = nil
	done <- r.result
	close(done)
}

// LastResult returns the result of the last finished command, or one with
// ErrNotStarted/ErrRunInProgress.
func (r *Runner) LastResult() Result {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return Result{Path: r.result.Path, Args: r.result.Args, Started: r.result.Started, Err: ErrRunInProgress}
	}
	return r.result
}

// scanLines is bufio.ScanLines treating a lone \r as a line end too. Empty
// lines are skipped.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	if atEOF && start == len(data) {
		return len(data), nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	// request more data
	return start, nil, nil
}
