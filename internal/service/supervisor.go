package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tracksync/tracksync/internal/filemap"
	"github.com/tracksync/tracksync/internal/model"
)

// Supervisor runs the download tool for one source at a time and keeps the
// filemap of that source in line with what the tool reported.
type Supervisor struct {
	tool     ToolConfig
	paths    filemap.Paths
	lookPath func(string) (string, error)
}

func NewSupervisor(tool ToolConfig, paths filemap.Paths) *Supervisor {
	return &Supervisor{
		tool:     tool.withDefaults(),
		paths:    paths,
		lookPath: exec.LookPath,
	}
}

// Paths returns where the bookkeeping files are kept.
func (s *Supervisor) Paths() filemap.Paths {
	return s.paths
}

// ResolveTool locates the download tool executable. The error wraps
// model.ErrToolNotFound when it can't be found.
func (s *Supervisor) ResolveTool() (string, error) {
	path, err := s.lookPath(s.tool.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", model.ErrToolNotFound, s.tool.Path, err)
	}
	return path, nil
}

// PrepareFiles drops filemap entries whose file disappeared and regenerates
// the archive files the tool reads. It returns the number of dropped entries.
func (s *Supervisor) PrepareFiles(ctx context.Context, sourceID int64) (int, error) {
	return filemap.Prepare(ctx, s.paths, sourceID)
}

// ResetArchive deletes the bookkeeping files of a source, so its next job
// downloads everything again.
func (s *Supervisor) ResetArchive(sourceID int64) error {
	var errs []error
	for _, path := range s.paths.All(sourceID) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type JobRequest struct {
	Source    model.Source
	MusicRoot string
	AuthToken string
}

type JobResult struct {
	Success  bool
	Output   string
	ExitCode int
	TimedOut bool
	model.Counts
}

// RunJob runs the download tool for req.Source and delivers each output
// line to onOutput, synchronously and in order. The filemap is saved once
// the tool exited, whatever the outcome.
//
// A nonzero exit is not an error: it's reported by JobResult. When ctx is
// cancelled, RunJob waits for the tool to exit and returns ctx.Err().
func (s *Supervisor) RunJob(ctx context.Context, req JobRequest, onOutput func(line string)) (JobResult, error) {
	path, err := s.ResolveTool()
	if err != nil {
		return JobResult{}, err
	}

	fmPath := s.paths.FileMap(req.Source.ID)
	files, err := filemap.Load(ctx, fmPath)
	if err != nil {
		return JobResult{}, err
	}
	t := newTracker(files)

	// the tool refuses a --path that does not exist
	for _, dir := range []string{filepath.Join(req.MusicRoot, req.Source.LocalFolder), s.paths.Root} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return JobResult{}, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	cmd := Command{
		Path:      path,
		Args:      BuildArgs(req.Source, req.MusicRoot, req.AuthToken, s.paths),
		Env:       s.tool.Environ(),
		Timeout:   s.tool.Timeout,
		KillGrace: s.tool.KillGrace,
	}
	slog.DebugContext(ctx, "starting download tool", "path", cmd.Path, "args", redact(cmd.Args))

	var out strings.Builder
	runner := NewRunner()
	done, err := runner.Start(ctx, cmd, func(_ context.Context, line string) {
		t.line(line)
		out.WriteString(line)
		out.WriteByte('\n')
		if onOutput != nil {
			onOutput(line)
		}
	})
	if err != nil {
		return JobResult{}, fmt.Errorf("starting %s: %w", path, err)
	}
	res := <-done

	if err := filemap.Save(fmPath, t.files); err != nil {
		slog.ErrorContext(ctx, "saving filemap", "path", fmPath, "error", err)
	}

	ret := JobResult{
		Success:  res.Err == nil && res.ExitCode == 0,
		Output:   out.String(),
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Counts:   t.counts,
	}
	if ctx.Err() != nil {
		return ret, ctx.Err()
	}
	if res.TimedOut {
		ret.Success = false
		return ret, nil
	}
	var exitErr *exec.ExitError
	if res.Err != nil && !errors.As(res.Err, &exitErr) {
		return ret, fmt.Errorf("waiting for %s: %w", path, res.Err)
	}
	return ret, nil
}

// redact hides the auth token from logs.
func redact(args []string) []string {
	ret := append([]string(nil), args...)
	for i := range ret {
		if ret[i] == "--auth-token" && i+1 < len(ret) {
			ret[i+1] = "***"
		}
	}
	return ret
}
