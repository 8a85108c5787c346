package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/log"
	"github.com/tracksync/tracksync/internal/model"
)

// SourceProvider looks up source definitions.
type SourceProvider interface {
	Source(ctx context.Context, id int64) (model.Source, error)
	// EnabledSources returns the sources with sync enabled ordered by name.
	EnabledSources(ctx context.Context) ([]model.Source, error)
}

type SettingsStore interface {
	Settings(ctx context.Context) (model.Settings, error)
}

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, sourceID int64, startedAt time.Time) (model.JobRecord, error)
	FinishJob(ctx context.Context, id int64, out model.JobOutcome) error
	SweepRunning(ctx context.Context, message string, now time.Time) (int, error)
}

// Observer is notified about job lifecycle, see metrics.Collector.
type Observer interface {
	JobStarted(sourceID int64)
	JobFinished(sourceID int64, status model.JobStatus, elapsed time.Duration, counts model.Counts)
}

type nopObserver struct{}

func (nopObserver) JobStarted(int64)                                              {}
func (nopObserver) JobFinished(int64, model.JobStatus, time.Duration, model.Counts) {}

type StartStatus string

const (
	Started             StartStatus = "started"
	AlreadyRunning      StartStatus = "already_running"
	BlockedByRelocation StartStatus = "blocked_by_relocation"
)

type activeJob struct {
	record model.JobRecord
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the job lifecycle: at most one job per source, no job
// while the library is being relocated.
type Orchestrator struct {
	sup      *Supervisor
	sources  SourceProvider
	settings SettingsStore
	jobs     JobStore
	hub      *live.Hub
	observer Observer
	gate     *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mx         sync.Mutex
	active     map[int64]*activeJob
	relocating bool
}

type Option func(*Orchestrator)

func WithObserver(o Observer) Option {
	return func(orch *Orchestrator) {
		orch.observer = o
	}
}

// NewOrchestrator marks every job left running by a previous process as
// interrupted before it accepts any work. Jobs run under ctx, cancelling it
// cancels them all.
func NewOrchestrator(ctx context.Context, sup *Supervisor, sources SourceProvider, settings SettingsStore, jobs JobStore, hub *live.Hub, opts ...Option) (*Orchestrator, error) {
	n, err := jobs.SweepRunning(ctx, model.InterruptedMessage, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("sweeping running jobs: %w", err)
	}
	if n > 0 {
		slog.WarnContext(ctx, "jobs interrupted by a previous shutdown", "count", n)
	}

	limit := model.DefaultMaxConcurrentJobs
	if s, err := settings.Settings(ctx); err != nil {
		slog.WarnContext(ctx, "can't read settings, using default job limit", "error", err, "limit", limit)
	} else {
		limit = s.MaxConcurrentJobs
	}

	baseCtx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		sup:      sup,
		sources:  sources,
		settings: settings,
		jobs:     jobs,
		hub:      hub,
		observer: nopObserver{},
		gate:     semaphore.NewWeighted(int64(limit)),
		baseCtx:  baseCtx,
		cancel:   cancel,
		active:   make(map[int64]*activeJob),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start launches a job for sourceID and returns without waiting for it.
// A missing download tool is reported as model.ErrToolNotFound and no job
// record is created.
func (o *Orchestrator) Start(ctx context.Context, sourceID int64) (StartStatus, error) {
	src, err := o.sources.Source(ctx, sourceID)
	if err != nil {
		return "", err
	}
	settings, err := o.settings.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}

	o.mx.Lock()
	defer o.mx.Unlock()
	switch {
	case o.relocating:
		return BlockedByRelocation, nil
	case o.active[sourceID] != nil:
		return AlreadyRunning, nil
	}
	if o.baseCtx.Err() != nil {
		return "", o.baseCtx.Err()
	}
	if _, err := o.sup.ResolveTool(); err != nil {
		return "", err
	}

	rec, err := o.jobs.CreateJob(ctx, sourceID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("creating job record: %w", err)
	}

	jobCtx := log.ContextAttrs(o.baseCtx,
		slog.Int64("source_id", sourceID),
		slog.String("job_uuid", rec.UUID),
	)
	jobCtx, cancel := context.WithCancel(jobCtx)
	aj := &activeJob{record: rec, cancel: cancel, done: make(chan struct{})}
	o.active[sourceID] = aj
	o.hub.Begin(sourceID, string(model.JobRunning))
	o.observer.JobStarted(sourceID)

	req := JobRequest{
		Source:    src,
		MusicRoot: settings.MusicRoot,
		AuthToken: settings.AuthToken,
	}
	o.wg.Go(func() {
		o.run(jobCtx, aj, req)
	})
	return Started, nil
}

func (o *Orchestrator) run(ctx context.Context, aj *activeJob, req JobRequest) {
	id := req.Source.ID
	defer func() {
		aj.cancel()
		o.mx.Lock()
		delete(o.active, id)
		o.mx.Unlock()
		close(aj.done)
	}()

	slog.InfoContext(ctx, "job started", "source", req.Source.Name)
	out := o.execute(ctx, req)
	out.FinishedAt = time.Now().UTC()

	// the record must be written even when the job was cancelled
	if err := o.jobs.FinishJob(context.WithoutCancel(ctx), aj.record.ID, out); err != nil {
		slog.ErrorContext(ctx, "storing job outcome", "error", err)
	}
	o.hub.SetStats(id, out.Counts)
	o.hub.Finish(id, string(out.Status), out.Error)
	o.observer.JobFinished(id, out.Status, out.FinishedAt.Sub(aj.record.StartedAt), out.Counts)
	slog.InfoContext(ctx, "job finished",
		"status", out.Status,
		"added", out.Counts.Added,
		"removed", out.Counts.Removed,
		"skipped", out.Counts.Skipped,
		"error", out.Error,
	)
}

func (o *Orchestrator) execute(ctx context.Context, req JobRequest) model.JobOutcome {
	id := req.Source.ID
	if err := o.gate.Acquire(ctx, 1); err != nil {
		return model.JobOutcome{Status: model.JobCancelled}
	}
	defer o.gate.Release(1)

	pruned, err := o.sup.PrepareFiles(ctx, id)
	if err != nil {
		return model.JobOutcome{
			Status: model.JobFailed,
			Error:  fmt.Sprintf("preparing archive files: %s", err),
		}
	}
	if pruned > 0 {
		o.hub.Log(id, fmt.Sprintf("[pre-sync] %d missing files will be re-downloaded", pruned))
	}

	var prog progress
	res, err := o.sup.RunJob(ctx, req, func(line string) {
		o.hub.Log(id, line)
		if prog.line(line) {
			o.hub.SetProgress(id, live.Progress{Current: prog.current(), Total: prog.total})
		}
	})

	out := model.JobOutcome{
		Counts: res.Counts,
		Output: res.Output,
	}
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		out.Status = model.JobCancelled
	case err != nil:
		out.Status = model.JobFailed
		out.Error = err.Error()
	case res.TimedOut:
		out.Status = model.JobFailed
		out.Error = "Process timed out"
	case !res.Success:
		out.Status = model.JobFailed
		out.Error = fmt.Sprintf("Process exited with code %d", res.ExitCode)
	default:
		out.Status = model.JobCompleted
	}
	return out
}

// StartAll runs every enabled source one after the other, in name order,
// each awaited before the next one is started. It stops when a relocation
// begins or ctx is cancelled and returns the number of started jobs.
func (o *Orchestrator) StartAll(ctx context.Context) (int, error) {
	sources, err := o.sources.EnabledSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sources: %w", err)
	}

	started := 0
	for _, src := range sources {
		if ctx.Err() != nil {
			return started, ctx.Err()
		}
		status, err := o.Start(ctx, src.ID)
		switch {
		case errors.Is(err, model.ErrToolNotFound), errors.Is(err, context.Canceled):
			return started, err
		case err != nil:
			slog.ErrorContext(ctx, "can't start job", "source_id", src.ID, "error", err)
			continue
		case status == BlockedByRelocation:
			slog.InfoContext(ctx, "bulk start stopped by library relocation", "started", started)
			return started, nil
		case status == AlreadyRunning:
			slog.DebugContext(ctx, "job already running: skipping", "source_id", src.ID)
			continue
		}
		started++
		if err := o.Wait(ctx, src.ID); err != nil {
			return started, err
		}
	}
	return started, nil
}

// Wait blocks until the job of sourceID, if any, has finished.
func (o *Orchestrator) Wait(ctx context.Context, sourceID int64) error {
	o.mx.Lock()
	aj := o.active[sourceID]
	o.mx.Unlock()
	if aj == nil {
		return nil
	}
	select {
	case <-aj.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the job of sourceID to stop. It reports whether there was
// one.
func (o *Orchestrator) Cancel(sourceID int64) bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	aj, ok := o.active[sourceID]
	if ok {
		aj.cancel()
	}
	return ok
}

func (o *Orchestrator) LiveState(sourceID int64) live.State {
	return o.hub.Snapshot(sourceID)
}

func (o *Orchestrator) ReadSince(sourceID int64, cursor int) live.Poll {
	return o.hub.ReadSince(sourceID, cursor)
}

func (o *Orchestrator) AnyActive() bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	return len(o.active) > 0
}

func (o *Orchestrator) IsActive(sourceID int64) bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.active[sourceID] != nil
}

// Active returns the ids of sources with a running job, ascending.
func (o *Orchestrator) Active() []int64 {
	o.mx.Lock()
	defer o.mx.Unlock()
	ids := make([]int64, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ResetArchive forgets what was downloaded for sourceID.
func (o *Orchestrator) ResetArchive(sourceID int64) error {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.active[sourceID] != nil {
		return model.ErrJobActive
	}
	return o.sup.ResetArchive(sourceID)
}

// BeginRelocation blocks new jobs until EndRelocation. It fails with
// model.ErrJobActive while any job runs.
func (o *Orchestrator) BeginRelocation() error {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.relocating {
		return model.ErrRelocationActive
	}
	if len(o.active) > 0 {
		return model.ErrJobActive
	}
	o.relocating = true
	return nil
}

func (o *Orchestrator) EndRelocation() {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.relocating = false
}

// Close cancels every running job and waits until all of them stored
// their outcome.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}
