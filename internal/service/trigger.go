package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
)

// BulkStarter is the part of Orchestrator the Trigger drives.
type BulkStarter interface {
	StartAll(ctx context.Context) (int, error)
	AnyActive() bool
}

// Trigger starts every enabled source periodically, as configured by the
// auto sync settings.
type Trigger struct {
	orch      BulkStarter
	settings  SettingsStore
	scheduler gocron.Scheduler
	unit      time.Duration
	wg        sync.WaitGroup

	mx       sync.Mutex
	ctx      context.Context
	job      gocron.Job
	interval int
}

func NewTrigger(orch BulkStarter, settings SettingsStore) (*Trigger, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	return &Trigger{
		orch:      orch,
		settings:  settings,
		scheduler: s,
		unit:      time.Minute,
		ctx:       context.Background(),
	}, nil
}

// WithUnit changes the length of a configured interval minute.
// This method exists for a unit testing only.
func (t *Trigger) WithUnit(unit time.Duration) *Trigger {
	t.unit = unit
	return t
}

// Start loads the settings and schedules the periodic run when enabled.
// Bulk starts run under ctx.
func (t *Trigger) Start(ctx context.Context) error {
	settings, err := t.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	t.mx.Lock()
	t.ctx = ctx
	t.mx.Unlock()
	t.scheduler.Start()
	return t.Update(settings.AutoSyncEnabled, settings.AutoSyncIntervalMinutes)
}

// Update replaces the pending run by one interval minutes from now, or just
// removes it when disabled.
func (t *Trigger) Update(enabled bool, minutes int) error {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.removeJob()
	if !enabled {
		slog.DebugContext(t.ctx, "auto sync disabled")
		return nil
	}
	if minutes < 1 {
		return fmt.Errorf("auto sync interval must be at least 1 minute, got %d", minutes)
	}

	job, err := t.scheduler.NewJob(
		gocron.DurationJob(time.Duration(minutes)*t.unit),
		gocron.NewTask(t.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("auto-sync"),
	)
	if err != nil {
		return fmt.Errorf("initializing gocron job: %w", err)
	}
	t.job = job
	t.interval = minutes
	slog.InfoContext(t.ctx, "auto sync scheduled", "interval_minutes", minutes)
	return nil
}

// Stop removes the pending run.
func (t *Trigger) Stop() {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.removeJob()
}

func (t *Trigger) removeJob() {
	if t.job == nil {
		return
	}
	if err := t.scheduler.RemoveJob(t.job.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		slog.DebugContext(t.ctx, "removing auto sync job", "error", err)
	}
	t.job = nil
}

// NextRun returns when the next periodic run happens, ok is false if none
// is scheduled.
func (t *Trigger) NextRun() (next time.Time, ok bool) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.job == nil {
		return time.Time{}, false
	}
	next, err := t.job.NextRun()
	if err != nil || next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Close stops the scheduler and waits for a bulk start it launched.
func (t *Trigger) Close() error {
	err := t.scheduler.Shutdown()
	t.wg.Wait()
	return err
}

func (t *Trigger) tick() {
	t.mx.Lock()
	ctx := t.ctx
	interval := t.interval
	t.mx.Unlock()

	settings, err := t.settings.Settings(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "auto sync: loading settings", "error", err)
		return
	}
	switch {
	case !settings.AutoSyncEnabled:
		// the job can't remove itself from within its own run
		t.wg.Go(t.Stop)
		return
	case settings.AutoSyncIntervalMinutes != interval:
		t.wg.Go(func() {
			if err := t.Update(true, settings.AutoSyncIntervalMinutes); err != nil {
				slog.ErrorContext(ctx, "auto sync: rescheduling", "error", err)
			}
		})
	}

	if t.orch.AnyActive() {
		slog.InfoContext(ctx, "auto sync skipped, a job is running")
		return
	}
	t.wg.Go(func() {
		n, err := t.orch.StartAll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "auto sync failed", "error", err, "started", n)
			return
		}
		slog.InfoContext(ctx, "auto sync done", "started", n)
	})
}
