// Package relocate moves the whole library to a new root directory.
//
// A relocation runs in phases: scanning, moving, rewriting filemaps, cleanup
// and commit of the new root. It never overlaps with a download job. A
// failed relocation is not rolled back; files already moved stay where they
// are and the stored root is left unchanged.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tracksync/tracksync/internal/filemap"
	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/model"
	"github.com/tracksync/tracksync/internal/parallel"
	"github.com/tracksync/tracksync/internal/walk"
)

var (
	ErrMoveInProgress = errors.New("a library move is already in progress")
	ErrSameLocation   = errors.New("new library root is the current one")
)

const (
	StatusIdle      = "idle"
	StatusScanning  = "scanning"
	StatusMoving    = "moving"
	StatusRewriting = "rewriting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// progressEvery is how many copied files are between two progress events.
const progressEvery = 10

// Guard excludes relocations and jobs, see service.Orchestrator.
type Guard interface {
	BeginRelocation() error
	EndRelocation()
}

type SourceLister interface {
	Sources(ctx context.Context) ([]model.Source, error)
}

// RootSetter persists the new library root.
type RootSetter interface {
	SetMusicRoot(ctx context.Context, root string) error
}

type Observer interface {
	RelocationFinished(status string, moved int, elapsed time.Duration)
}

type PreCheckResult struct {
	SourceCount int   `json:"source_count"`
	TotalFiles  int   `json:"total_files"`
	TotalSize   int64 `json:"total_size"`
	NeedsMove   bool  `json:"needs_move"`
}

type State struct {
	Status      string `json:"status"`
	TotalFiles  int    `json:"total_files"`
	MovedFiles  int    `json:"moved_files"`
	CurrentFile string `json:"current_file"`
	Error       string `json:"error,omitempty"`
}

type Relocator struct {
	guard    Guard
	sources  SourceLister
	roots    RootSetter
	hub      *live.Hub
	observer Observer
	copyFile func(src, dst string) error
	limit    int

	mx      sync.Mutex
	state   State
	running bool
	done    chan struct{}
}

type Option func(*Relocator)

func WithObserver(o Observer) Option {
	return func(r *Relocator) {
		r.observer = o
	}
}

// WithCopyFunc replaces the function copying a single file.
// This option exists for a unit testing only.
func WithCopyFunc(fn func(src, dst string) error) Option {
	return func(r *Relocator) {
		r.copyFile = fn
	}
}

func New(guard Guard, sources SourceLister, roots RootSetter, hub *live.Hub, opts ...Option) *Relocator {
	r := &Relocator{
		guard:    guard,
		sources:  sources,
		roots:    roots,
		hub:      hub,
		copyFile: copyFile,
		limit:    4,
		state:    State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PreCheck reports what a relocation from oldRoot to newRoot would move.
func (r *Relocator) PreCheck(ctx context.Context, oldRoot, newRoot string) (PreCheckResult, error) {
	oldRoot, newRoot, err := absRoots(oldRoot, newRoot)
	if err != nil {
		return PreCheckResult{}, err
	}
	plans, err := r.scan(ctx, oldRoot, newRoot)
	if err != nil {
		return PreCheckResult{}, err
	}

	var ret PreCheckResult
	for _, p := range plans {
		ret.SourceCount++
		ret.TotalFiles += len(p.files)
		ret.TotalSize += p.size
	}
	ret.NeedsMove = ret.TotalFiles > 0 && !sameLocation(oldRoot, newRoot)
	return ret, nil
}

// Start begins moving the library from oldRoot to newRoot in the
// background; ctx bounds the whole relocation. It fails with
// ErrMoveInProgress, ErrSameLocation or the error of the Guard, usually
// model.ErrJobActive.
func (r *Relocator) Start(ctx context.Context, oldRoot, newRoot, archiveRoot string) error {
	oldRoot, newRoot, err := absRoots(oldRoot, newRoot)
	if err != nil {
		return err
	}
	if sameLocation(oldRoot, newRoot) {
		return ErrSameLocation
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.running {
		return ErrMoveInProgress
	}
	if err := r.guard.BeginRelocation(); err != nil {
		if errors.Is(err, model.ErrRelocationActive) {
			return ErrMoveInProgress
		}
		return err
	}
	r.running = true
	r.state = State{Status: StatusScanning}
	r.done = make(chan struct{})
	r.hub.Begin(live.RelocationChannel, StatusScanning)

	done := r.done
	go func() {
		defer close(done)
		r.run(ctx, oldRoot, newRoot, filemap.Paths{Root: archiveRoot})
	}()
	return nil
}

// Status returns the state of the current or the last relocation.
func (r *Relocator) Status() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

// Wait blocks until the running relocation, if any, has finished.
func (r *Relocator) Wait(ctx context.Context) error {
	r.mx.Lock()
	done := r.done
	r.mx.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relocator) update(fn func(s *State)) {
	r.mx.Lock()
	defer r.mx.Unlock()
	fn(&r.state)
}

func (r *Relocator) log(ctx context.Context, line string) {
	slog.InfoContext(ctx, line)
	r.hub.Log(live.RelocationChannel, line)
}

func (r *Relocator) run(ctx context.Context, oldRoot, newRoot string, paths filemap.Paths) {
	start := time.Now()
	err := r.move(ctx, oldRoot, newRoot, paths)

	st := r.Status()
	status := StatusCompleted
	var errMsg string
	if err != nil {
		status = StatusFailed
		errMsg = err.Error()
		slog.ErrorContext(ctx, "library move failed", "error", err)
		r.hub.Log(live.RelocationChannel, "ERROR: "+errMsg)
	}

	r.guard.EndRelocation()
	r.mx.Lock()
	r.state.Status = status
	r.state.Error = errMsg
	r.running = false
	r.mx.Unlock()

	r.hub.Finish(live.RelocationChannel, status, errMsg)
	if r.observer != nil {
		r.observer.RelocationFinished(status, st.MovedFiles, time.Since(start))
	}
}

func (r *Relocator) setStatus(status string) {
	r.update(func(s *State) { s.Status = status })
	r.hub.SetStatus(live.RelocationChannel, status)
}

func (r *Relocator) progress() {
	st := r.Status()
	r.hub.SetProgress(live.RelocationChannel, live.Progress{
		Current: st.MovedFiles,
		Total:   st.TotalFiles,
		File:    st.CurrentFile,
	})
}

func (r *Relocator) move(ctx context.Context, oldRoot, newRoot string, paths filemap.Paths) error {
	// scanning
	r.log(ctx, fmt.Sprintf("Scanning files in %s...", oldRoot))
	plans, err := r.scan(ctx, oldRoot, newRoot)
	if err != nil {
		return err
	}
	total := 0
	for _, p := range plans {
		total += len(p.files)
	}
	r.update(func(s *State) { s.TotalFiles = total })
	r.log(ctx, fmt.Sprintf("Found %d files across %d sources", total, len(plans)))
	r.progress()

	if total == 0 {
		if err := r.roots.SetMusicRoot(ctx, newRoot); err != nil {
			return fmt.Errorf("storing music root: %w", err)
		}
		r.log(ctx, "No files to move. Setting updated.")
		return nil
	}

	// moving
	r.setStatus(StatusMoving)
	sameFS := sameFilesystem(oldRoot, newRoot)
	copied := make([]plan, 0, len(plans))
	for _, p := range plans {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log(ctx, fmt.Sprintf("Moving %s...", p.source.Name))
		if sameFS {
			if err := os.MkdirAll(filepath.Dir(p.newDir), 0o755); err != nil {
				return err
			}
			err := os.Rename(p.oldDir, p.newDir)
			if err == nil {
				r.update(func(s *State) { s.MovedFiles += len(p.files) })
				r.progress()
				continue
			}
			slog.DebugContext(ctx, "rename failed", "source", p.source.Name, "error", err)
			r.log(ctx, "  Rename failed, falling back to copy...")
		}
		if err := r.copyPlan(ctx, p); err != nil {
			return err
		}
		copied = append(copied, p)
	}

	// rewriting
	r.setStatus(StatusRewriting)
	r.log(ctx, "Rewriting filemaps...")
	for _, p := range plans {
		path := paths.FileMap(p.source.ID)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		n, err := filemap.Rewrite(ctx, path, oldRoot, newRoot)
		if err != nil {
			slog.WarnContext(ctx, "rewriting filemap", "source", p.source.Name, "path", path, "error", err)
			r.hub.Log(live.RelocationChannel, fmt.Sprintf("  WARNING: Failed to rewrite filemap for %s: %s", p.source.Name, err))
			continue
		}
		r.log(ctx, fmt.Sprintf("  Rewrote filemap for %s (%d entries)", p.source.Name, n))
	}

	// cleanup
	if len(copied) > 0 {
		r.log(ctx, "Cleaning up old location...")
		for _, p := range copied {
			if err := os.RemoveAll(p.oldDir); err != nil {
				slog.WarnContext(ctx, "removing old folder", "path", p.oldDir, "error", err)
			}
		}
	}

	// commit
	if err := r.roots.SetMusicRoot(ctx, newRoot); err != nil {
		return fmt.Errorf("storing music root: %w", err)
	}
	r.log(ctx, fmt.Sprintf("Library move completed: %d files moved", r.Status().MovedFiles))
	return nil
}

func (r *Relocator) copyPlan(ctx context.Context, p plan) error {
	for _, f := range p.files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.update(func(s *State) { s.CurrentFile = filepath.Base(f.old) })
		if err := os.MkdirAll(filepath.Dir(f.new), 0o755); err != nil {
			return err
		}
		if err := r.copyFile(f.old, f.new); err != nil {
			return fmt.Errorf("copying %s: %w", f.old, err)
		}
		info, err := os.Stat(f.new)
		if err != nil {
			return err
		}
		if info.Size() != f.size {
			return &model.IntegrityError{Path: f.old, Want: f.size, Got: info.Size()}
		}

		var moved, total int
		r.update(func(s *State) {
			s.MovedFiles++
			moved, total = s.MovedFiles, s.TotalFiles
		})
		if moved%progressEvery == 0 || moved == total {
			r.progress()
		}
	}
	return nil
}

type filePair struct {
	old  string
	new  string
	size int64
}

type plan struct {
	source model.Source
	oldDir string
	newDir string
	files  []filePair
	size   int64
}

// scan lists the files of every source folder under oldRoot. Sources with
// no files are left out.
func (r *Relocator) scan(ctx context.Context, oldRoot, newRoot string) ([]plan, error) {
	sources, err := r.sources.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	plans, err := parallel.Map(ctx, r.limit, sources, func(ctx context.Context, src model.Source) (plan, error) {
		p := plan{
			source: src,
			oldDir: filepath.Join(oldRoot, src.LocalFolder),
			newDir: filepath.Join(newRoot, src.LocalFolder),
		}
		if info, err := os.Stat(p.oldDir); err != nil || !info.IsDir() {
			return p, nil
		}
		for entry, err := range walk.Files(ctx, p.oldDir) {
			if err != nil {
				return p, fmt.Errorf("scanning %s: %w", p.oldDir, err)
			}
			p.files = append(p.files, filePair{
				old:  entry.Path,
				new:  filepath.Join(p.newDir, entry.Rel),
				size: entry.Size,
			})
			p.size += entry.Size
		}
		return p, ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	ret := plans[:0]
	for _, p := range plans {
		if len(p.files) > 0 {
			ret = append(ret, p)
		}
	}
	return ret, nil
}

func absRoots(oldRoot, newRoot string) (string, string, error) {
	if oldRoot == "" || newRoot == "" {
		return "", "", errors.New("library roots must not be empty")
	}
	o, err := filepath.Abs(oldRoot)
	if err != nil {
		return "", "", err
	}
	n, err := filepath.Abs(newRoot)
	if err != nil {
		return "", "", err
	}
	return o, n, nil
}

// sameLocation reports whether both roots name the same directory.
func sameLocation(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

// sameFilesystem creates newRoot and reports whether a rename from oldRoot
// can work.
func sameFilesystem(oldRoot, newRoot string) bool {
	if err := os.MkdirAll(newRoot, 0o755); err != nil {
		return false
	}
	return sameDevice(oldRoot, newRoot)
}
