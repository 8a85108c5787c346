package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/model"
	"github.com/tracksync/tracksync/internal/relocate"
	"github.com/tracksync/tracksync/internal/service"
)

type StartResponse struct {
	Status   service.StartStatus `json:"status"`
	SourceID int64               `json:"source_id"`
}

type SyncStatus struct {
	IsSyncing bool    `json:"is_syncing"`
	Sources   []int64 `json:"sources"`
}

type AutoSync struct {
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
	NextSyncAt      *time.Time `json:"next_sync_at"`
}

type LibraryRequest struct {
	NewPath string `json:"new_path"`
}

// MoveStatus merges the relocation state with the incremental log view.
type MoveStatus struct {
	Status      string         `json:"status"`
	TotalFiles  int            `json:"total_files"`
	MovedFiles  int            `json:"moved_files"`
	CurrentFile string         `json:"current_file"`
	Error       string         `json:"error,omitempty"`
	Logs        []string       `json:"logs"`
	Cursor      int            `json:"cursor"`
	Progress    *live.Progress `json:"progress"`
}

func (s *Server) syncAll(w http.ResponseWriter, r *http.Request) {
	s.wg.Go(func() {
		n, err := s.cfg.Orchestrator.StartAll(s.ctx)
		if err != nil {
			slog.ErrorContext(s.ctx, "bulk start failed", "started", n, "error", err)
			return
		}
		slog.InfoContext(s.ctx, "bulk start finished", "started", n)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) syncStatus(w http.ResponseWriter, _ *http.Request) {
	active := s.cfg.Orchestrator.Active()
	writeJSON(w, http.StatusOK, SyncStatus{
		IsSyncing: len(active) > 0,
		Sources:   active,
	})
}

func (s *Server) syncStart(w http.ResponseWriter, r *http.Request) {
	id := sourceID(r)
	status, err := s.cfg.Orchestrator.Start(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{Status: status, SourceID: id})
}

func (s *Server) syncSourceStatus(w http.ResponseWriter, r *http.Request) {
	id := sourceID(r)
	state := s.cfg.Orchestrator.LiveState(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"is_syncing": s.cfg.Orchestrator.IsActive(id),
		"status":     state.Status,
	})
}

func (s *Server) syncCancel(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Orchestrator.Cancel(sourceID(r)) {
		writeProblem(w, http.StatusNotFound, "no active sync for this source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.JobCancelled)})
}

func (s *Server) syncLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Orchestrator.ReadSince(sourceID(r), cursor(r)))
}

func (s *Server) syncHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}
	id := sourceID(r)
	if _, err := s.cfg.Store.Source(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := s.cfg.Store.Jobs(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.JobRecord{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) resetArchive(w http.ResponseWriter, r *http.Request) {
	id := sourceID(r)
	if _, err := s.cfg.Store.Source(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.cfg.Orchestrator.ResetArchive(id); err != nil {
		if errors.Is(err, model.ErrJobActive) {
			writeProblem(w, http.StatusConflict, "cannot reset archive while sync is running")
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "source_id": id})
}

func (s *Server) autoSync(r *http.Request) (AutoSync, error) {
	settings, err := s.cfg.Store.Settings(r.Context())
	if err != nil {
		return AutoSync{}, err
	}
	ret := AutoSync{
		Enabled:         settings.AutoSyncEnabled,
		IntervalMinutes: settings.AutoSyncIntervalMinutes,
	}
	if next, ok := s.cfg.Trigger.NextRun(); ok {
		ret.NextSyncAt = &next
	}
	return ret, nil
}

func (s *Server) getAutoSync(w http.ResponseWriter, r *http.Request) {
	ret, err := s.autoSync(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) putAutoSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled         bool `json:"enabled"`
		IntervalMinutes int  `json:"interval_minutes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IntervalMinutes < 1 {
		writeProblem(w, http.StatusBadRequest, "interval_minutes must be at least 1")
		return
	}

	ctx := r.Context()
	if err := s.cfg.Store.SetSetting(ctx, model.SettingAutoSyncEnabled, strconv.FormatBool(req.Enabled)); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.cfg.Store.SetSetting(ctx, model.SettingAutoSyncInterval, strconv.Itoa(req.IntervalMinutes)); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.cfg.Trigger.Update(req.Enabled, req.IntervalMinutes); err != nil {
		writeError(w, r, err)
		return
	}
	s.getAutoSync(w, r)
}

func (s *Server) libraryPreCheck(w http.ResponseWriter, r *http.Request) {
	var req LibraryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := s.cfg.Store.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.cfg.Relocator.PreCheck(r.Context(), settings.MusicRoot, req.NewPath)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) libraryMove(w http.ResponseWriter, r *http.Request) {
	var req LibraryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := s.cfg.Store.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.cfg.Relocator.Start(s.ctx, settings.MusicRoot, req.NewPath, s.cfg.ArchiveRoot); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": relocate.StatusScanning})
}

func (s *Server) libraryMoveStatus(w http.ResponseWriter, r *http.Request) {
	st := s.cfg.Relocator.Status()
	poll := s.cfg.Hub.ReadSince(live.RelocationChannel, cursor(r))
	writeJSON(w, http.StatusOK, MoveStatus{
		Status:      st.Status,
		TotalFiles:  st.TotalFiles,
		MovedFiles:  st.MovedFiles,
		CurrentFile: st.CurrentFile,
		Error:       st.Error,
		Logs:        poll.Logs,
		Cursor:      poll.Cursor,
		Progress:    poll.Progress,
	})
}
