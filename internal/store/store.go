// Package store is the sqlite implementation of the collaborators the core
// consumes: sources, the key/value settings and job records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tracksync/tracksync/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	source_type TEXT NOT NULL,
	local_folder TEXT NOT NULL,
	audio_format TEXT NOT NULL DEFAULT 'mp3',
	name_format TEXT DEFAULT NULL,
	sync_enabled BOOLEAN NOT NULL DEFAULT true,
	original_art BOOLEAN NOT NULL DEFAULT true,
	extract_artist BOOLEAN NOT NULL DEFAULT false
);
CREATE TABLE IF NOT EXISTS global_settings (
	key TEXT PRIMARY KEY,
	value TEXT DEFAULT NULL
);
CREATE TABLE IF NOT EXISTS sync_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER DEFAULT NULL,
	tracks_added INTEGER NOT NULL DEFAULT 0,
	tracks_removed INTEGER NOT NULL DEFAULT 0,
	tracks_skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT DEFAULT NULL,
	log_output TEXT DEFAULT NULL
);
CREATE INDEX IF NOT EXISTS sync_runs_status ON sync_runs(status);
`

// Store wraps the database. The zero value is not usable, use Open.
type Store struct {
	db        *sql.DB
	musicRoot string
}

// Open creates the database at dbPath if needed. musicRoot is the default
// returned for the music_root setting when the store has none.
func Open(ctx context.Context, dbPath, musicRoot string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between them
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, musicRoot: musicRoot}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Sources

const sourceColumns = `id, name, url, source_type, local_folder, audio_format,
	COALESCE(name_format, ''), sync_enabled, original_art, extract_artist`

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (model.Source, error) {
	var src model.Source
	var typ string
	err := row.Scan(
		&src.ID,
		&src.Name,
		&src.URL,
		&typ,
		&src.LocalFolder,
		&src.AudioFormat,
		&src.NameFormat,
		&src.SyncEnabled,
		&src.OriginalArt,
		&src.ExtractArtist,
	)
	src.Type = model.SourceType(typ)
	return src, err
}

// PutSource inserts src when src.ID is zero, updates it otherwise, and
// returns the stored id.
func (s *Store) PutSource(ctx context.Context, src model.Source) (int64, error) {
	var nameFormat *string
	if src.NameFormat != "" {
		nameFormat = &src.NameFormat
	}
	if src.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO sources (name, url, source_type, local_folder, audio_format, name_format, sync_enabled, original_art, extract_artist)
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			src.Name, src.URL, string(src.Type), src.LocalFolder, src.AudioFormat, nameFormat,
			src.SyncEnabled, src.OriginalArt, src.ExtractArtist,
		)
		if err != nil {
			return 0, fmt.Errorf("executing sql insert failed: %w", err)
		}
		return res.LastInsertId()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name=?, url=?, source_type=?, local_folder=?, audio_format=?, name_format=?,
			sync_enabled=?, original_art=?, extract_artist=?
		 WHERE id=?`,
		src.Name, src.URL, string(src.Type), src.LocalFolder, src.AudioFormat, nameFormat,
		src.SyncEnabled, src.OriginalArt, src.ExtractArtist, src.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("executing sql update failed: %w", err)
	}
	if ra, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("fetching affected rows failed: %w", err)
	} else if ra != 1 {
		return 0, ErrNotFound
	}
	return src.ID, nil
}

// Source returns the source identified by id or ErrNotFound.
func (s *Store) Source(ctx context.Context, id int64) (model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id=?`, id)
	src, err := scanSource(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Source{}, ErrNotFound
	case err != nil:
		return model.Source{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return src, nil
}

// Sources returns every source ordered by name.
func (s *Store) Sources(ctx context.Context) ([]model.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name, id`)
}

// EnabledSources returns sources with sync enabled ordered by name.
func (s *Store) EnabledSources(ctx context.Context) ([]model.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE sync_enabled ORDER BY name, id`)
}

func (s *Store) querySources(ctx context.Context, query string) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		ret = append(ret, src)
	}
	return ret, rows.Err()
}

// Settings

// Settings loads and validates a typed snapshot of the settings table.
func (s *Store) Settings(ctx context.Context) (model.Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, COALESCE(value, '') FROM global_settings`)
	if err != nil {
		return model.Settings{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	raw := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.Settings{}, fmt.Errorf("scanning setting: %w", err)
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return model.Settings{}, err
	}
	return model.ParseSettings(raw, s.musicRoot)
}

// SetSetting upserts a raw setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO global_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value,
	)
	if err != nil {
		return fmt.Errorf("executing sql upsert failed: %w", err)
	}
	return nil
}

// SetMusicRoot persists the library root.
func (s *Store) SetMusicRoot(ctx context.Context, root string) error {
	return s.SetSetting(ctx, model.SettingMusicRoot, root)
}

// Jobs

// CreateJob stores a new running job record for sourceID.
func (s *Store) CreateJob(ctx context.Context, sourceID int64, startedAt time.Time) (model.JobRecord, error) {
	rec := model.JobRecord{
		UUID:      uuid.NewString(),
		SourceID:  sourceID,
		Status:    model.JobRunning,
		StartedAt: startedAt.UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (uuid, source_id, status, started_at) VALUES (?,?,?,?)`,
		rec.UUID, rec.SourceID, string(rec.Status), rec.StartedAt.UnixMilli(),
	)
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("executing sql insert failed: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return model.JobRecord{}, err
	}
	return rec, nil
}

// FinishJob writes the terminal outcome of a running job. A job which
// already reached a terminal status is never changed: ErrAlreadyFinished.
func (s *Store) FinishJob(ctx context.Context, id int64, out model.JobOutcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", out.Status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM sync_runs WHERE id=?`, id).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("executing sql query failed: %w", err)
		case model.JobStatus(status).Terminal():
			return ErrAlreadyFinished
		}

		var errMsg *string
		if out.Error != "" {
			errMsg = &out.Error
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sync_runs
			 SET
				status = ?,
				finished_at = ?,
				tracks_added = ?,
				tracks_removed = ?,
				tracks_skipped = ?,
				error_message = ?,
				log_output = ?
			 WHERE id = ?;`,
			string(out.Status), out.FinishedAt.UTC().UnixMilli(),
			out.Counts.Added, out.Counts.Removed, out.Counts.Skipped,
			errMsg, out.Output, id,
		)
		if err != nil {
			return fmt.Errorf("executing sql update failed: %w", err)
		}
		return nil
	})
}

// SweepRunning marks every job still running as interrupted. It is meant to
// run once at startup when no job can be genuinely running.
func (s *Store) SweepRunning(ctx context.Context, message string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, finished_at = ?, error_message = ? WHERE status = ?`,
		string(model.JobInterrupted), now.UTC().UnixMilli(), message, string(model.JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("executing sql update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fetching affected rows failed: %w", err)
	}
	return int(n), nil
}

const jobColumns = `id, uuid, source_id, status, started_at, finished_at, tracks_added,
	tracks_removed, tracks_skipped, COALESCE(error_message, ''), COALESCE(log_output, '')`

func scanJob(row scanner) (model.JobRecord, error) {
	var rec model.JobRecord
	var status string
	var started int64
	var finished *int64
	err := row.Scan(
		&rec.ID,
		&rec.UUID,
		&rec.SourceID,
		&status,
		&started,
		&finished,
		&rec.Added,
		&rec.Removed,
		&rec.Skipped,
		&rec.Error,
		&rec.Output,
	)
	if err != nil {
		return model.JobRecord{}, err
	}
	rec.Status = model.JobStatus(status)
	rec.StartedAt = time.UnixMilli(started).UTC()
	if finished != nil {
		t := time.UnixMilli(*finished).UTC()
		rec.FinishedAt = &t
	}
	return rec, nil
}

// Job returns the job identified by id or ErrNotFound.
func (s *Store) Job(ctx context.Context, id int64) (model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sync_runs WHERE id=?`, id)
	rec, err := scanJob(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.JobRecord{}, ErrNotFound
	case err != nil:
		return model.JobRecord{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return rec, nil
}

// Jobs returns the latest jobs of a source, newest first.
func (s *Store) Jobs(ctx context.Context, sourceID int64, limit int) ([]model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM sync_runs WHERE source_id=? ORDER BY id DESC LIMIT ?`, sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []model.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		ret = append(ret, rec)
	}
	return ret, rows.Err()
}
