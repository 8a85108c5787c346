package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/tracksync/tracksync/internal/log"

	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := log.NewContextHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h)

	ctx := log.ContextAttrs(context.Background(), slog.Int64("source_id", 7))
	child := log.ContextAttrs(ctx, slog.String("job_uuid", "abc"))
	logger.InfoContext(child, "hello")
	logger.InfoContext(ctx, "parent")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	require.Equal(t, "hello", first["msg"])
	require.EqualValues(t, 7, first["source_id"])
	require.Equal(t, "abc", first["job_uuid"])

	require.Equal(t, "parent", second["msg"])
	require.NotContains(t, second, "job_uuid")
}

func TestNewFile(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	path := filepath.Join(t.TempDir(), "tracksync.log")
	logger, closer := log.New(log.Options{Level: &level, File: path, MaxSizeMB: 1})
	t.Cleanup(func() { _ = closer.Close() })

	logger.Debug("hidden")
	log.SetVerbose(&level, true)
	logger.Debug("visible")
	require.Equal(t, slog.LevelDebug, level.Level())
	require.FileExists(t, path)
}
