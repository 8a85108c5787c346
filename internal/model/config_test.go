package model_test

import (
	"strings"
	"testing"

	"github.com/tracksync/tracksync/internal/model"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
paths:
  database: /data/db/tracksync.db
  music_root: /data/music
  archives_root: /data/archives
log:
  verbose: true
tool:
  path: /usr/local/bin/scdl
  kill_grace: 5s
  env:
    HOME: $HOME
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Version)
	require.Equal(t, model.DefaultAddr, cfg.Server.Addr)
	require.Equal(t, "/data/db/tracksync.db", cfg.Paths.Database)
	require.Equal(t, "/data/music", cfg.Paths.MusicRoot)
	require.Equal(t, "/data/archives", cfg.Paths.ArchivesRoot)
	require.True(t, cfg.Log.Verbose)
	require.Equal(t, 50, cfg.Log.MaxSizeMB)
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		yml      string
	}{
		{"missing music root", `
version: 0
paths:
  database: /data/db/tracksync.db
  archives_root: /data/archives
`},
		{"unknown field", `
version: 0
paths:
  database: /data/db/tracksync.db
  music_root: /data/music
  archives_root: /data/archives
colour: blue
`},
		{"bad duration", `
version: 0
paths:
  database: /data/db/tracksync.db
  music_root: /data/music
  archives_root: /data/archives
tool:
  kill_grace: soon
`},
		{"wrong version", `
version: 3
paths:
  database: /data/db/tracksync.db
  music_root: /data/music
  archives_root: /data/archives
`},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tt.yml))
			require.Error(t, err)
			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
			for _, d := range details {
				require.NotEmpty(t, d.Code)
				require.NotEmpty(t, d.Message)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := model.DefaultConfig("/var/lib/tracksync", "/srv/music")
	require.Equal(t, "/var/lib/tracksync/tracksync.db", cfg.Paths.Database)
	require.Equal(t, "/var/lib/tracksync/archives", cfg.Paths.ArchivesRoot)
	require.Equal(t, "/srv/music", cfg.Paths.MusicRoot)
	require.Equal(t, model.DefaultAddr, cfg.Server.Addr)
}
