package model_test

import (
	"testing"

	"github.com/tracksync/tracksync/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParseSettings(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		s, err := model.ParseSettings(nil, "/data/music")
		require.NoError(t, err)
		require.Equal(t, model.Settings{
			MusicRoot:               "/data/music",
			AutoSyncIntervalMinutes: 60,
			MaxConcurrentJobs:       1,
		}, s)
	})

	t.Run("values", func(t *testing.T) {
		s, err := model.ParseSettings(map[string]string{
			model.SettingAuthToken:         "tok",
			model.SettingMusicRoot:         "/mnt/music",
			model.SettingAutoSyncEnabled:   "true",
			model.SettingAutoSyncInterval:  "15",
			model.SettingMaxConcurrentJobs: "3",
		}, "/data/music")
		require.NoError(t, err)
		require.Equal(t, "tok", s.AuthToken)
		require.Equal(t, "/mnt/music", s.MusicRoot)
		require.True(t, s.AutoSyncEnabled)
		require.Equal(t, 15, s.AutoSyncIntervalMinutes)
		require.Equal(t, 3, s.MaxConcurrentJobs)
	})

	var testCases = []struct {
		scenario string
		raw      map[string]string
		then     string
	}{
		{"bad bool", map[string]string{model.SettingAutoSyncEnabled: "yes please"}, "setting auto_sync_enabled"},
		{"bad interval", map[string]string{model.SettingAutoSyncInterval: "soon"}, "setting auto_sync_interval_minutes"},
		{"zero interval", map[string]string{model.SettingAutoSyncInterval: "0"}, "must be at least 1"},
		{"negative jobs", map[string]string{model.SettingMaxConcurrentJobs: "-2"}, "must be at least 1"},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.ParseSettings(tt.raw, "/data/music")
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.then)
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()
	require.False(t, model.JobRunning.Terminal())
	for _, s := range []model.JobStatus{model.JobCompleted, model.JobFailed, model.JobCancelled, model.JobInterrupted} {
		require.True(t, s.Terminal(), s)
	}
}
