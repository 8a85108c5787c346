package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys of the global key/value settings store.
const (
	SettingAuthToken         = "auth_token"
	SettingMusicRoot         = "music_root"
	SettingAutoSyncEnabled   = "auto_sync_enabled"
	SettingAutoSyncInterval  = "auto_sync_interval_minutes"
	SettingMaxConcurrentJobs = "max_concurrent_jobs"
)

const (
	DefaultAutoSyncInterval  = 60
	DefaultMaxConcurrentJobs = 1
)

// Settings is a typed snapshot of the settings store.
type Settings struct {
	AuthToken               string
	MusicRoot               string
	AutoSyncEnabled         bool
	AutoSyncIntervalMinutes int
	MaxConcurrentJobs       int
}

// ParseSettings builds a snapshot from raw store values. Absent or empty
// keys take defaults, musicRoot being the default for SettingMusicRoot.
func ParseSettings(raw map[string]string, musicRoot string) (Settings, error) {
	s := Settings{
		AuthToken:               raw[SettingAuthToken],
		MusicRoot:               musicRoot,
		AutoSyncIntervalMinutes: DefaultAutoSyncInterval,
		MaxConcurrentJobs:       DefaultMaxConcurrentJobs,
	}
	if v := strings.TrimSpace(raw[SettingMusicRoot]); v != "" {
		s.MusicRoot = v
	}

	if v := strings.TrimSpace(raw[SettingAutoSyncEnabled]); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Settings{}, fmt.Errorf("setting %s: %w", SettingAutoSyncEnabled, err)
		}
		s.AutoSyncEnabled = b
	}

	var err error
	s.AutoSyncIntervalMinutes, err = positiveInt(raw, SettingAutoSyncInterval, DefaultAutoSyncInterval)
	if err != nil {
		return Settings{}, err
	}
	s.MaxConcurrentJobs, err = positiveInt(raw, SettingMaxConcurrentJobs, DefaultMaxConcurrentJobs)
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

func positiveInt(raw map[string]string, key string, dflt int) (int, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return dflt, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("setting %s: must be at least 1, got %d", key, n)
	}
	return n, nil
}
