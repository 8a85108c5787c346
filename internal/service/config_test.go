package service_test

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/internal/service"
)

const toolConfig = `
tool:
  path: /opt/scdl/bin/scdl
  kill_grace: 3s
  timeout: 2h
  env:
    HOME: $HOME
    http_proxy: "http://proxy:3128"
`

func TestParseToolConfig(t *testing.T) {
	// can't be parallel as touches the viper package
	t.Setenv("HOME", "/home/tracksync")
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(toolConfig)))

	cfg, err := service.ParseToolConfig("tool")
	require.NoError(t, err)
	require.Equal(t, "/opt/scdl/bin/scdl", cfg.Path)
	require.Equal(t, 3*time.Second, cfg.KillGrace)
	require.Equal(t, 2*time.Hour, cfg.Timeout)

	env := cfg.Environ()
	require.Contains(t, env, "PYTHONUTF8=1")
	require.Contains(t, env, "HOME=/home/tracksync")
	require.Contains(t, env, "HTTP_PROXY=http://proxy:3128")
	require.NotContains(t, env, "")

	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		cfg, err := service.ParseToolConfig("tool")
		require.NoError(t, err)
		require.Equal(t, service.DefaultToolPath, cfg.Path)
		require.Equal(t, service.DefaultKillGrace, cfg.KillGrace)
		require.Zero(t, cfg.Timeout)
	})
}
