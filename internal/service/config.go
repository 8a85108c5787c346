package service

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultToolPath  = "scdl"
	DefaultKillGrace = 10 * time.Second
)

// ToolConfig is the tool section of the config file.
type ToolConfig struct {
	Path      string            `mapstructure:"path"`
	Env       map[string]string `mapstructure:"env"`
	KillGrace time.Duration     `mapstructure:"kill_grace"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

// ParseToolConfig decodes the section under key from the global viper
// instance and fills in defaults.
func ParseToolConfig(key string) (ToolConfig, error) {
	var cfg ToolConfig
	if err := viper.UnmarshalKey(key, &cfg); err != nil {
		return ToolConfig{}, err
	}
	return cfg.withDefaults(), nil
}

func (c ToolConfig) withDefaults() ToolConfig {
	if c.Path == "" {
		c.Path = DefaultToolPath
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	return c
}

// Environ returns the process environment extended by PYTHONUTF8=1 and the
// configured variables. Values starting with $ are expanded.
func (c ToolConfig) Environ() []string {
	env := append(os.Environ(), "PYTHONUTF8=1")
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := c.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}
