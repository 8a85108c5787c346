package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tracksync/tracksync/internal/log"
	"github.com/tracksync/tracksync/internal/model"
)

var (
	userConfigPath string // /default/config/path/tracksync on given OS
	userDataPath   string
	configPath     string // actual config file used (if loaded)
	config         model.Config

	logLevel  = new(slog.LevelVar)
	logCloser io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagServer         string // value of --server flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "tracksync")
	if d, err := os.UserHomeDir(); err == nil {
		userDataPath = filepath.Join(d, ".local", "share", "tracksync")
	} else {
		userDataPath = userConfigPath
	}
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is tracksync.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initTracksync
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}

	for _, cmd := range []*cobra.Command{syncCmd, relocateCmd} {
		cmd.Flags().StringVar(&flagServer, "server", "", "URL of a running server, default is derived from server.addr")
	}
	syncCmd.Flags().BoolVar(&flagAll, "all", false, "start every enabled source")
	syncCmd.Flags().BoolVar(&flagNoFollow, "no-follow", false, "return once the job was started")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(relocateCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("tracksync failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "tracksync",
	Short:        "Keeps a local music library in sync with remote collections",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a tracksync",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("tracksync: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:    %s\n", configPath)
		}
		fmt.Printf("tracksync: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initTracksync(cmd *cobra.Command, _ []string) error {
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if envConfig, ok := os.LookupEnv("TRACKSYNCCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "tracksync.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		config = model.DefaultConfig(userDataPath, filepath.Join(home, "Music", "tracksync"))
		configPath = filepath.Join(userConfigPath, "tracksync.yaml")
		if err := writeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// the tool section and live reloads go through viper
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Log.Verbose = true
	}

	// initialize logging
	log.SetVerbose(logLevel, config.Log.Verbose)
	var logger *slog.Logger
	logger, logCloser = log.New(log.Options{
		Level:      logLevel,
		File:       config.Log.File,
		MaxSizeMB:  config.Log.MaxSizeMB,
		MaxBackups: config.Log.MaxBackups,
	})
	slog.SetDefault(logger)

	if !flagVerbose {
		viper.OnConfigChange(func(e fsnotify.Event) {
			verbose := viper.GetBool("log.verbose")
			log.SetVerbose(logLevel, verbose)
			slog.Info("config file changed", "path", e.Name, "verbose", verbose)
		})
		viper.WatchConfig()
	}

	slog.Debug("tracksync run", "configPath", configPath)
	slog.Debug("tracksync run", "config", config)
	return nil
}

func writeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
