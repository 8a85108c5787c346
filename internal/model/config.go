package model

import (
	"io"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const DefaultAddr = ":8000"

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int    `json:"version" yaml:"version"` // fixed 0 for now
	Server  Server `json:"server" yaml:"server"`
	Paths   Paths  `json:"paths" yaml:"paths"`
	Log     Log    `json:"log" yaml:"log"`
	// tool section is decoded by service.ParseToolConfig
}

type Server struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Paths of the library and the bookkeeping files.
type Paths struct {
	Database     string `json:"database" yaml:"database"`
	MusicRoot    string `json:"music_root" yaml:"music_root"`       // default when the setting is absent
	ArchivesRoot string `json:"archives_root" yaml:"archives_root"` // source-<id>-* files
}

type Log struct {
	Verbose    bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"` // empty => stderr
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
}

// DefaultConfig keeps the database and archives under dataDir and the music
// library under musicDir.
func DefaultConfig(dataDir, musicDir string) Config {
	return Config{
		Version: 0,
		Server:  Server{Addr: DefaultAddr},
		Paths: Paths{
			Database:     filepath.Join(dataDir, "tracksync.db"),
			MusicRoot:    musicDir,
			ArchivesRoot: filepath.Join(dataDir, "archives"),
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if out.Server.Addr == "" {
		out.Server.Addr = DefaultAddr
	}
	if out.Log.MaxSizeMB == 0 {
		out.Log.MaxSizeMB = 50
	}

	return out, nil
}
