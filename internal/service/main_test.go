package service_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tracksync/tracksync/internal/filemap"
	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/model"
	"github.com/tracksync/tracksync/internal/service"
	"github.com/tracksync/tracksync/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// toolHeader parses the arguments the way the download tool gets them and
// records them to $ARGS_FILE when set. Like the real tool it fails when the
// download folder is missing.
const toolHeader = `#!/bin/sh
[ -n "$ARGS_FILE" ] && printf '%s\n' "$@" > "$ARGS_FILE"
dir=""
while [ $# -gt 0 ]; do
  case "$1" in
    --path) dir="$2"; shift ;;
  esac
  shift
done
if [ ! -d "$dir" ]; then
  echo "Invalid path in arguments: $dir"
  exit 255
fi
`

// writeTool creates an executable fake download tool running body.
func writeTool(t *testing.T, body string) string {
	t.Helper()
	lookSh(t)
	path := filepath.Join(t.TempDir(), "scdl")
	require.NoError(t, os.WriteFile(path, []byte(toolHeader+body), 0o755))
	return path
}

type fixture struct {
	store     *store.Store
	hub       *live.Hub
	sup       *service.Supervisor
	orch      *service.Orchestrator
	paths     filemap.Paths
	musicRoot string
}

// newFixture wires an orchestrator to a fresh store. tool is the tool
// config, its Path usually comes from writeTool.
func newFixture(t *testing.T, tool service.ToolConfig) *fixture {
	t.Helper()
	ctx := t.Context()
	dir := t.TempDir()
	f := &fixture{
		hub:       live.NewHub(),
		paths:     filemap.Paths{Root: filepath.Join(dir, "archives")},
		musicRoot: filepath.Join(dir, "music"),
	}

	var err error
	f.store, err = store.Open(ctx, filepath.Join(dir, "tracksync.db"), f.musicRoot)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.store.Close())
	})

	f.sup = service.NewSupervisor(tool, f.paths)
	f.orch, err = service.NewOrchestrator(ctx, f.sup, f.store, f.store, f.store, f.hub)
	require.NoError(t, err)
	// registered after store.Close, so it runs before it
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) addSource(t *testing.T, name string) model.Source {
	t.Helper()
	src := model.Source{
		Name:        name,
		URL:         "https://soundcloud.com/someone/sets/" + name,
		Type:        model.SourcePlaylist,
		LocalFolder: name,
		AudioFormat: "mp3",
		SyncEnabled: true,
	}
	id, err := f.store.PutSource(t.Context(), src)
	require.NoError(t, err)
	src.ID = id
	return src
}
