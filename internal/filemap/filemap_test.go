package filemap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/internal/filemap"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	music := t.TempDir()
	paths := filemap.Paths{Root: t.TempDir()}

	kept := filepath.Join(music, "set", "kept.mp3")
	touch(t, kept)
	accented := filepath.Join(music, "set", "café.mp3")
	touch(t, accented)

	m := filemap.Map{
		"100": kept,
		"20":  filepath.Join(music, "set", "gone.mp3"),
		"3":   filepath.Join(music, "set", `caf\u00e9.mp3`),
	}
	require.NoError(t, filemap.Save(paths.FileMap(7), m))

	pruned, err := filemap.Prepare(t.Context(), paths, 7)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	got, err := filemap.Load(t.Context(), paths.FileMap(7))
	require.NoError(t, err)
	require.Equal(t, filemap.Map{"3": accented, "100": kept}, got)

	archive, err := os.ReadFile(paths.Archive(7))
	require.NoError(t, err)
	require.Equal(t, "soundcloud 3\nsoundcloud 100\n", string(archive))

	sync, err := os.ReadFile(paths.Sync(7))
	require.NoError(t, err)
	require.Equal(t, "soundcloud 3 "+accented+"\nsoundcloud 100 "+kept+"\n", string(sync))

	fmBytes, err := os.ReadFile(paths.FileMap(7))
	require.NoError(t, err)

	// a second run changes nothing
	pruned, err = filemap.Prepare(t.Context(), paths, 7)
	require.NoError(t, err)
	require.Zero(t, pruned)
	for path, want := range map[string][]byte{
		paths.Archive(7): archive,
		paths.Sync(7):    sync,
		paths.FileMap(7): fmBytes,
	} {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, want, b, path)
	}
}

func TestPrepare_Empty(t *testing.T) {
	t.Parallel()
	paths := filemap.Paths{Root: filepath.Join(t.TempDir(), "archives")}

	pruned, err := filemap.Prepare(t.Context(), paths, 1)
	require.NoError(t, err)
	require.Zero(t, pruned)

	b, err := os.ReadFile(paths.Archive(1))
	require.NoError(t, err)
	require.Empty(t, b)
	_, err = os.Stat(paths.FileMap(1))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Corrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "source-1-filemap.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m, err := filemap.Load(t.Context(), path)
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "source-2-filemap.json")
	m := filemap.Map{"1": "/music/a b/ä.mp3", "2": "/music/b.flac"}
	require.NoError(t, filemap.Save(path, m))

	got, err := filemap.Load(t.Context(), path)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestRepairEscapes(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     string
		ok       bool
	}{
		{"plain", "/music/a.mp3", "/music/a.mp3", false},
		{"short", `/music/caf\u00e9.mp3`, "/music/café.mp3", true},
		{"long", `/music/\U0001F3B5.mp3`, "/music/🎵.mp3", true},
		{"invalid rune", `/music/\UFFFFFFFF.mp3`, `/music/\UFFFFFFFF.mp3`, false},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			got, ok := filemap.RepairEscapes(tt.given)
			require.Equal(t, tt.then, got)
			require.Equal(t, tt.ok, ok)
		})
	}
}

func TestRewrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "source-1-filemap.json")
	require.NoError(t, filemap.Save(path, filemap.Map{
		"1": "/music/set/a.mp3",
		"2": "/music2/set/b.mp3",
		"3": "/elsewhere/c.mp3",
	}))

	n, err := filemap.Rewrite(t.Context(), path, "/music/", "/mnt/new")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := filemap.Load(t.Context(), path)
	require.NoError(t, err)
	require.Equal(t, filemap.Map{
		"1": "/mnt/new/set/a.mp3",
		"2": "/music2/set/b.mp3",
		"3": "/elsewhere/c.mp3",
	}, got)
}

func TestPaths(t *testing.T) {
	t.Parallel()
	p := filemap.Paths{Root: "/data/archives"}
	require.Equal(t, []string{
		"/data/archives/source-12-archive.txt",
		"/data/archives/source-12-sync.txt",
		"/data/archives/source-12-filemap.json",
	}, p.All(12))
}
