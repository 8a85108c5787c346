// Package filemap keeps the persisted mapping between remote track ids and
// the local files they were downloaded to, plus the archive files the
// download tool reads which are derived from it.
package filemap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Paths locates the per source bookkeeping files under Root.
type Paths struct {
	Root string
}

func (p Paths) Archive(sourceID int64) string {
	return p.file(sourceID, "archive.txt")
}

func (p Paths) Sync(sourceID int64) string {
	return p.file(sourceID, "sync.txt")
}

func (p Paths) FileMap(sourceID int64) string {
	return p.file(sourceID, "filemap.json")
}

// All returns the three files of a source.
func (p Paths) All(sourceID int64) []string {
	return []string{p.Archive(sourceID), p.Sync(sourceID), p.FileMap(sourceID)}
}

func (p Paths) file(sourceID int64, suffix string) string {
	return filepath.Join(p.Root, "source-"+strconv.FormatInt(sourceID, 10)+"-"+suffix)
}

// Map is track id => absolute local path.
type Map map[string]string

// IDs returns the keys in ascending order.
func (m Map) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}

// compareIDs orders numeric ids numerically and everything else after them
// lexically.
func compareIDs(a, b string) int {
	na, aerr := strconv.ParseUint(a, 10, 64)
	nb, berr := strconv.ParseUint(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// Load reads the map stored at path. A missing file is an empty map, an
// unreadable one is logged and treated as empty.
func Load(ctx context.Context, path string) (Map, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading filemap: %w", err)
	}

	var m Map
	if err := json.Unmarshal(b, &m); err != nil {
		slog.WarnContext(ctx, "filemap is corrupt, starting empty", "path", path, "error", err)
		return Map{}, nil
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// Save writes m to path atomically.
func Save(path string, m Map) error {
	if m == nil {
		m = Map{}
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(b, '\n'))
}

// writeFile replaces path via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(data)
	err = errors.Join(err, f.Close())
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Prepare reconciles the filemap of sourceID with the filesystem and
// regenerates the derived archive and sync files from it. Entries whose
// file is gone, even after escape repair, are dropped. It returns how many
// entries were dropped. Running it twice with no filesystem change in
// between leaves every file byte for byte the same.
func Prepare(ctx context.Context, paths Paths, sourceID int64) (int, error) {
	path := paths.FileMap(sourceID)
	m, err := Load(ctx, path)
	if err != nil {
		return 0, err
	}

	changed := false
	pruned := 0
	for _, id := range m.IDs() {
		p := m[id]
		if exists(p) {
			continue
		}
		if fixed, ok := RepairEscapes(p); ok && exists(fixed) {
			slog.WarnContext(ctx, "filemap path repaired", "source_id", sourceID, "track_id", id, "old", p, "new", fixed)
			m[id] = fixed
			changed = true
			continue
		}
		delete(m, id)
		pruned++
		changed = true
	}

	if changed {
		if err := Save(path, m); err != nil {
			return 0, err
		}
	}
	if err := writeDerived(paths, sourceID, m); err != nil {
		return 0, err
	}
	return pruned, nil
}

func writeDerived(paths Paths, sourceID int64, m Map) error {
	var archive, sync bytes.Buffer
	for _, id := range m.IDs() {
		fmt.Fprintf(&archive, "soundcloud %s\n", id)
		fmt.Fprintf(&sync, "soundcloud %s %s\n", id, m[id])
	}
	if err := writeFile(paths.Archive(sourceID), archive.Bytes()); err != nil {
		return err
	}
	return writeFile(paths.Sync(sourceID), sync.Bytes())
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

var reEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})|\\U([0-9a-fA-F]{8})`)

// RepairEscapes decodes literal \uXXXX and \UXXXXXXXX sequences left in a
// path by the download tool. ok is false when nothing was decoded.
func RepairEscapes(path string) (fixed string, ok bool) {
	fixed = reEscape.ReplaceAllStringFunc(path, func(s string) string {
		n, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil || !utf8.ValidRune(rune(n)) {
			return s
		}
		return string(rune(n))
	})
	return fixed, fixed != path
}

// Rewrite replaces the oldRoot prefix of every path in the filemap stored at
// path by newRoot. Only whole path components match, so /music never
// rewrites /music2. It returns the number of rewritten entries.
func Rewrite(ctx context.Context, path, oldRoot, newRoot string) (int, error) {
	m, err := Load(ctx, path)
	if err != nil {
		return 0, err
	}
	n := 0
	for id, p := range m {
		if r, ok := Rebase(p, oldRoot, newRoot); ok {
			m[id] = r
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, Save(path, m)
}

// Rebase moves p from under oldRoot to under newRoot.
func Rebase(p, oldRoot, newRoot string) (string, bool) {
	oldRoot = filepath.Clean(oldRoot)
	rel, err := filepath.Rel(oldRoot, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p, false
	}
	return filepath.Join(newRoot, rel), true
}
