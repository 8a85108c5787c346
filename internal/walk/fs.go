// Package walk iterates over the regular files of a library folder.
package walk

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
)

// Entry is a regular file found by Files.
type Entry struct {
	Path string // absolute, prefixed by the walked directory
	Rel  string // relative to the walked directory
	Size int64
	Mode fs.FileMode
}

// Files recursively walks dir and yields every regular file found, or an
// error when file information can't be retrieved. It does not follow
// symlinks. A cancelled ctx ends the walk.
func Files(ctx context.Context, dir string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield(Entry{Path: path}, err) {
					return fs.SkipAll
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if !yield(Entry{Path: path}, err) {
					return fs.SkipAll
				}
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				rel = filepath.Base(path)
			}
			entry := Entry{
				Path: path,
				Rel:  rel,
				Size: info.Size(),
				Mode: info.Mode(),
			}
			if !yield(entry, nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = filepath.WalkDir(dir, fn)
	}
}
