package service

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tracksync/tracksync/internal/filemap"
	"github.com/tracksync/tracksync/internal/model"
)

var (
	reTrackID     = regexp.MustCompile(`\[soundcloud\]\s+(\d+):`)
	reDestination = regexp.MustCompile(`Destination:\s+(.+)$`)
	reDownloaded  = regexp.MustCompile(`\[download\]\s+(.+?)\s+has already been downloaded`)
	reItem        = regexp.MustCompile(`Downloading item (\d+) of (\d+)`)
)

const (
	markRecorded   = "has already been recorded in the archive"
	markDownloaded = "has already been downloaded"
	markRemoving   = "Removing"
	markDest       = "Destination:"
)

var audioExts = map[string]struct{}{
	".mp3":  {},
	".flac": {},
	".opus": {},
	".m4a":  {},
	".ogg":  {},
	".wav":  {},
}

func isAudio(path string) bool {
	_, ok := audioExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// tracker extracts track identities and counts from the tool output.
type tracker struct {
	files   filemap.Map
	current string
	counts  model.Counts
}

func newTracker(files filemap.Map) *tracker {
	if files == nil {
		files = filemap.Map{}
	}
	return &tracker{files: files}
}

func (t *tracker) line(line string) {
	if m := reTrackID.FindStringSubmatch(line); m != nil {
		t.current = m[1]
	}

	if m := reDestination.FindStringSubmatch(line); m != nil {
		path := strings.TrimSpace(m[1])
		if isAudio(path) {
			t.counts.Added++
			if t.current != "" {
				t.files[t.current] = path
			}
		}
	} else if m := reDownloaded.FindStringSubmatch(line); m != nil {
		path := strings.TrimSpace(m[1])
		if t.current != "" && isAudio(path) {
			t.files[t.current] = path
		}
	}

	switch {
	case strings.Contains(line, markRecorded), strings.Contains(line, markDownloaded):
		t.counts.Skipped++
	case strings.Contains(line, markRemoving):
		t.counts.Removed++
	}
}

// progress follows "Downloading item X of Y" and the lines marking a track
// as processed.
type progress struct {
	processed int
	total     int
}

// line reports whether the line changed the progress.
func (p *progress) line(line string) bool {
	if m := reItem.FindStringSubmatch(line); m != nil {
		total, _ := strconv.Atoi(m[2])
		if total != p.total {
			p.total = total
			return true
		}
		return false
	}
	if strings.Contains(line, markDest) ||
		strings.Contains(line, markRecorded) ||
		strings.Contains(line, markRemoving) {
		p.processed++
		return p.total > 0
	}
	return false
}

// current never exceeds total.
func (p *progress) current() int {
	return min(p.processed, p.total)
}
