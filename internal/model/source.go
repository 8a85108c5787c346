package model

// SourceType selects what the download tool retrieves from a source URL.
type SourceType string

const (
	SourcePlaylist     SourceType = "playlist"
	SourceArtistTracks SourceType = "artist_tracks"
	SourceArtistAll    SourceType = "artist_all"
	SourceLikes        SourceType = "likes"
	SourceUserReposts  SourceType = "user_reposts"
)

// Source describes a remote collection tracked for periodic download.
// The core never mutates it.
type Source struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Type          SourceType `json:"source_type"`
	LocalFolder   string     `json:"local_folder"`
	AudioFormat   string     `json:"audio_format"` // mp3, flac, opus or empty for tool default
	NameFormat    string     `json:"name_format,omitempty"`
	SyncEnabled   bool       `json:"sync_enabled"`
	OriginalArt   bool       `json:"original_art"`
	ExtractArtist bool       `json:"extract_artist"`
}
