package service

import (
	"path/filepath"

	"github.com/tracksync/tracksync/internal/filemap"
	"github.com/tracksync/tracksync/internal/model"
)

var typeFlags = map[model.SourceType]string{
	model.SourceLikes:        "-f",
	model.SourceArtistTracks: "-t",
	model.SourceArtistAll:    "-a",
	model.SourceUserReposts:  "-r",
}

var formatFlags = map[string]string{
	"mp3":  "--onlymp3",
	"flac": "--flac",
	"opus": "--opus",
}

// BuildArgs returns the argument vector of the download tool for src.
func BuildArgs(src model.Source, musicRoot, authToken string, paths filemap.Paths) []string {
	args := []string{"-l", src.URL}
	if flag, ok := typeFlags[src.Type]; ok {
		args = append(args, flag)
	}
	args = append(args,
		"--path", filepath.Join(musicRoot, src.LocalFolder),
		"--download-archive", paths.Archive(src.ID),
		"--sync", paths.Sync(src.ID),
	)
	if flag, ok := formatFlags[src.AudioFormat]; ok {
		args = append(args, flag)
	}
	if src.OriginalArt {
		args = append(args, "--original-art")
	}
	if src.ExtractArtist {
		args = append(args, "--extract-artist")
	}
	if src.NameFormat != "" {
		args = append(args, "--name-format", src.NameFormat)
	}
	if authToken != "" {
		args = append(args, "--auth-token", authToken)
	}
	return append(args, "--no-playlist-folder", "-c")
}
