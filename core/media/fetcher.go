package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"XSlicer/core/apperr"
	"XSlicer/logger"
)

const (
	downloadStem  = "download"
	finalFileName = "audio.mp3"
)

// YtDlpFetcher downloads the best audio stream and transcodes it to MP3.
type YtDlpFetcher struct {
	ytDlpPath   string
	ffmpegPath  string
	bitrate     string
	stagingRoot string
}

// NewYtDlpFetcher creates a fetcher writing into stagingRoot/<id>/audio.mp3.
func NewYtDlpFetcher(ytDlpPath, ffmpegPath, bitrate, stagingRoot string) *YtDlpFetcher {
	if bitrate == "" {
		bitrate = "192K"
	}
	return &YtDlpFetcher{
		ytDlpPath:   ytDlpPath,
		ffmpegPath:  ffmpegPath,
		bitrate:     bitrate,
		stagingRoot: stagingRoot,
	}
}

// Fetch downloads link into the staging directory of id and returns the MP3 path.
// On failure no file exists at the returned location.
func (f *YtDlpFetcher) Fetch(ctx context.Context, link, id string) (string, error) {
	dir := filepath.Join(f.stagingRoot, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Errorf(apperr.KindFetch, "create staging dir: %w", err)
	}
	final := filepath.Join(dir, finalFileName)

	ok := false
	defer func() {
		if !ok {
			removePartials(dir)
		}
	}()

	out, err := runCommand(ctx, f.ytDlpPath,
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", f.bitrate,
		"--ffmpeg-location", f.ffmpegPath,
		"--no-playlist",
		"--playlist-items", "1",
		"--no-progress",
		"--no-warnings",
		"-o", filepath.Join(dir, downloadStem+".%(ext)s"),
		"--print", "after_move:filepath",
		link,
	)
	if err != nil {
		return "", apperr.Errorf(apperr.KindFetch, "download %s: %w", link, err)
	}

	produced := lastLine(out)
	if produced == "" {
		produced = filepath.Join(dir, downloadStem+".mp3")
	}
	info, err := os.Stat(produced)
	if err != nil {
		return "", apperr.Errorf(apperr.KindFetch, "downloaded file missing: %w", err)
	}
	if info.Size() == 0 {
		return "", apperr.Errorf(apperr.KindFetch, "downloaded file %s is empty", produced)
	}
	if err := os.Rename(produced, final); err != nil {
		return "", apperr.Errorf(apperr.KindFetch, "finalize download: %w", err)
	}
	ok = true

	logger.Info("audio fetched",
		logger.SongID(id),
		logger.Int64("bytes", info.Size()))
	return final, nil
}

func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(string(lines[i])); l != "" {
			return l
		}
	}
	return ""
}

func removePartials(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, downloadStem+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			logger.Warn("failed to remove partial download", logger.String("file", m), logger.ErrorField(err))
		}
	}
	// 目录为空时一并删除
	_ = os.Remove(dir)
}
