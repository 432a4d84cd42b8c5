package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"XSlicer/core/apperr"
	"XSlicer/logger"
	"XSlicer/model"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ytInfo is the subset of yt-dlp's info dict we read.
type ytInfo struct {
	Type         string    `json:"_type"`
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Uploader     string    `json:"uploader"`
	Artist       string    `json:"artist"`
	Channel      string    `json:"channel"`
	Duration     float64   `json:"duration"`
	Thumbnail    string    `json:"thumbnail"`
	UploadDate   string    `json:"upload_date"`
	WebpageURL   string    `json:"webpage_url"`
	ExtractorKey string    `json:"extractor_key"`
	Entries      []*ytInfo `json:"entries"`
}

// YtDlpResolver resolves a URL to its content identifier and metadata without downloading.
type YtDlpResolver struct {
	ytDlpPath string
}

// NewYtDlpResolver creates a resolver backed by the given yt-dlp binary.
func NewYtDlpResolver(ytDlpPath string) *YtDlpResolver {
	return &YtDlpResolver{ytDlpPath: ytDlpPath}
}

// Resolve returns a metadata-only record; Rhythm, AudioPath and AnalyzedAt are unset.
func (r *YtDlpResolver) Resolve(ctx context.Context, link string) (*model.ContentRecord, error) {
	if err := ValidateURL(link); err != nil {
		return nil, apperr.New(apperr.KindResolution, err)
	}

	out, err := runCommand(ctx, r.ytDlpPath,
		"--dump-single-json",
		"--no-warnings",
		"--skip-download",
		"--no-playlist",
		"--playlist-items", "1",
		link,
	)
	if err != nil {
		return nil, apperr.Errorf(apperr.KindResolution, "resolve %s: %w", link, err)
	}

	rec, err := parseInfo(out, link)
	if err != nil {
		return nil, apperr.New(apperr.KindResolution, err)
	}

	logger.Debug("resolved content",
		logger.SongID(rec.ID),
		logger.String("url", link))
	return rec, nil
}

// ValidateURL accepts only absolute http(s) URLs with a host.
func ValidateURL(link string) error {
	if strings.TrimSpace(link) == "" {
		return errors.New("empty url")
	}
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("malformed url %q: %w", link, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("unsupported url %q: must be absolute http or https", link)
	}
	return nil
}

func parseInfo(data []byte, link string) (*model.ContentRecord, error) {
	var info ytInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unparsable yt-dlp output: %w", err)
	}

	// 播放列表只取第一项
	if info.Type == "playlist" || info.Type == "multi_video" {
		var first *ytInfo
		for _, e := range info.Entries {
			if e != nil {
				first = e
				break
			}
		}
		if first == nil {
			return nil, fmt.Errorf("playlist %s has no entries", link)
		}
		if first.ExtractorKey == "" {
			first.ExtractorKey = info.ExtractorKey
		}
		info = *first
	}

	if info.ID == "" {
		return nil, fmt.Errorf("yt-dlp reported no id for %s", link)
	}

	artist := info.Uploader
	if artist == "" {
		artist = info.Artist
	}
	if artist == "" {
		artist = info.Channel
	}

	return &model.ContentRecord{
		ID:              ContentID(info.ExtractorKey, info.ID),
		Title:           model.StringPtr(info.Title),
		Artist:          model.StringPtr(artist),
		DurationSeconds: model.Float64Ptr(info.Duration),
		UploadDate:      model.StringPtr(info.UploadDate),
		ThumbnailURL:    model.StringPtr(info.Thumbnail),
		SourceLink:      link,
	}, nil
}

// ContentID builds the cache key of a piece of content. YouTube ids are used
// as-is; ids from other extractors are namespaced with the lower-cased
// extractor key, so equal ids on different sites never share a directory.
// Ids that are not safe path elements become a stable hash.
func ContentID(extractorKey, id string) string {
	key := strings.ToLower(extractorKey)
	candidate := id
	if key != "" && !strings.HasPrefix(key, "youtube") {
		candidate = key + "-" + id
	}
	if safeID.MatchString(candidate) {
		return candidate
	}
	sum := sha256.Sum256([]byte(extractorKey + ":" + id))
	return "h" + hex.EncodeToString(sum[:])[:32]
}
