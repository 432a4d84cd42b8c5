package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"XSlicer/core/apperr"
	"XSlicer/logger"
	"XSlicer/model"

	"github.com/google/uuid"
)

const (
	AudioFileName    = "audio.mp3"
	MetadataFileName = "metadata.json"

	tmpDirName     = ".tmp"
	stagingDirName = ".staging"
)

// ErrNotFound is returned (wrapped in a NotFound apperr) when no record is published for an id.
var ErrNotFound = errors.New("song not found")

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id can be used as a single directory name.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// SongStore is the id-keyed on-disk song cache:
//
//	<root>/<id>/audio.mp3
//	<root>/<id>/metadata.json
//
// A song directory only ever appears through a rename of a fully written
// temporary directory, so a visible directory is always complete.
type SongStore struct {
	root string

	// 串行化本进程内的发布
	mu sync.Mutex
}

// NewSongStore 创建存储目录结构
func NewSongStore(root string) (*SongStore, error) {
	for _, dir := range []string{root, filepath.Join(root, tmpDirName), filepath.Join(root, stagingDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &SongStore{root: root}, nil
}

// Root returns the cache root directory.
func (s *SongStore) Root() string {
	return s.root
}

// Dir returns the published directory of a song.
func (s *SongStore) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// AudioPath returns where the published audio of id lives.
func (s *SongStore) AudioPath(id string) string {
	return filepath.Join(s.root, id, AudioFileName)
}

// StagingRoot is where the fetcher materialises audio before it is published.
func (s *SongStore) StagingRoot() string {
	return filepath.Join(s.root, stagingDirName)
}

// StagedAudio returns previously fetched but unpublished audio for id, if any.
func (s *SongStore) StagedAudio(id string) (string, bool) {
	if !ValidID(id) {
		return "", false
	}
	p := filepath.Join(s.StagingRoot(), id, AudioFileName)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return "", false
	}
	return p, true
}

// Lookup returns the published record for id.
func (s *SongStore) Lookup(id string) (*model.ContentRecord, error) {
	if !ValidID(id) {
		return nil, apperr.Errorf(apperr.KindNotFound, "invalid song id %q: %w", id, ErrNotFound)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(id), MetadataFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Errorf(apperr.KindNotFound, "song %s: %w", id, ErrNotFound)
		}
		return nil, apperr.Errorf(apperr.KindCache, "read metadata for %s: %w", id, err)
	}

	var rec model.ContentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperr.Errorf(apperr.KindCache, "decode metadata for %s: %w", id, err)
	}

	// 外部清理可能只删掉了音频文件
	if _, err := os.Stat(s.AudioPath(id)); err != nil {
		logger.Warn("metadata present but audio missing, treating as miss",
			logger.SongID(id), logger.ErrorField(err))
		return nil, apperr.Errorf(apperr.KindNotFound, "audio for %s missing: %w", id, ErrNotFound)
	}

	return &rec, nil
}

// MetadataBytes returns the raw metadata document of a published song.
func (s *SongStore) MetadataBytes(id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, apperr.Errorf(apperr.KindNotFound, "invalid song id %q: %w", id, ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(id), MetadataFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Errorf(apperr.KindNotFound, "song %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, apperr.New(apperr.KindCache, err)
	}
	return data, nil
}

// Persist publishes rec together with the audio at audioSrc and returns the
// visible record. See Publish.
func (s *SongStore) Persist(rec *model.ContentRecord, audioSrc string) (*model.ContentRecord, error) {
	out, _, err := s.Publish(rec, audioSrc)
	return out, err
}

// Publish publishes rec together with the audio at audioSrc.
//
// If a record for rec.ID is already visible, nothing is written and the
// existing record is returned with published=false. An incomplete song
// directory (metadata or audio removed by housekeeping) is cleared first.
// audioSrc is left in place; callers discard staging once Publish succeeds.
func (s *SongStore) Publish(rec *model.ContentRecord, audioSrc string) (out *model.ContentRecord, published bool, err error) {
	if rec == nil || !ValidID(rec.ID) {
		return nil, false, apperr.Errorf(apperr.KindCache, "refusing to persist record with invalid id")
	}

	if existing, err := s.Lookup(rec.ID); err == nil {
		logger.Debug("song already published, persist is a no-op", logger.SongID(rec.ID))
		return existing, false, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, false, err
	}

	tmpDir := filepath.Join(s.root, tmpDirName, rec.ID+"-"+uuid.NewString())
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, false, apperr.Errorf(apperr.KindCache, "create temp dir: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			os.RemoveAll(tmpDir)
		}
	}()

	if err := linkOrCopy(audioSrc, filepath.Join(tmpDir, AudioFileName)); err != nil {
		return nil, false, apperr.Errorf(apperr.KindCache, "stage audio for %s: %w", rec.ID, err)
	}

	out = rec.Clone()
	out.AudioPath = s.AudioPath(rec.ID)
	doc, err := encodeRecord(out)
	if err != nil {
		return nil, false, apperr.Errorf(apperr.KindCache, "encode metadata for %s: %w", rec.ID, err)
	}
	if err := writeFileSync(filepath.Join(tmpDir, MetadataFileName), doc); err != nil {
		return nil, false, apperr.Errorf(apperr.KindCache, "write metadata for %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.Lookup(rec.ID); err == nil {
		return existing, false, nil
	}
	if err := s.evictIncomplete(rec.ID); err != nil {
		return nil, false, apperr.Errorf(apperr.KindCache, "clear incomplete dir for %s: %w", rec.ID, err)
	}

	if err := os.Rename(tmpDir, s.Dir(rec.ID)); err != nil {
		// 并发写入者或其他进程已经发布
		if existing, lerr := s.Lookup(rec.ID); lerr == nil {
			logger.Info("lost publish race, returning existing record", logger.SongID(rec.ID))
			return existing, false, nil
		}
		return nil, false, apperr.Errorf(apperr.KindCache, "publish %s: %w", rec.ID, err)
	}
	renamed = true
	syncDir(s.root)

	logger.Info("song published",
		logger.SongID(rec.ID),
		logger.String("dir", s.Dir(rec.ID)))
	return out, true, nil
}

// evictIncomplete moves an existing but incomplete song directory out of the
// way so a fresh publish can take its name. A directory that turns out to be
// complete once moved aside was published concurrently and is put back.
func (s *SongStore) evictIncomplete(id string) error {
	dir := s.Dir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	aside := filepath.Join(s.root, tmpDirName, id+"-stale-"+uuid.NewString())
	if err := os.Rename(dir, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if complete(aside) {
		if err := os.Rename(aside, dir); err == nil {
			return nil
		}
	}

	logger.Warn("removing incomplete song directory", logger.SongID(id))
	return os.RemoveAll(aside)
}

func complete(dir string) bool {
	for _, name := range []string{AudioFileName, MetadataFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// DiscardStaging removes staged audio for id.
func (s *SongStore) DiscardStaging(id string) error {
	if !ValidID(id) {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.StagingRoot(), id))
}

// List returns the published ids in lexical order.
func (s *SongStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperr.New(apperr.KindCache, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || !ValidID(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Sweep removes temp directories left behind by interrupted persists.
func (s *SongStore) Sweep() (int, error) {
	tmpRoot := filepath.Join(s.root, tmpDirName)
	entries, err := os.ReadDir(tmpRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(tmpRoot, e.Name())); err != nil {
			logger.Warn("failed to remove temp entry", logger.String("name", e.Name()), logger.ErrorField(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func encodeRecord(rec *model.ContentRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// linkOrCopy hard-links src to dst, falling back to a synced copy across devices.
func linkOrCopy(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
