// Package scratch manages short-lived audio files: uploads that live for one
// request and diagnostic dumps of streamed audio.
package scratch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
)

// Store 管理临时音频文件目录。
type Store struct {
	dir     string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// File is a scratch file owned by one request or connection.
type File struct {
	Path string
	Size int64

	store *Store
}

// New 创建临时文件存储，目录不存在时自动创建。
func New(dir string, m *metrics.Metrics) (*Store, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Store{dir: dir, metrics: m, log: logger.Component("scratch")}, nil
}

// Dir returns the scratch directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies r into a new uniquely named file. The caller must Remove it.
func (s *Store) Save(r io.Reader, ext string) (*File, error) {
	path := filepath.Join(s.dir, uuid.NewString()+normalizeExt(ext))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		s.remove(path)
		if copyErr != nil {
			return nil, fmt.Errorf("write scratch file: %w", copyErr)
		}
		return nil, fmt.Errorf("close scratch file: %w", closeErr)
	}

	return &File{Path: path, Size: n, store: s}, nil
}

// Create opens a time-ordered append file for a streaming dump. prefix names
// the producer, e.g. "streamed".
func (s *Store) Create(prefix, ext string) (*os.File, error) {
	name := fmt.Sprintf("%s_%s%s", prefix, ulid.Make().String(), normalizeExt(ext))
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	return f, nil
}

// Remove deletes the file. Failures are logged, never returned.
func (f *File) Remove() {
	if f == nil || f.store == nil {
		return
	}
	f.store.remove(f.Path)
}

func (s *Store) remove(path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		s.metrics.ScratchRemoved(1)
	case !os.IsNotExist(err):
		s.log.Warn().Err(err).Str("path", path).Msg("failed to remove scratch file")
	}
}

// Sweep removes regular files older than maxAge and reports how many went.
func (s *Store) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list scratch dir")
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("failed to sweep scratch file")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.metrics.ScratchRemoved(removed)
		s.log.Info().Int("removed", removed).Msg("scratch sweep complete")
	}
	return removed
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ".bin"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	// Uploaded names are untrusted; keep only the extension's base.
	return filepath.Base(ext)
}
