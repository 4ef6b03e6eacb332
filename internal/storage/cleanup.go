package storage

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RemoveStalePending deletes pending files older than maxAge anywhere in the
// sandbox. They are left behind when the process dies mid-event. It returns
// the number of files removed.
func (s *Sandbox) RemoveStalePending(logger *slog.Logger, maxAge time.Duration) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("failed to read path during cleanup",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), ".") || !strings.HasSuffix(d.Name(), TempSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent pending file",
				slog.String("path", path),
				slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale pending file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		logger.Info("removed stale pending file",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
		removed++
		return nil
	})
	return removed, err
}
