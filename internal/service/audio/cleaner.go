package audio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TempPrefix префикс временных WAV-файлов сессий: ptt_<id>.wav
const TempPrefix = "ptt_"

// TempPath путь временного файла для сессии id в каталоге dir (пусто — системный temp).
func TempPath(dir, id string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, TempPrefix+id+".wav")
}

// Cleaner удаляет временные WAV, оставшиеся после аварийного завершения.
type Cleaner struct {
	logger *zap.SugaredLogger
}

func NewCleaner(logger *zap.SugaredLogger) *Cleaner { return &Cleaner{logger: logger} }

// Clean удаляет файлы ptt_*.wav старше ttl из dir. Возвращает число удалённых.
func (c *Cleaner) Clean(dir string, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	if dir == "" {
		dir = os.TempDir()
	}

	deadline := time.Now().Add(-ttl)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0
		}
		c.logger.Warnw("Failed to read temp dir for cleanup", "dir", dir, "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, TempPrefix) || !strings.HasSuffix(strings.ToLower(name), ".wav") {
			continue
		}
		fi, statErr := e.Info()
		if statErr != nil {
			c.logger.Warnw("Failed to stat temp file during cleanup", "name", name, "error", statErr)
			continue
		}
		if fi.ModTime().Before(deadline) {
			full := filepath.Join(dir, name)
			if err := os.Remove(full); err != nil {
				c.logger.Warnw("Failed to remove stale temp file", "path", full, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		c.logger.Infow("Removed stale recordings", "dir", dir, "removed", removed)
	}
	return removed
}
