package cleanup

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler removes staged uploads left behind in the temp directory, e.g.
// by a crash between staging and the handler's own cleanup.
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(tempDir string, interval, maxAge time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval
func (s *Scheduler) Start() {
	s.logger.Info("Running initial temp file cleanup...")
	s.CleanOldFiles()

	ticker := time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.CleanOldFiles()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.logger.Info("Cleanup scheduler started",
		zap.Duration("interval", s.interval), zap.Duration("max_age", s.maxAge))
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Info("Cleanup scheduler stopped")
	})
}

// CleanOldFiles removes files older than maxAge and returns how many went
func (s *Scheduler) CleanOldFiles() int {
	now := time.Now()

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > s.maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				s.logger.Warn("Failed to delete old file", zap.String("path", path), zap.Error(err))
			} else {
				deletedCount++
				deletedSize += size
				s.logger.Debug("Deleted old temp file",
					zap.String("file", filepath.Base(path)), zap.Duration("age", age.Round(time.Second)), zap.Int64("size", size))
			}
		}

		return nil
	})

	if err != nil {
		s.logger.Error("Error during cleanup", zap.Error(err))
	}

	if deletedCount > 0 {
		s.logger.Info("Cleanup complete",
			zap.Int("files", deletedCount), zap.Float64("freed_mb", float64(deletedSize)/(1024*1024)))
	}
	return deletedCount
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	return os.MkdirAll(tempDir, 0o755)
}
