// Package storage archives every raw cluster line to daily files.
package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviobatista/dxcluster-proxy/internal/log"
)

const dayLayout = "2006-01-02"

// Storage writes raw cluster lines to dxcluster_YYYY-MM-DD.log, one file per
// UTC day. Files from previous days are gzip-compressed on rotation.
type Storage struct {
	outputDir string
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	file     *os.File
	day      string
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// New creates a new Storage instance
func New(outputDir string) *Storage {
	return &Storage{
		outputDir: outputDir,
		now:       time.Now,
		logger:    log.WithComponent("archive"),
		stopChan:  make(chan struct{}),
	}
}

// Path returns the archive file for a UTC day
func (s *Storage) Path(day time.Time) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("dxcluster_%s.log", day.UTC().Format(dayLayout)))
}

// Start creates the output directory, opens today's file and starts the
// midnight rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	s.mu.Lock()
	err := s.rotateLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.started = true
	s.wg.Add(1)
	go s.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	if s.started {
		close(s.stopChan)
		s.wg.Wait()
		s.started = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// WriteLine appends a timestamped line to the current day's file
func (s *Storage) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if s.file == nil || now.Format(dayLayout) != s.day {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	line = strings.TrimRight(line, "\r\n")
	_, err := fmt.Fprintf(s.file, "%s %s\n", now.Format(time.RFC3339), line)
	return err
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := s.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			s.mu.Lock()
			err := s.rotateLocked()
			s.mu.Unlock()
			if err != nil {
				s.logger.Error().Err(err).Msg("Archive rotation failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

// rotateLocked opens the file for the current day and compresses the
// previous day's file when the day changed
func (s *Storage) rotateLocked() error {
	today := s.now().UTC()
	day := today.Format(dayLayout)
	if s.file != nil && day == s.day {
		return nil
	}

	previous := ""
	if s.file != nil {
		previous = s.file.Name()
		if err := s.file.Close(); err != nil {
			s.logger.Warn().Err(err).Str("file", previous).Msg("Failed to close archive file")
		}
		s.file = nil
	}

	file, err := os.OpenFile(s.Path(today), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	s.file = file
	s.day = day

	if previous != "" {
		if err := compressFile(previous); err != nil {
			return fmt.Errorf("failed to compress %s: %w", previous, err)
		}
		s.logger.Info().Str("file", previous+".gz").Msg("Archive rotated")
	}
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	gzipWriter.Name = filepath.Base(path)

	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
