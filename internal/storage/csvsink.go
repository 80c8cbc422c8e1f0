// Package storage implements the time-based rotating CSV sink (spec §4.6,
// §6.3) and, in its fileindex subpackage, a sqlite index of rotated files.
package storage

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/fsutil"
	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/security"
	"github.com/banshee-data/hwt905-edge/internal/storage/fileindex"
	"github.com/banshee-data/hwt905-edge/internal/timeutil"
)

// StartupMode selects how RotatingCsvSink behaves on construction
// (spec §4.6).
type StartupMode int

const (
	// NewFile always opens a fresh file on startup (the default).
	NewFile StartupMode = iota
	// ContinueFile scans the output directory for the most recent
	// data_*.csv and appends to it if still within its rotation window.
	ContinueFile
)

// rotatedFilePattern matches "data_YYYYMMDD-HHMMSS.csv" filenames.
var rotatedFilePattern = regexp.MustCompile(`^data_(\d{8}-\d{6})\.csv$`)

const filenameTimeLayout = "20060102-150405"

// RotatingCsvSink appends rows of a fixed column schema to a CSV file,
// closing and opening a new one every RotationInterval of wall-clock time.
// Exactly one stage writes to a given sink (spec §5: "written by exactly
// one stage ... no cross-thread writes"), so no internal locking is done.
type RotatingCsvSink struct {
	fields           []string
	outputDir        string
	rotationInterval time.Duration
	fs               fsutil.FileSystem
	clock            timeutil.Clock
	index            *fileindex.DB

	writeCloser   writeCloser
	writer        *csv.Writer
	currentPath   string
	openedAt      time.Time
	headerWritten bool
	rowCount      int
}

type writeCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

// Config configures a RotatingCsvSink.
type Config struct {
	Fields           []string
	OutputDir        string
	RotationInterval time.Duration
	Mode             StartupMode
	FS               fsutil.FileSystem // defaults to OSFileSystem
	Clock            timeutil.Clock    // defaults to RealClock
	Index            *fileindex.DB     // optional; records opens/closes if set
}

// Open constructs a RotatingCsvSink per cfg. In ContinueFile mode it scans
// OutputDir for the most recent data_*.csv and appends to it if still
// within its rotation window; otherwise (or in NewFile mode) it opens a
// fresh file lazily on the first write.
func Open(cfg Config) (*RotatingCsvSink, error) {
	fs := cfg.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.RotationInterval
	if interval <= 0 {
		interval = time.Hour
	}

	if err := fs.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create output directory: %w", err)
	}

	sink := &RotatingCsvSink{
		fields:           cfg.Fields,
		outputDir:        cfg.OutputDir,
		rotationInterval: interval,
		fs:               fs,
		clock:            clock,
		index:            cfg.Index,
	}

	if cfg.Mode == ContinueFile {
		if err := sink.tryContinueExisting(); err != nil {
			monitoring.Logf("storage: continue_file lookup failed, opening fresh: %v", err)
		}
	}

	return sink, nil
}

func (s *RotatingCsvSink) tryContinueExisting() error {
	name, openedAt, ok, err := s.mostRecentRotatedFile()
	if err != nil || !ok {
		return err
	}
	if s.clock.Now().Sub(openedAt) >= s.rotationInterval {
		return nil // stale, will open fresh on first write
	}

	return s.openAppend(filepath.Join(s.outputDir, name), openedAt)
}

// openAppend reopens an existing rotated file and replays its bytes so
// that subsequent WriteRow calls append rather than overwrite. FileSystem
// has no native append mode, so Create (truncate) followed by a replay of
// the prior content is the portable way to do this across both
// OSFileSystem and MemoryFileSystem.
func (s *RotatingCsvSink) openAppend(path string, openedAt time.Time) error {
	if err := security.ValidatePathWithinDirectory(path, s.outputDir); err != nil {
		return fmt.Errorf("storage: refusing to append %s: %w", path, err)
	}

	existing, err := s.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("storage: read existing file for continuation: %w", err)
	}

	wc, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("storage: reopen for append: %w", err)
	}
	if _, err := wc.Write(existing); err != nil {
		wc.Close()
		return fmt.Errorf("storage: replay existing content: %w", err)
	}

	s.writeCloser = wc
	s.writer = csv.NewWriter(wc)
	s.currentPath = path
	s.openedAt = openedAt
	s.headerWritten = len(existing) > 0
	s.rowCount = countLines(existing) - 1
	if s.rowCount < 0 {
		s.rowCount = 0
	}
	return nil
}

func (s *RotatingCsvSink) mostRecentRotatedFile() (name string, openedAt time.Time, ok bool, err error) {
	entries, err := s.listDataFiles()
	if err != nil {
		return "", time.Time{}, false, err
	}
	if len(entries) == 0 {
		return "", time.Time{}, false, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].openedAt.After(entries[j].openedAt) })
	latest := entries[0]
	return latest.name, latest.openedAt, true, nil
}

type dataFileEntry struct {
	name     string
	openedAt time.Time
}

// listDataFiles scans the output directory for rotated data files.
func (s *RotatingCsvSink) listDataFiles() ([]dataFileEntry, error) {
	names, err := s.fs.ListDir(s.outputDir)
	if err != nil {
		return nil, err
	}
	var out []dataFileEntry
	for _, n := range names {
		m := rotatedFilePattern.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation(filenameTimeLayout, m[1], time.Local)
		if err != nil {
			continue
		}
		out = append(out, dataFileEntry{name: n, openedAt: ts})
	}
	return out, nil
}

func countLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return strings.Count(string(b), "\n")
}

// WriteRow appends one row, rotating first if the rotation interval has
// elapsed since the current file was opened (spec §4.6). values must be
// in the same order as Fields.
func (s *RotatingCsvSink) WriteRow(values []string) error {
	now := s.clock.Now()

	if s.writer == nil {
		if err := s.openNewFile(now); err != nil {
			return err
		}
	} else if now.Sub(s.openedAt) >= s.rotationInterval {
		if err := s.rotate(now); err != nil {
			return err
		}
	}

	if !s.headerWritten {
		if err := s.writer.Write(s.fields); err != nil {
			return fmt.Errorf("storage: write header: %w", err)
		}
		s.headerWritten = true
	}

	if err := s.writer.Write(values); err != nil {
		return fmt.Errorf("storage: write row: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	s.rowCount++
	return nil
}

func (s *RotatingCsvSink) openNewFile(now time.Time) error {
	name := fmt.Sprintf("data_%s.csv", now.Format(filenameTimeLayout))
	path := filepath.Join(s.outputDir, name)
	if err := security.ValidatePathWithinDirectory(path, s.outputDir); err != nil {
		return fmt.Errorf("storage: refusing to open %s: %w", path, err)
	}

	wc, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", path, err)
	}
	s.writeCloser = wc
	s.writer = csv.NewWriter(wc)
	s.currentPath = path
	s.openedAt = now
	s.headerWritten = false
	s.rowCount = 0

	if s.index != nil {
		if _, err := s.index.RecordOpen(path, now); err != nil {
			monitoring.Logf("storage: failed to record file open in index: %v", err)
		}
	}
	return nil
}

func (s *RotatingCsvSink) rotate(now time.Time) error {
	if err := s.closeCurrent(); err != nil {
		monitoring.Logf("storage: error closing file during rotation: %v", err)
	}
	return s.openNewFile(now)
}

func (s *RotatingCsvSink) closeCurrent() error {
	if s.writer == nil {
		return nil
	}
	s.writer.Flush()
	err := s.writeCloser.Close()

	if s.index != nil {
		if idxErr := s.index.RecordClose(s.currentPath, s.clock.Now(), s.rowCount); idxErr != nil {
			monitoring.Logf("storage: failed to record file close in index: %v", idxErr)
		}
	}

	s.writer = nil
	s.writeCloser = nil
	return err
}

// Close flushes and closes the current file. Idempotent (spec §4.6).
func (s *RotatingCsvSink) Close() error {
	return s.closeCurrent()
}

// RowCount returns the number of data rows (excluding the header) written
// to the currently open file.
func (s *RotatingCsvSink) RowCount() int {
	return s.rowCount
}

// CurrentFileOpenedAt reports when the current file was opened, zero if
// no file is open yet.
func (s *RotatingCsvSink) CurrentFileOpenedAt() time.Time {
	return s.openedAt
}

// ParseRotatedFilename extracts the open-timestamp encoded in a
// "data_YYYYMMDD-HHMMSS.csv" filename, reporting false for any other name.
func ParseRotatedFilename(name string) (time.Time, bool) {
	m := rotatedFilePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(filenameTimeLayout, m[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
