package storage

import (
	"strconv"
	"testing"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/fsutil"
	"github.com/banshee-data/hwt905-edge/internal/timeutil"
)

func newTestSink(t *testing.T, clock *timeutil.MockClock, mode StartupMode) (*RotatingCsvSink, *fsutil.MemoryFileSystem) {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	sink, err := Open(Config{
		Fields:           []string{"timestamp", "angle_z"},
		OutputDir:        "/data",
		RotationInterval: time.Second,
		Mode:             mode,
		FS:               fs,
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return sink, fs
}

// TestRotationEvery1sAt200Hz models spec §8.3 scenario 7: a 1s rotation
// interval fed a 200Hz stream for 3.5s of wall-clock time should produce
// exactly 4 files whose combined row count equals the packets delivered.
func TestRotationEvery1sAt200Hz(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	sink, fs := newTestSink(t, clock, NewFile)
	defer sink.Close()

	const hz = 200
	const totalSeconds = 3.5
	n := int(hz * totalSeconds)
	dt := time.Second / hz

	for i := 0; i < n; i++ {
		if err := sink.WriteRow([]string{strconv.Itoa(i), "0.0"}); err != nil {
			t.Fatalf("WriteRow(%d): %v", i, err)
		}
		clock.Advance(dt)
	}

	names, err := fs.ListDir("/data")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("got %d files, want 4: %v", len(names), names)
	}

	totalRows := 0
	for _, name := range names {
		data, err := fs.ReadFile("/data/" + name)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		lines := countLines(data)
		totalRows += lines - 1 // minus header
	}
	if totalRows != n {
		t.Errorf("total data rows = %d, want %d", totalRows, n)
	}
}

func filenameAt(t time.Time) string {
	return "data_" + t.Format(filenameTimeLayout) + ".csv"
}

// TestHeaderWrittenOnceAcrossRotation covers spec §8.2: the header row
// must appear exactly once per file, never repeated mid-file.
func TestHeaderWrittenOnceAcrossRotation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	sink, fs := newTestSink(t, clock, NewFile)

	for i := 0; i < 5; i++ {
		if err := sink.WriteRow([]string{strconv.Itoa(i), "1.0"}); err != nil {
			t.Fatalf("WriteRow: %v", err)
		}
	}
	firstFile := filenameAt(sink.openedAt)
	sink.Close()

	data, err := fs.ReadFile("/data/" + firstFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := countOccurrences(string(data), "timestamp,angle_z"); got != 1 {
		t.Errorf("header appears %d times, want exactly 1", got)
	}
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}

// TestContinueFileAppendsWithinWindow covers the continue_file startup
// mode (spec §4.6): reopening soon after a crash within the same rotation
// window should append to the existing file rather than starting a new
// one, and must not rewrite the header.
func TestContinueFileAppendsWithinWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)

	fs := fsutil.NewMemoryFileSystem()
	first, err := Open(Config{
		Fields:           []string{"timestamp", "angle_z"},
		OutputDir:        "/data",
		RotationInterval: 10 * time.Second,
		Mode:             NewFile,
		FS:               fs,
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.WriteRow([]string{"0", "1.0"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	openedName := filenameAt(first.openedAt)
	first.Close()

	clock.Advance(time.Second) // still within the 10s rotation window

	second, err := Open(Config{
		Fields:           []string{"timestamp", "angle_z"},
		OutputDir:        "/data",
		RotationInterval: 10 * time.Second,
		Mode:             ContinueFile,
		FS:               fs,
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("Open (continue): %v", err)
	}
	defer second.Close()

	if err := second.WriteRow([]string{"1", "2.0"}); err != nil {
		t.Fatalf("WriteRow after continue: %v", err)
	}

	names, err := fs.ListDir("/data")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("got %d files, want 1 (continued, not rotated): %v", len(names), names)
	}

	data, err := fs.ReadFile("/data/" + openedName)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := countOccurrences(string(data), "timestamp,angle_z"); got != 1 {
		t.Errorf("header appears %d times after continuation, want 1", got)
	}
	if got := countLines(data) - 1; got != 2 {
		t.Errorf("row count after continuation = %d, want 2", got)
	}
}

// TestContinueFileOpensFreshWhenStale covers the case where the most
// recent file is older than the rotation interval: continue_file must
// start a new file rather than appending to a stale one.
func TestContinueFileOpensFreshWhenStale(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	fs := fsutil.NewMemoryFileSystem()

	first, err := Open(Config{
		Fields:           []string{"timestamp", "angle_z"},
		OutputDir:        "/data",
		RotationInterval: time.Second,
		Mode:             NewFile,
		FS:               fs,
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.WriteRow([]string{"0", "1.0"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	first.Close()

	clock.Advance(5 * time.Second) // well past the 1s rotation window

	second, err := Open(Config{
		Fields:           []string{"timestamp", "angle_z"},
		OutputDir:        "/data",
		RotationInterval: time.Second,
		Mode:             ContinueFile,
		FS:               fs,
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("Open (continue): %v", err)
	}
	defer second.Close()

	if err := second.WriteRow([]string{"1", "2.0"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}

	names, err := fs.ListDir("/data")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d files, want 2 (stale file left alone, fresh one opened): %v", len(names), names)
	}
}

func TestParseRotatedFilename(t *testing.T) {
	ts, ok := ParseRotatedFilename("data_20260115-093000.csv")
	if !ok {
		t.Fatal("expected a match")
	}
	if ts.Year() != 2026 || ts.Month() != time.January || ts.Day() != 15 {
		t.Errorf("parsed date wrong: %v", ts)
	}
	if _, ok := ParseRotatedFilename("not-a-data-file.csv"); ok {
		t.Error("expected no match for unrelated filename")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	sink, _ := newTestSink(t, clock, NewFile)
	if err := sink.WriteRow([]string{"0", "1.0"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
