package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestStorage(t *testing.T, start time.Time) (*Storage, *testClock) {
	t.Helper()
	clock := &testClock{now: start}
	storage := New(t.TempDir())
	storage.now = clock.Now
	return storage, clock
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	reader, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Failed to create gzip reader: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read gzip data: %v", err)
	}
	return string(data)
}

func TestNew(t *testing.T) {
	storage := New("/test/output")
	if storage.outputDir != "/test/output" {
		t.Errorf("Expected outputDir to be /test/output, got %s", storage.outputDir)
	}
	if storage.file != nil {
		t.Error("Expected file to be nil initially")
	}
	if storage.stopChan == nil {
		t.Error("Expected stopChan to be initialized")
	}
}

func TestStorage_Path(t *testing.T) {
	storage := New("/archive")
	day := time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC)
	if got := storage.Path(day); got != filepath.Join("/archive", "dxcluster_2026-10-17.log") {
		t.Errorf("Path() = %s", got)
	}
}

func TestStorage_StartAndStop(t *testing.T) {
	storage, _ := newTestStorage(t, time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))

	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := os.Stat(storage.Path(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))); err != nil {
		t.Errorf("Expected today's file to exist: %v", err)
	}
	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestStorage_StartCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")
	storage := New(dir)
	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer storage.Stop()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Expected archive directory to be created: %v", err)
	}
}

func TestStorage_StopWithoutStart(t *testing.T) {
	if err := New(t.TempDir()).Stop(); err != nil {
		t.Errorf("Stop() without Start() failed: %v", err)
	}
}

func TestStorage_WriteLine(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 34, 56, 0, time.UTC)
	storage, _ := newTestStorage(t, now)

	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	lines := []string{
		"DX de W3ABC:     14025.0  JA1XYZ       CW 1234Z",
		"N0CALL de GB7DJK 17-Oct-2026 1234Z >\r\n",
	}
	for _, line := range lines {
		if err := storage.WriteLine(line); err != nil {
			t.Fatalf("WriteLine() failed: %v", err)
		}
	}
	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	want := "2026-10-17T12:34:56Z DX de W3ABC:     14025.0  JA1XYZ       CW 1234Z\n" +
		"2026-10-17T12:34:56Z N0CALL de GB7DJK 17-Oct-2026 1234Z >\n"
	if got := readFile(t, storage.Path(now)); got != want {
		t.Errorf("Unexpected archive contents:\n%q\nwant\n%q", got, want)
	}
}

func TestStorage_WriteLineWithoutStart(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	storage, _ := newTestStorage(t, now)

	if err := storage.WriteLine("hello"); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}
	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if !strings.HasSuffix(readFile(t, storage.Path(now)), " hello\n") {
		t.Error("Expected line to be written to a lazily opened file")
	}
}

func TestStorage_RotatesOnDayChange(t *testing.T) {
	day1 := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 10, 17, 0, 1, 0, 0, time.UTC)
	storage, clock := newTestStorage(t, day1)

	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := storage.WriteLine("before midnight"); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}

	clock.Set(day2)
	if err := storage.WriteLine("after midnight"); err != nil {
		t.Fatalf("WriteLine() failed: %v", err)
	}
	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if _, err := os.Stat(storage.Path(day1)); !os.IsNotExist(err) {
		t.Errorf("Expected previous day's plain file to be removed, stat err: %v", err)
	}
	compressed := readGzip(t, storage.Path(day1)+".gz")
	if !strings.Contains(compressed, "before midnight") {
		t.Errorf("Compressed archive lost data: %q", compressed)
	}
	if today := readFile(t, storage.Path(day2)); !strings.Contains(today, "after midnight") || strings.Contains(today, "before midnight") {
		t.Errorf("Unexpected contents for new day: %q", today)
	}
}

func TestCompressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dxcluster_2026-10-16.log")
	content := strings.Repeat("DX de W3ABC: 14025.0 JA1XYZ CW 1234Z\n", 100)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if err := compressFile(path); err != nil {
		t.Fatalf("compressFile() failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected original file to be removed")
	}
	if got := readGzip(t, path+".gz"); got != content {
		t.Error("Decompressed content does not match original")
	}
}

func TestCompressNonExistentFile(t *testing.T) {
	if err := compressFile(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Error("Expected error compressing a missing file")
	}
}

func TestStorage_StartInvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := New(filepath.Join(file, "archive")).Start(); err == nil {
		t.Error("Expected Start() to fail under a regular file")
	}
}

func TestStorage_ConcurrentWrites(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	storage, _ := newTestStorage(t, now)
	if err := storage.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	const writers = 10
	const perWriter = 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				if err := storage.WriteLine(fmt.Sprintf("writer %d line %d", w, i)); err != nil {
					t.Errorf("WriteLine() failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	if err := storage.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(readFile(t, storage.Path(now)), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Errorf("Expected %d lines, got %d", writers*perWriter, len(lines))
	}
}
