// Package audit provides the file-backed audit sink: JSON Lines output with
// daily and size-based rotation, optional gzip of rotated files, and
// retention cleanup.
package audit

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// FileConfig holds configuration for the file sink.
type FileConfig struct {
	// Dir is the directory audit files are written to.
	Dir string
	// RetentionDays is how many days of files to keep (default 7).
	RetentionDays int
	// MaxFileSizeMB is the size cap before rotation (default 100).
	MaxFileSizeMB int
	// Compress gzips rotated files. The active file is never compressed.
	Compress bool
}

// logFileInfo is one parsed audit filename.
type logFileInfo struct {
	name       string
	date       string
	suffix     int
	compressed bool
}

// logFilePattern matches audit-YYYY-MM-DD.log, audit-YYYY-MM-DD-N.log, and
// their .gz forms.
var logFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log(\.gz)?$`)

func parseLogFilename(name string) (logFileInfo, bool) {
	m := logFilePattern.FindStringSubmatch(name)
	if m == nil {
		return logFileInfo{}, false
	}
	info := logFileInfo{name: name, date: m[1], compressed: m[3] != ""}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return logFileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortLogFiles orders files chronologically: by date, then suffix.
func sortLogFiles(files []logFileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileSink persists flushed audit batches as JSON Lines. Rotation happens on
// date change and on the size cap; retention cleanup runs hourly.
type FileSink struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	compress      bool
	logger        *slog.Logger

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileSink opens today's audit file, runs retention cleanup, and starts
// the hourly cleanup loop.
func NewFileSink(cfg FileConfig, logger *slog.Logger) (*FileSink, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileSink{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		compress:      cfg.Compress,
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		close(s.done)
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.runCleanup()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Persist implements the sink port. Each entry becomes one JSON line in the
// file for its timestamp's date.
func (s *FileSink) Persist(_ context.Context, entries []*audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit file sink is closed")
	}

	for _, e := range entries {
		dateStr := e.Timestamp.UTC().Format("2006-01-02")
		if dateStr != s.currentDate {
			if err := s.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		s.currentSize += int64(n)
	}

	return nil
}

// Query implements the queryable sink port by scanning files in
// chronological order, oldest first. The date predicates in the filter
// prune whole files before any line is read.
func (s *FileSink) Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.Lock()
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
	}
	s.mu.Unlock()

	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	var out []*audit.Entry
	for _, info := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !fileInRange(info.date, filter) {
			continue
		}
		done, err := s.scanFile(info, filter, &out)
		if err != nil {
			s.logger.Warn("audit query: skipping unreadable file",
				"file", info.name, "error", err)
			continue
		}
		if done {
			break
		}
	}
	return out, nil
}

// fileInRange reports whether a file dated dateStr can contain matches.
func fileInRange(dateStr string, f audit.Filter) bool {
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return true
	}
	if !f.StartTime.IsZero() && day.Add(24*time.Hour).Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && day.After(f.EndTime) {
		return false
	}
	return true
}

// scanFile appends matches from one file to out. Returns true once the
// filter's limit is reached.
func (s *FileSink) scanFile(info logFileInfo, filter audit.Filter, out *[]*audit.Entry) (bool, error) {
	f, err := os.Open(filepath.Join(s.dir, info.name))
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if info.compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return false, err
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			s.logger.Warn("audit query: skipping malformed line",
				"file", info.name, "error", err)
			continue
		}
		if !filter.Matches(&e) {
			continue
		}
		*out = append(*out, &e)
		if filter.Limit > 0 && len(*out) >= filter.Limit {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Close syncs and closes the active file and stops the cleanup loop.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return err
}

func (s *FileSink) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)
	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

func (s *FileSink) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseLogFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (s *FileSink) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := buildFilename(dateStr, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}
	return f, st.Size(), nil
}

func buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", dateStr)
	}
	return fmt.Sprintf("audit-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked closes the current file and opens one for the new date.
// Must be called with s.mu held.
func (s *FileSink) rotateDateLocked(dateStr string) error {
	closedName := s.closeCurrentLocked()
	s.currentSuffix = 0
	s.currentSize = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	s.compressRotated(closedName)
	return nil
}

// rotateSizeLocked closes the current file and opens the next suffix.
// Must be called with s.mu held.
func (s *FileSink) rotateSizeLocked() error {
	closedName := s.closeCurrentLocked()
	s.currentSuffix++
	s.currentSize = 0

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	s.compressRotated(closedName)
	return nil
}

// closeCurrentLocked closes the active file and returns its name.
func (s *FileSink) closeCurrentLocked() string {
	if s.currentFile == nil {
		return ""
	}
	name := buildFilename(s.currentDate, s.currentSuffix)
	_ = s.currentFile.Sync()
	_ = s.currentFile.Close()
	s.currentFile = nil
	return name
}

// compressRotated gzips a closed file in place when compression is enabled.
// Failures leave the uncompressed file behind; nothing is lost.
func (s *FileSink) compressRotated(name string) {
	if !s.compress || name == "" {
		return
	}
	src := filepath.Join(s.dir, name)
	dst := src + ".gz"

	in, err := os.Open(src)
	if err != nil {
		s.logger.Warn("audit compression: open failed", "file", name, "error", err)
		return
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		s.logger.Warn("audit compression: create failed", "file", name, "error", err)
		return
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		_ = out.Close()
		_ = os.Remove(dst)
		s.logger.Warn("audit compression: copy failed", "file", name, "error", err)
		return
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		s.logger.Warn("audit compression: finalize failed", "file", name, "error", err)
		return
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return
	}
	_ = os.Remove(src)
}

// listFiles returns parsed audit files in chronological order, preferring
// the compressed form when both exist for the same date and suffix.
func (s *FileSink) listFiles() ([]logFileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit directory: %w", err)
	}

	byKey := make(map[string]logFileInfo)
	for _, e := range entries {
		info, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}
		key := info.date + "#" + strconv.Itoa(info.suffix)
		if prev, seen := byKey[key]; seen && prev.compressed {
			continue
		}
		byKey[key] = info
	}

	files := make([]logFileInfo, 0, len(byKey))
	for _, info := range byKey {
		files = append(files, info)
	}
	sortLogFiles(files)
	return files, nil
}

// runCleanup deletes files older than the retention period.
func (s *FileSink) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: read directory failed", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, e := range entries {
		info, ok := parseLogFilename(e.Name())
		if !ok {
			continue
		}
		day, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				s.logger.Error("audit cleanup: delete failed", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}
	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileSink) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// ActiveFilename returns the basename of the file currently written to.
// Test helper.
func (s *FileSink) ActiveFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return buildFilename(s.currentDate, s.currentSuffix)
}

// Compile-time interface verification.
var _ outbound.QueryableSink = (*FileSink)(nil)
