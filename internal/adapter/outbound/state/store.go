package state

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// masterKeySize is the AES-256 key length for the credential store.
const masterKeySize = 32

// DefaultDir returns the default state directory, ~/.toolgate.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".toolgate"), nil
}

// Store manages the state directory: state.json, the pid file, and the
// credential master key. Safe for concurrent use within one process;
// cross-process writes are serialized with flock.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating the directory with
// restricted permissions when it does not exist.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, "state.json")
}

// PIDPath returns the daemon pid file path.
func (s *Store) PIDPath() string {
	return filepath.Join(s.dir, "tool-gate.pid")
}

func (s *Store) masterKeyPath() string {
	return filepath.Join(s.dir, "master.key")
}

// Load reads and parses state.json. A missing file returns DefaultState().
// Too-open permissions on an existing file are logged, not fixed.
func (s *Store) Load() (*AppState, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("state file not found, using default state", "path", s.statePath())
			return DefaultState(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Unix permission bits are meaningless on Windows.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.statePath()); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("state.json has too-open permissions, should be 0600",
					"path", s.statePath(), "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &state, nil
}

// Save writes the AppState to disk atomically.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on state.json.lock
//  3. Copy current file to state.json.bak (skipped when no current file)
//  4. Marshal state as indented JSON
//  5. Write to state.json.tmp with 0600 permissions, fsync
//  6. Rename state.json.tmp -> state.json
//  7. Release flock, release mutex
func (s *Store) Save(state *AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()

	lockFile, err := os.OpenFile(s.statePath()+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.statePath()); readErr == nil {
		if writeErr := os.WriteFile(s.statePath()+".bak", currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(s.statePath(), data); err != nil {
		return err
	}
	if err := os.Chmod(s.statePath(), 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.statePath())
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}

// DefaultState returns a fresh AppState with no admin key enrolled.
func DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{
		Version:   "1",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Exists reports whether state.json exists on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.statePath())
	return err == nil
}

// MasterKey returns the credential master key, generating and persisting a
// new one (0600) on first use.
func (s *Store) MasterKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.masterKeyPath())
	if err == nil {
		if len(data) != masterKeySize {
			return nil, fmt.Errorf("master key has wrong size %d, expected %d", len(data), masterKeySize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := s.writeAtomic(s.masterKeyPath(), key); err != nil {
		return nil, fmt.Errorf("persist master key: %w", err)
	}
	s.logger.Info("generated credential master key", "path", s.masterKeyPath())
	return key, nil
}

// WritePID records the daemon's process id.
func (s *Store) WritePID(pid int) error {
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(s.PIDPath(), data, 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPID returns the recorded daemon pid, or an error when no daemon has
// written one.
func (s *Store) ReadPID() (int, error) {
	data, err := os.ReadFile(s.PIDPath())
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}

// RemovePID deletes the pid file. Missing files are not an error.
func (s *Store) RemovePID() error {
	err := os.Remove(s.PIDPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Reset removes every file the store manages. The directory itself stays.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{
		"state.json", "state.json.bak", "state.json.lock", "state.json.tmp",
		"master.key", "tool-gate.pid",
	} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}
