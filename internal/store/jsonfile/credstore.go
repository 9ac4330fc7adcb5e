// Package jsonfile provides JSON file-based persistence for the client.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hay-kot/chatsync/internal/core/auth"
)

// CredentialFile is the root JSON structure stored on disk.
type CredentialFile struct {
	Session *auth.State `json:"session,omitempty"`
}

// CredentialStore implements auth.Store using a JSON file for persistence. The file
// holds a refresh token, so it is written with owner-only permissions.
type CredentialStore struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// NewCredentialStore creates a new credential store at the given path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path, now: time.Now}
}

// lockPath returns the path to the lock file.
func (s *CredentialStore) lockPath() string {
	return s.path + ".lock"
}

// withSharedLock executes fn while holding a shared (read) file lock.
func (s *CredentialStore) withSharedLock(fn func() error) error {
	return s.withFileLock(syscall.LOCK_SH, fn)
}

// withExclusiveLock executes fn while holding an exclusive (write) file lock.
// Two clients started from the same data directory never interleave writes.
func (s *CredentialStore) withExclusiveLock(fn func() error) error {
	return s.withFileLock(syscall.LOCK_EX, fn)
}

// withFileLock acquires a file lock, executes fn, then releases the lock.
func (s *CredentialStore) withFileLock(lockType int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Load returns the persisted session. Returns auth.ErrNoSession if none is stored.
func (s *CredentialStore) Load(ctx context.Context) (auth.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var file CredentialFile
	err := s.withSharedLock(func() error {
		var err error
		file, err = s.load()
		return err
	})
	if err != nil {
		return auth.State{}, err
	}

	if file.Session == nil || file.Session.RefreshToken == "" {
		return auth.State{}, auth.ErrNoSession
	}

	return *file.Session, nil
}

// Save replaces the persisted session.
func (s *CredentialStore) Save(ctx context.Context, state auth.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.now()
	}

	return s.withExclusiveLock(func() error {
		return s.save(CredentialFile{Session: &state})
	})
}

// Clear removes the persisted session. The file is rewritten empty rather than
// deleted so the lock file and directory stay valid for concurrent readers.
func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withExclusiveLock(func() error {
		return s.save(CredentialFile{})
	})
}

// load reads the credential file from disk.
// Returns an empty CredentialFile if the file doesn't exist.
func (s *CredentialStore) load() (CredentialFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CredentialFile{}, nil
		}
		return CredentialFile{}, fmt.Errorf("read credentials file: %w", err)
	}

	if len(data) == 0 {
		return CredentialFile{}, nil
	}

	var file CredentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return CredentialFile{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return file, nil
}

// save writes the credential file to disk atomically.
func (s *CredentialStore) save(file CredentialFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
