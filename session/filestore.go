package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// sessionFile is the on-disk layout. Several profiles (one per API
// environment, say) can share a file without clobbering each other.
type sessionFile struct {
	Sessions map[string]Tokens `json:"sessions"` // key = profile
}

// FileStore persists the session as JSON in a local file.
// Both tokens live in one file written through an atomic rename, so a reader
// never sees them out of step.
type FileStore struct {
	path    string
	profile string
	logger  *zap.Logger
}

// NewFileStore creates a FileStore for profile backed by path.
func NewFileStore(path, profile string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, profile: profile, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(ctx context.Context, key string) string {
	return s.Load(ctx).get(key)
}

func (s *FileStore) Load(_ context.Context) Tokens {
	f, err := s.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("token file unreadable, treating session as absent",
				zap.String("path", s.path), zap.Error(err))
		}
		return Tokens{}
	}
	return f.Sessions[s.profile]
}

func (s *FileStore) Set(ctx context.Context, tokens Tokens) error {
	err := s.update(ctx, func(f *sessionFile) {
		f.Sessions[s.profile] = tokens
	})
	if err != nil {
		return &StoreError{Operation: "save", Backend: "file", Cause: err}
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) {
	err := s.update(ctx, func(f *sessionFile) {
		delete(f.Sessions, s.profile)
	})
	if err != nil {
		s.logger.Warn("failed to clear token file", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *FileStore) read() (*sessionFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &f, nil
}

// update applies fn to the file contents under the cross-process lock.
func (s *FileStore) update(ctx context.Context, fn func(*sessionFile)) error {
	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			s.logger.Warn("failed to release lock", zap.Error(releaseErr))
		}
	}()

	// Read inside the lock; a corrupt file starts over empty
	f, err := s.read()
	if err != nil {
		f = &sessionFile{}
	}
	if f.Sessions == nil {
		f.Sessions = make(map[string]Tokens)
	}

	fn(f)

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
