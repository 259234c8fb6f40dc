package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileStore keeps the token in a single file readable only by the owner.
// Writes go through a temp file and a rename so readers never see a torn value.
type FileStore struct {
	path   string
	logger *slog.Logger
}

var (
	_ TokenStore = (*FileStore)(nil)
	_ Notifier   = (*FileStore)(nil)
)

// NewFileStore creates a file-backed token store at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   filepath.Clean(path),
		logger: logger.With("component", "token_store", "backend", "file"),
	}
}

// Path returns the token file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get reads the token file.
func (s *FileStore) Get(_ context.Context) (string, bool) {
	return s.read()
}

func (s *FileStore) read() (string, bool) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("Failed to read token file, treating as absent", "path", s.path, "error", err)
		return "", false
	}
	token := strings.TrimSpace(string(data))
	return token, token != ""
}

// Set atomically replaces the token file.
func (s *FileStore) Set(_ context.Context, token string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Clear deletes the token file.
func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Watch reports changes to the token file made by any process. The parent
// directory is watched because renames replace the file inode.
func (s *FileStore) Watch(ctx context.Context, fn func(Change)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if token, ok := s.read(); ok {
				fn(Change{Op: ChangeSet, Token: token})
			} else {
				fn(Change{Op: ChangeCleared})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Token file watcher error", "error", err)
		}
	}
}
