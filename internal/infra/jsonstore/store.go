// Package jsonstore provides a JSON file guarded by an advisory file lock.
// Reads take a shared lock, writes take an exclusive lock and replace the
// file atomically through a temp file and rename.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrNotExist is returned by Read when the file has never been written.
var ErrNotExist = errors.New("store file does not exist")

// File stores a single JSON document of type T.
type File[T any] struct {
	path     string
	lockPath string
}

// New creates a File for the given path.
// The file does not need to exist; it will be created on first write.
func New[T any](path string) *File[T] {
	return &File[T]{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Path returns the document path.
func (s *File[T]) Path() string {
	return s.path
}

// Exists reports whether the document has been written.
func (s *File[T]) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read calls fn with the current document under a shared lock.
// Returns ErrNotExist if the file is missing.
func (s *File[T]) Read(fn func(*T) error) error {
	lock, err := s.acquireLock(syscall.LOCK_SH)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	data, err := s.read()
	if err != nil {
		return err
	}
	return fn(data)
}

// Update calls fn with the current document (zero value if missing) under an
// exclusive lock and writes the result unless fn fails.
func (s *File[T]) Update(fn func(*T) error) error {
	lock, err := s.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	data, err := s.read()
	if errors.Is(err, ErrNotExist) {
		data, err = new(T), nil
	}
	if err != nil {
		return err
	}

	if err := fn(data); err != nil {
		return err
	}
	return s.write(data)
}

// Lock runs fn while holding the exclusive lock without touching the document.
// Callers use it to serialize multi-document operations.
func (s *File[T]) Lock(fn func() error) error {
	lock, err := s.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)
	return fn()
}

// Remove deletes the document and its lock file.
func (s *File[T]) Remove() error {
	lock, err := s.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	err = os.Remove(s.path)
	s.releaseLock(lock)
	_ = os.Remove(s.lockPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove store file: %w", err)
	}
	return nil
}

func (s *File[T]) acquireLock(lockType int) (*os.File, error) {
	// Ensure lock file directory exists
	dir := filepath.Dir(s.lockPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(lock.Fd()), lockType); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return lock, nil
}

func (s *File[T]) releaseLock(lock *os.File) {
	_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	_ = lock.Close()
}

func (s *File[T]) read() (*T, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}

	var data T
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", s.path, err)
	}
	return &data, nil
}

func (s *File[T]) write(data *T) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store data: %w", err)
	}

	// Write to temp file first, then rename for atomicity
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath) // Clean up
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
