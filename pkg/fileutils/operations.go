package fileutils

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

const dirMode = 0755

// Store performs the primitive file operations everything else is built on.
// Every method creates missing parent directories of its destination.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Exists reports whether anything is present at path. Errors other than "not
// found" are returned so that callers never mistake an unreadable path for a
// free one.
func (s *Store) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.WithStack(err)
}

func (s *Store) MkdirAll(dir string) error {
	return errors.WithStack(os.MkdirAll(dir, dirMode))
}

// Rename moves src to dst with a single rename call. It fails if the two are
// on different filesystems.
func (s *Store) Rename(src, dst string) error {
	if err := s.MkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}
	return errors.WithStack(os.Rename(src, dst))
}

// Move renames src to dst and falls back to copy then delete when the
// destination is on another device.
func (s *Store) Move(src, dst string) error {
	if err := s.MkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return errors.WithStack(err)
	}

	return s.CopyThenDelete(src, dst)
}

// SourceRemoveError is returned by CopyThenDelete when the copy at
// Destination is complete but Source could not be removed.
type SourceRemoveError struct {
	Source      string
	Destination string
	Err         error
}

func (e *SourceRemoveError) Error() string {
	return "copied " + e.Source + " but could not remove it: " + e.Err.Error()
}

func (e *SourceRemoveError) Unwrap() error {
	return e.Err
}

// CopyThenDelete copies src to dst and removes src once the copy is complete.
// A failed copy leaves no partial destination behind. If the source can't be
// removed the copy at dst is kept and a *SourceRemoveError is returned; the
// caller decides what to do with the stray copy.
func (s *Store) CopyThenDelete(src, dst string) error {
	if err := s.Copy(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return &SourceRemoveError{Source: src, Destination: dst, Err: errors.WithStack(err)}
	}
	return nil
}

// Copy copies src to dst, preserving the file mode.
func (s *Store) Copy(src, dst string) error {
	if err := s.MkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}
	err := copyFile(src, dst)
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// Remove deletes path. A missing path is not an error.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// RemoveAll deletes dir and everything below it.
func (s *Store) RemoveAll(dir string) error {
	return errors.WithStack(os.RemoveAll(dir))
}

// copyFile copies a file from source to destination.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return errors.WithStack(err)
	}

	// Copy file permissions
	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	err = destFile.Chmod(sourceInfo.Mode())
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(destFile.Sync())
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}
