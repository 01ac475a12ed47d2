package webdav

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Store is the pluggable persistence layer an embedder supplies for the
// verbs whose default behaviour spec.md §4.7 says embedders override:
// GET and HEAD default to 405 without one; MKCOL, PUT and DELETE need one
// to actually touch a resource. This is the "Request Handler" collaborator
// the WebDAV layer delegates to, kept separate from Handler itself so a
// Handler can be reused across storage backends.
type Store interface {
	// Stat reports size and modification time for fileName, or an error
	// satisfying os.IsNotExist if it does not exist.
	Stat(fileName string) (size int64, modTime time.Time, err error)
	// Open returns a reader for fileName's contents.
	Open(fileName string) (io.ReadCloser, error)
	// Put stores size bytes read from r at fileName, honouring overwrite.
	Put(fileName string, r io.Reader, size int64, overwrite bool) error
	// Mkcol creates fileName as a collection (directory).
	Mkcol(fileName string) error
	// Delete removes fileName.
	Delete(fileName string) error
}

// FileStore is the reference Store grounded on
// original_source/file.{hpp,cpp}'s direct-IO File wrapper: every
// operation maps straight onto the os package rooted at one directory,
// scoped to this package's own test fixtures per SPEC_FULL.md §12's
// supplemented-features note.
type FileStore struct {
	Root string
}

// NewFileStore returns a FileStore rooted at root. root must already
// exist.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (s *FileStore) resolve(fileName string) (string, error) {
	cleaned := filepath.Clean("/" + fileName)
	full := filepath.Join(s.Root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(s.Root)+string(os.PathSeparator)) && full != filepath.Clean(s.Root) {
		return "", errors.Errorf("path escapes store root: %q", fileName)
	}
	return full, nil
}

func (s *FileStore) Stat(fileName string) (int64, time.Time, error) {
	full, err := s.resolve(fileName)
	if err != nil {
		return 0, time.Time{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime(), nil
}

func (s *FileStore) Open(fileName string) (io.ReadCloser, error) {
	full, err := s.resolve(fileName)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *FileStore) Put(fileName string, r io.Reader, size int64, overwrite bool) error {
	full, err := s.resolve(fileName)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, statErr := os.Stat(full); statErr == nil {
			return errors.Errorf("resource %q already exists", fileName)
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(err, "mkdir parent")
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "open destination")
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return errors.Wrap(err, "write destination")
	}
	return nil
}

func (s *FileStore) Mkcol(fileName string) error {
	full, err := s.resolve(fileName)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(full); statErr == nil {
		return errors.Errorf("collection %q already exists", fileName)
	}
	if _, statErr := os.Stat(filepath.Dir(full)); statErr != nil {
		return errors.Wrap(statErr, "parent collection missing")
	}
	return os.Mkdir(full, 0o755)
}

func (s *FileStore) Delete(fileName string) error {
	full, err := s.resolve(fileName)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

// spillFile wraps an unlinked temporary file used to hold a PUT body that
// exceeds the in-memory threshold, mirroring File::createUnlinkedTmpFile:
// the directory entry is removed immediately after creation so the kernel
// reclaims the space the moment the descriptor closes, with no cleanup
// required on crash.
type spillFile struct {
	f *os.File
}

func createSpillFile(tmpDir string) (*spillFile, error) {
	f, err := os.CreateTemp(tmpDir, "webdavd-put-*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp file")
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "unlink temp file")
	}
	return &spillFile{f: f}, nil
}

func (s *spillFile) write(p []byte) error {
	_, err := s.f.Write(p)
	return errors.Wrap(err, "write spill file")
}

func (s *spillFile) readBack() (io.ReadCloser, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek spill file")
	}
	return s.f, nil
}

func (s *spillFile) close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
