package storage

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrStageNotClosed is returned by Sum before the staged file is closed
	ErrStageNotClosed = errors.New("staged file is not closed")
	// ErrStageClosed is returned by Write after Close or Release
	ErrStageClosed = errors.New("staged file is closed")
)

// StagingArea is a private directory where uploads are written and hashed
// before they are published to a ContentStore.
type StagingArea struct {
	dir       string
	algorithm Algorithm
}

// NewStagingArea creates dir if needed and returns a staging area hashing with algorithm
func NewStagingArea(dir string, algorithm Algorithm) (*StagingArea, error) {
	if _, err := algorithm.New(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	return &StagingArea{dir: dir, algorithm: algorithm}, nil
}

// Dir returns the staging directory
func (a *StagingArea) Dir() string {
	return a.dir
}

// Algorithm returns the digest algorithm of staged files
func (a *StagingArea) Algorithm() Algorithm {
	return a.algorithm
}

// Open starts a new staged file. The caller must call Release on every path,
// usually with defer right after Open succeeds.
func (a *StagingArea) Open() (*StagedFile, error) {
	hasher, err := a.algorithm.New()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(a.dir, stagingName())
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	counter := &sizeWriter{}
	return &StagedFile{
		file:    file,
		path:    path,
		hasher:  hasher,
		counter: counter,
		w:       io.MultiWriter(file, hasher, counter),
	}, nil
}

// Sweep removes staging artifacts last modified before now minus maxAge.
// They are left behind only when a process dies mid-upload.
func (a *StagingArea) Sweep(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging dir: %w", err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

// StagedFile is a staging artifact that hashes and counts what is written to it.
// It is not safe for concurrent use.
type StagedFile struct {
	file    *os.File
	path    string
	hasher  hash.Hash
	counter *sizeWriter
	w       io.Writer

	closed   bool
	closeErr error
	released bool
	digest   Digest
	size     int64
}

// Write appends p to the artifact and folds it into the digest
func (s *StagedFile) Write(p []byte) (int, error) {
	if s.closed || s.released {
		return 0, ErrStageClosed
	}
	return s.w.Write(p)
}

// Close flushes the artifact to disk and fixes its digest and size.
// The artifact is kept until Release. A failed Close is final: later calls
// to Close, Sum and Reader return the same error.
func (s *StagedFile) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true

	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		s.closeErr = fmt.Errorf("failed to close staging file: %w", err)
		return s.closeErr
	}

	copy(s.digest[:], s.hasher.Sum(nil))
	s.size = s.counter.Size()
	return nil
}

// Sum returns the digest and byte count of a closed staged file
func (s *StagedFile) Sum() (Digest, int64, error) {
	if !s.closed {
		return Digest{}, 0, ErrStageNotClosed
	}
	if s.closeErr != nil {
		return Digest{}, 0, s.closeErr
	}
	return s.digest, s.size, nil
}

// Path returns the filesystem path of the artifact
func (s *StagedFile) Path() string {
	return s.path
}

// Reader opens the closed artifact for reading
func (s *StagedFile) Reader() (*os.File, error) {
	if !s.closed {
		return nil, ErrStageNotClosed
	}
	if s.closeErr != nil {
		return nil, s.closeErr
	}
	if s.released {
		return nil, ErrStageClosed
	}
	return os.Open(s.path)
}

// Release closes the artifact if needed and deletes it.
// It is safe to call more than once.
func (s *StagedFile) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	if !s.closed {
		_ = s.file.Close()
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	return nil
}
