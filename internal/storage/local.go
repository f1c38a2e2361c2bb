package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"syscall"
)

// LocalStore is a ContentStore on the local filesystem.
// Blobs live at <root>/<hash[:2]>/<hash>; the location is the part after root.
type LocalStore struct {
	root string
	link func(oldname, newname string) error
}

// NewLocalStore creates root if needed
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content root: %w", err)
	}
	return &LocalStore{root: root, link: os.Link}, nil
}

func (s *LocalStore) location(hash string) string {
	return path.Join(hash[:2], hash)
}

func (s *LocalStore) fullPath(location string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(location)) {
		return "", fmt.Errorf("invalid location %q", location)
	}
	return filepath.Join(s.root, filepath.FromSlash(location)), nil
}

// Publish hard-links the staged file into place, which fails instead of
// replacing an existing blob. When the staging area is on another device the
// content is copied next to the target first and linked from there.
// The staged file is released in every case.
func (s *LocalStore) Publish(ctx context.Context, staged *StagedFile, hash string, mode PublishMode) (string, error) {
	defer staged.Release()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := ParseDigest(hash); err != nil {
		return "", err
	}
	if _, _, err := staged.Sum(); err != nil {
		return "", err
	}

	location := s.location(hash)
	target, err := s.fullPath(location)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob dir: %w", err)
	}

	err = s.link(staged.Path(), target)
	if errors.Is(err, syscall.EXDEV) {
		err = s.copyAndLink(staged, target)
	}
	switch {
	case err == nil:
		return location, nil
	case errors.Is(err, fs.ErrExist):
		if mode == PublishMustNotExist {
			return "", fmt.Errorf("%w: %s", ErrBlobExists, hash)
		}
		return location, nil
	}
	return "", fmt.Errorf("failed to publish blob: %w", err)
}

// copyAndLink copies the staged content to a temporary file in the target's
// directory and links it into place. The temporary file is always removed.
func (s *LocalStore) copyAndLink(staged *StagedFile, target string) error {
	src, err := staged.Reader()
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".publish-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, src)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		return err
	}
	return s.link(tmp.Name(), target)
}

// Open opens the blob at location. The returned *os.File is seekable.
func (s *LocalStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, location)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}
