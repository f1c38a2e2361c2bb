package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrBlobExists is returned by Publish in PublishMustNotExist mode
	ErrBlobExists = errors.New("blob already exists")
	// ErrBlobNotFound is returned by Open for an unknown location
	ErrBlobNotFound = errors.New("blob not found")
)

// PublishMode selects how Publish treats an already published hash
type PublishMode int

const (
	// PublishIdempotent discards the staged copy and returns the existing location
	PublishIdempotent PublishMode = iota
	// PublishMustNotExist fails with ErrBlobExists
	PublishMustNotExist
)

// ContentStore keeps one write-once blob per content hash
type ContentStore interface {
	// Publish makes a closed staged file visible under a location derived from hash.
	// Readers never observe a partially published blob.
	Publish(ctx context.Context, staged *StagedFile, hash string, mode PublishMode) (string, error)
	// Open returns a reader of the blob at location. The reader also implements
	// io.Seeker when the backend supports random access.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}
