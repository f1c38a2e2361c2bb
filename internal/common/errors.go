// Package common defines the error kinds shared by the storage, catalog and
// transport layers. Callers match them with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed request. No state is mutated when it is returned.
	ErrValidation = errors.New("validation error")

	// ErrUnknownMediaType marks a content type outside the supported MIME types.
	ErrUnknownMediaType = fmt.Errorf("%w: unknown media type", ErrValidation)

	// ErrNotFound marks an unknown media identity or file info row.
	ErrNotFound = errors.New("not found")

	// ErrStorageIO marks a staging, publish or blob read failure.
	ErrStorageIO = errors.New("storage io error")

	// ErrCatalogWrite marks a failure to persist a media record after its
	// content was already published.
	ErrCatalogWrite = errors.New("catalog write error")
)
