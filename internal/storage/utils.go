package storage

import (
	"github.com/google/uuid"
)

// stagingName generates an unguessable name for a staging artifact
func stagingName() string {
	return uuid.NewString() + ".part"
}

// sizeWriter counts the bytes written through it
type sizeWriter struct {
	size int64
}

// Write implements io.Writer interface
func (sw *sizeWriter) Write(p []byte) (int, error) {
	n := len(p)
	sw.size += int64(n)
	return n, nil
}

// Size returns the total number of bytes written
func (sw *sizeWriter) Size() int64 {
	return sw.size
}
