package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalFixture(t *testing.T) (*StagingArea, *LocalStore) {
	t.Helper()
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)
	area, err := NewStagingArea(filepath.Join(root, "tmp"), AlgorithmSHA256)
	require.NoError(t, err)
	return area, store
}

func publishBytes(t *testing.T, area *StagingArea, store ContentStore, data []byte, mode PublishMode) (string, error) {
	t.Helper()
	staged := stageBytes(t, area, data)
	digest, _, err := staged.Sum()
	require.NoError(t, err)
	return store.Publish(context.Background(), staged, digest.String(), mode)
}

func readAll(t *testing.T, store ContentStore, location string) []byte {
	t.Helper()
	rc, err := store.Open(context.Background(), location)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestLocalStore_PublishAndOpen(t *testing.T) {
	area, store := newLocalFixture(t)
	data := []byte("blob content")

	staged := stageBytes(t, area, data)
	digest, _, err := staged.Sum()
	require.NoError(t, err)

	location, err := store.Publish(context.Background(), staged, digest.String(), PublishIdempotent)
	require.NoError(t, err)
	assert.Equal(t, digest.String()[:2]+"/"+digest.String(), location)
	assert.NoFileExists(t, staged.Path())
	assert.Equal(t, data, readAll(t, store, location))

	rc, err := store.Open(context.Background(), location)
	require.NoError(t, err)
	defer rc.Close()
	_, seekable := rc.(io.Seeker)
	assert.True(t, seekable)
}

func TestLocalStore_PublishDuplicate(t *testing.T) {
	area, store := newLocalFixture(t)
	data := []byte("same bytes")

	first, err := publishBytes(t, area, store, data, PublishIdempotent)
	require.NoError(t, err)

	second, err := publishBytes(t, area, store, data, PublishIdempotent)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = publishBytes(t, area, store, data, PublishMustNotExist)
	assert.ErrorIs(t, err, ErrBlobExists)

	entries, err := os.ReadDir(area.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_ConcurrentPublish(t *testing.T) {
	area, store := newLocalFixture(t)
	data := []byte("raced content")

	const writers = 16
	locations := make([]string, writers)
	errs := make([]error, writers)

	staged := make([]*StagedFile, writers)
	for i := range staged {
		staged[i] = stageBytes(t, area, data)
	}
	digest, _, err := staged[0].Sum()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locations[i], errs[i] = store.Publish(context.Background(), staged[i], digest.String(), PublishIdempotent)
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, locations[0], locations[i])
	}
	assert.Equal(t, data, readAll(t, store, locations[0]))
}

func TestLocalStore_PublishRejects(t *testing.T) {
	area, store := newLocalFixture(t)

	t.Run("invalid hash", func(t *testing.T) {
		staged := stageBytes(t, area, []byte("x"))
		_, err := store.Publish(context.Background(), staged, "../../etc/passwd", PublishIdempotent)
		assert.Error(t, err)
		assert.NoFileExists(t, staged.Path())
	})

	t.Run("not closed", func(t *testing.T) {
		staged, err := area.Open()
		require.NoError(t, err)
		_, err = store.Publish(context.Background(), staged, strings.Repeat("0", 64), PublishIdempotent)
		assert.ErrorIs(t, err, ErrStageNotClosed)
		assert.NoFileExists(t, staged.Path())
	})

	t.Run("cancelled context", func(t *testing.T) {
		staged := stageBytes(t, area, []byte("x"))
		digest, _, err := staged.Sum()
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = store.Publish(ctx, staged, digest.String(), PublishIdempotent)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, filepath.Join(store.root, digest.String()[:2], digest.String()))
	})
}

func TestLocalStore_OpenMissing(t *testing.T) {
	_, store := newLocalFixture(t)

	_, err := store.Open(context.Background(), "ab/abcdef")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = store.Open(context.Background(), "../outside")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlobNotFound)
}

// crossDevice makes links out of the staging area fail like they do across filesystems
func crossDevice(area *StagingArea, store *LocalStore) {
	store.link = func(oldname, newname string) error {
		if filepath.Dir(oldname) == area.dir {
			return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: syscall.EXDEV}
		}
		return os.Link(oldname, newname)
	}
}

func TestLocalStore_PublishCrossDevice(t *testing.T) {
	area, store := newLocalFixture(t)
	crossDevice(area, store)
	data := []byte("hello")

	staged := stageBytes(t, area, data)
	digest, _, err := staged.Sum()
	require.NoError(t, err)

	location, err := store.Publish(context.Background(), staged, digest.String(), PublishIdempotent)
	require.NoError(t, err)
	assert.Equal(t, digest.String()[:2]+"/"+digest.String(), location)
	assert.Equal(t, data, readAll(t, store, location))
	assert.NoFileExists(t, staged.Path())

	again, err := publishBytes(t, area, store, data, PublishIdempotent)
	require.NoError(t, err)
	assert.Equal(t, location, again)

	_, err = publishBytes(t, area, store, data, PublishMustNotExist)
	assert.ErrorIs(t, err, ErrBlobExists)

	entries, err := os.ReadDir(filepath.Join(store.root, digest.String()[:2]))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, digest.String(), entries[0].Name())
}

func TestLocalStore_PublishSeparateFilesystem(t *testing.T) {
	const shm = "/dev/shm"
	if info, err := os.Stat(shm); err != nil || !info.IsDir() {
		t.Skip("no /dev/shm")
	}
	stagingDir, err := os.MkdirTemp(shm, "staging-")
	if err != nil {
		t.Skip("/dev/shm is not writable")
	}
	t.Cleanup(func() { _ = os.RemoveAll(stagingDir) })

	area, err := NewStagingArea(stagingDir, AlgorithmSHA256)
	require.NoError(t, err)
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	location, err := publishBytes(t, area, store, []byte("hello"), PublishIdempotent)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), readAll(t, store, location))
}
