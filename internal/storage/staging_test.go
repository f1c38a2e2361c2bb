package storage

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func stageBytes(t *testing.T, area *StagingArea, chunks ...[]byte) *StagedFile {
	t.Helper()
	staged, err := area.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = staged.Release() })
	for _, c := range chunks {
		_, err := staged.Write(c)
		require.NoError(t, err)
	}
	require.NoError(t, staged.Close())
	return staged
}

func TestStagedFile_DigestAndSize(t *testing.T) {
	data := []byte("hello, content addressed world")

	tests := []struct {
		name      string
		algorithm Algorithm
		expected  Digest
	}{
		{name: "sha256", algorithm: AlgorithmSHA256, expected: sha256.Sum256(data)},
		{name: "blake3", algorithm: AlgorithmBLAKE3, expected: blake3.Sum256(data)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			area, err := NewStagingArea(t.TempDir(), tt.algorithm)
			require.NoError(t, err)

			staged := stageBytes(t, area, data[:5], data[5:12], data[12:])

			digest, size, err := staged.Sum()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, digest)
			assert.Equal(t, int64(len(data)), size)

			written, err := os.ReadFile(staged.Path())
			require.NoError(t, err)
			assert.Equal(t, data, written)
		})
	}
}

func TestStagedFile_SumBeforeClose(t *testing.T) {
	area, err := NewStagingArea(t.TempDir(), AlgorithmSHA256)
	require.NoError(t, err)

	staged, err := area.Open()
	require.NoError(t, err)
	defer staged.Release()

	_, _, err = staged.Sum()
	assert.ErrorIs(t, err, ErrStageNotClosed)

	_, err = staged.Reader()
	assert.ErrorIs(t, err, ErrStageNotClosed)
}

func TestStagedFile_WriteAfterClose(t *testing.T) {
	area, err := NewStagingArea(t.TempDir(), AlgorithmSHA256)
	require.NoError(t, err)

	staged := stageBytes(t, area, []byte("x"))
	_, err = staged.Write([]byte("y"))
	assert.ErrorIs(t, err, ErrStageClosed)
	assert.NoError(t, staged.Close())
}

func TestStagedFile_FailedClose(t *testing.T) {
	area, err := NewStagingArea(t.TempDir(), AlgorithmSHA256)
	require.NoError(t, err)

	staged, err := area.Open()
	require.NoError(t, err)
	defer staged.Release()
	_, err = staged.Write([]byte("data"))
	require.NoError(t, err)

	// the descriptor is gone, so flushing it fails
	require.NoError(t, staged.file.Close())

	closeErr := staged.Close()
	require.Error(t, closeErr)
	assert.ErrorIs(t, closeErr, os.ErrClosed)
	assert.Equal(t, closeErr, staged.Close())

	digest, size, err := staged.Sum()
	assert.Equal(t, closeErr, err)
	assert.Equal(t, Digest{}, digest)
	assert.Zero(t, size)

	_, err = staged.Reader()
	assert.Equal(t, closeErr, err)
}

func TestStagedFile_EmptyContent(t *testing.T) {
	area, err := NewStagingArea(t.TempDir(), AlgorithmSHA256)
	require.NoError(t, err)

	staged := stageBytes(t, area)
	digest, size, err := staged.Sum()
	require.NoError(t, err)
	assert.Equal(t, Digest(sha256.Sum256(nil)), digest)
	assert.Equal(t, int64(0), size)
}

func TestStagedFile_ReleaseRemovesArtifact(t *testing.T) {
	dir := t.TempDir()
	area, err := NewStagingArea(dir, AlgorithmSHA256)
	require.NoError(t, err)

	t.Run("without close", func(t *testing.T) {
		staged, err := area.Open()
		require.NoError(t, err)
		_, err = staged.Write([]byte("partial"))
		require.NoError(t, err)

		require.NoError(t, staged.Release())
		assert.NoFileExists(t, staged.Path())
		require.NoError(t, staged.Release())

		_, _, err = staged.Sum()
		assert.ErrorIs(t, err, ErrStageNotClosed)
		_, err = staged.Write([]byte("more"))
		assert.ErrorIs(t, err, ErrStageClosed)
	})

	t.Run("after close", func(t *testing.T) {
		staged := stageBytes(t, area, []byte("done"))
		require.NoError(t, staged.Release())
		assert.NoFileExists(t, staged.Path())
	})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStagingArea_UniqueNames(t *testing.T) {
	area, err := NewStagingArea(t.TempDir(), AlgorithmSHA256)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		staged, err := area.Open()
		require.NoError(t, err)
		assert.False(t, seen[staged.Path()])
		seen[staged.Path()] = true
		require.NoError(t, staged.Release())
	}
}

func TestNewStagingArea_UnknownAlgorithm(t *testing.T) {
	_, err := NewStagingArea(t.TempDir(), Algorithm("md5"))
	assert.Error(t, err)
}

func TestStagingArea_Sweep(t *testing.T) {
	dir := t.TempDir()
	area, err := NewStagingArea(dir, AlgorithmSHA256)
	require.NoError(t, err)

	now := time.Now()
	stale := filepath.Join(dir, "stale.part")
	fresh := filepath.Join(dir, "fresh.part")
	other := filepath.Join(dir, "keep.txt")
	for _, p := range []string{stale, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	removed, err := area.Sweep(now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmSHA256, a)

	a, err = ParseAlgorithm(" BLAKE3 ")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmBLAKE3, a)

	_, err = ParseAlgorithm("md5")
	assert.Error(t, err)
}

func TestParseDigest(t *testing.T) {
	d := Digest(sha256.Sum256([]byte("abc")))
	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseDigest("abc")
	assert.Error(t, err)
	_, err = ParseDigest(string(make([]byte, 64)))
	assert.Error(t, err)
}
