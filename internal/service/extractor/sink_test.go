package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sinkGUID = "11111111-2222-3333-4444-555555555555"

// TestFileSink_NamesArtifacts verifies the output naming scheme and that
// the output directory is created on construction.
func TestFileSink_NamesArtifacts(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")

	sink, err := NewFileSink(dir, false, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Write("updater.iso", "BIOS.FL1", sinkGUID, []byte("image")))

	dest := filepath.Join(dir, "updater.iso_BIOS.FL1_"+sinkGUID)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("image"), content)
}

// TestFileSink_OverwriteConfirmation verifies an existing file is kept
// when the confirmation is declined and replaced when accepted.
func TestFileSink_OverwriteConfirmation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "updater.iso_BIOS.FL1_"+sinkGUID)

	declined := 0
	sink, err := NewFileSink(dir, false, func(string) bool {
		declined++
		return false
	})
	require.NoError(t, err)

	require.NoError(t, sink.Write("updater.iso", "BIOS.FL1", sinkGUID, []byte("first")))
	require.NoError(t, sink.Write("updater.iso", "BIOS.FL1", sinkGUID, []byte("second")))
	require.Equal(t, 1, declined)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), content)

	accepting, err := NewFileSink(dir, false, func(string) bool { return true })
	require.NoError(t, err)

	require.NoError(t, accepting.Write("updater.iso", "BIOS.FL1", sinkGUID, []byte("third")))

	content, err = os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("third"), content)
}

// TestFileSink_Force verifies forced writes never consult confirmation.
func TestFileSink_Force(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	sink, err := NewFileSink(dir, true, func(string) bool {
		t.Fatal("confirmation must not be consulted when forced")
		return false
	})
	require.NoError(t, err)

	require.NoError(t, sink.Write("updater.iso", "BIOS.FL1", sinkGUID, []byte("first")))
	require.NoError(t, sink.Write("updater.iso", "BIOS.FL1", sinkGUID, []byte("second")))

	content, err := os.ReadFile(filepath.Join(dir, "updater.iso_BIOS.FL1_"+sinkGUID))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), content)
}
