package extractor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/uefi-capsule-extract/internal/container"
)

// memHandle is a capsule handle over in-memory bytes.
type memHandle struct {
	*bytes.Reader
}

func (h *memHandle) Close() error {
	return nil
}

func (h *memHandle) Size() (int64, error) {
	return h.Reader.Size(), nil
}

// memContainer is a stub container serving in-memory capsules.
type memContainer struct {
	path     string
	capsules map[string][]byte
	order    []string
}

func (c *memContainer) Path() string {
	return c.path
}

func (c *memContainer) Entries() []string {
	return c.order
}

func (c *memContainer) Open(_ context.Context, name string) (container.Handle, error) {
	data, ok := c.capsules[name]
	if !ok {
		return nil, errdefs.ErrNotFound
	}

	return &memHandle{Reader: bytes.NewReader(data)}, nil
}

func (c *memContainer) Close() error {
	return nil
}

// recordingSink collects written artifacts by destination name.
type recordingSink struct {
	writes map[string][]byte
}

func (s *recordingSink) Write(installer, capsule, guid string, data []byte) error {
	if s.writes == nil {
		s.writes = make(map[string][]byte)
	}

	s.writes[installer+"_"+capsule+"_"+guid] = data

	return nil
}

// TestProcessCapsule_UndetectableFormat verifies that a capsule in no
// known firmware format surfaces the per-capsule skip condition and
// writes nothing.
func TestProcessCapsule_UndetectableFormat(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	e := &extractor{
		kind:  container.KindOpticalImage,
		guids: []string{"11111111-2222-3333-4444-555555555555"},
		sink:  sink,
	}

	c := &memContainer{
		path: "/input/updater.iso",
		capsules: map[string][]byte{
			"BIOS.FL1": []byte("not firmware at all"),
		},
		order: []string{"BIOS.FL1"},
	}

	err := e.processCapsule(context.Background(), c, "BIOS.FL1")
	require.ErrorIs(t, err, errdefs.ErrNotImplemented)
	require.Empty(t, sink.writes)
}

// TestProcessCapsule_UnknownEntry verifies lookup errors pass through.
func TestProcessCapsule_UnknownEntry(t *testing.T) {
	t.Parallel()

	e := &extractor{
		kind:  container.KindOpticalImage,
		guids: []string{"11111111-2222-3333-4444-555555555555"},
		sink:  &recordingSink{},
	}

	c := &memContainer{path: "/input/updater.iso"}

	err := e.processCapsule(context.Background(), c, "MISSING.FL1")
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}

// TestDiscoverInputs_SingleFile verifies single-file input handling.
func TestDiscoverInputs_SingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	isoPath := filepath.Join(dir, "updater.iso")
	require.NoError(t, os.WriteFile(isoPath, []byte("stub"), 0o644))

	e := &extractor{kind: container.KindOpticalImage}

	inputs, err := e.discoverInputs(isoPath)
	require.NoError(t, err)
	require.Equal(t, []string{isoPath}, inputs)

	// A file of the wrong kind is rejected.
	e = &extractor{kind: container.KindInstallerArchive}
	_, err = e.discoverInputs(isoPath)
	require.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

// TestDiscoverInputs_Directory verifies batch discovery filters by kind.
func TestDiscoverInputs_Directory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.iso", "b.exe", "c.txt", "d.iso"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("stub"), 0o644))
	}

	e := &extractor{kind: container.KindOpticalImage}

	inputs, err := e.discoverInputs(dir)
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]string{filepath.Join(dir, "a.iso"), filepath.Join(dir, "d.iso")},
		inputs)

	// No applicable file at all.
	empty := t.TempDir()
	_, err = e.discoverInputs(empty)
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}

// TestDiscoverInputs_MissingPath verifies a nonexistent input fails.
func TestDiscoverInputs_MissingPath(t *testing.T) {
	t.Parallel()

	e := &extractor{kind: container.KindOpticalImage}

	_, err := e.discoverInputs(filepath.Join(t.TempDir(), "gone.iso"))
	require.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}
