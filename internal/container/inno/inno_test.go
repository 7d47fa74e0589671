package inno

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/uefi-capsule-extract/internal/container"
)

// fakeTool installs a shell script named innoextract on PATH and returns
// the directory holding it. The script serves a fixed listing and
// extracts entries with deterministic content.
func fakeTool(t *testing.T, script string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, ToolName)

	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir)
}

// listingScript mimics innoextract: --list prints the archive contents,
// anything else is treated as an extraction request.
const listingScript = `#!/bin/sh
# The tests put only the fake tool's directory on PATH; restore the
# standard locations so mkdir/dirname/basename resolve inside the script.
PATH="$PATH:/usr/bin:/bin"
if [ "$1" = "--list" ]; then
  echo 'Listing "updater.exe"'
  echo ' - "app/FLASH/BIOS.FL1" (16.0 KiB)'
  echo ' - "app/FLASH/readme.txt" (1.0 KiB)'
  echo ' - "app/FLASH/BIOS.FL2" (16.0 KiB)'
  exit 0
fi
# $1=--output-dir $2=dir $3=-I $4=entry $5=archive
mkdir -p "$2/$(dirname "$4")"
printf 'capsule-bytes-%s' "$(basename "$4")" > "$2/$4"
`

// installer writes a dummy installer file and returns its path.
func installer(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "updater.exe")
	require.NoError(t, os.WriteFile(path, []byte("MZ fake installer"), 0o644))

	return path
}

// TestNew_MissingTool verifies construction fails before any listing
// when the external tool is absent from PATH.
func TestNew_MissingTool(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.ErrorIs(t, err, errdefs.ErrFailedPrecondition)
}

// TestNew_MissingInput verifies a nonexistent installer is rejected.
func TestNew_MissingInput(t *testing.T) {
	fakeTool(t, listingScript)

	_, err := New(context.Background(), filepath.Join(t.TempDir(), "nope.exe"), container.OpenOptions{})
	require.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

// TestNew_ListFailure verifies a non-zero tool exit aborts construction
// and the error carries the exit code.
func TestNew_ListFailure(t *testing.T) {
	fakeTool(t, "#!/bin/sh\nexit 3\n")

	_, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.Error(t, err)
	require.ErrorContains(t, err, "exited with code 3")
}

// TestNew_ToolPathOverride verifies an explicit tool location bypasses
// PATH resolution and a dangling one fails construction.
func TestNew_ToolPathOverride(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, ToolName)
	require.NoError(t, os.WriteFile(tool, []byte(listingScript), 0o755))

	// Nothing on PATH: only the override can resolve the tool.
	t.Setenv("PATH", t.TempDir())

	c, err := New(context.Background(), installer(t), container.OpenOptions{ToolPath: tool})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	require.Equal(t, []string{"BIOS.FL1", "BIOS.FL2"}, c.Entries())

	_, err = New(context.Background(), installer(t),
		container.OpenOptions{ToolPath: filepath.Join(dir, "gone")})
	require.ErrorIs(t, err, errdefs.ErrFailedPrecondition)
}

// TestEntries_FiltersCapsules verifies only capsule-named entries are
// listed, in listing order.
func TestEntries_FiltersCapsules(t *testing.T) {
	fakeTool(t, listingScript)

	c, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	require.Equal(t, []string{"BIOS.FL1", "BIOS.FL2"}, c.Entries())
}

// TestEntries_ListingLineShapes verifies capsules are recognized from
// the quoted archive path alone, whether or not the tool trails the
// quote with a size annotation.
func TestEntries_ListingLineShapes(t *testing.T) {
	fakeTool(t, `#!/bin/sh
echo 'Listing "updater.exe"'
echo ' - "app/FLASH/BIOS.FL1" (16.0 KiB)'
echo ' - "app/FLASH/BIOS.FL2"'
echo ' - "app/FLASH/BIOS.FL1.bak" (1.0 KiB)'
echo 'Done.'
`)

	c, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	require.Equal(t, []string{"BIOS.FL1", "BIOS.FL2"}, c.Entries())
}

// TestOpen_ExtractsLazily verifies per-entry extraction, the size
// contract, and temp dir removal on Close.
func TestOpen_ExtractsLazily(t *testing.T) {
	fakeTool(t, listingScript)

	c, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.NoError(t, err)

	h, err := c.Open(context.Background(), "BIOS.FL1")
	require.NoError(t, err)

	content, err := io.ReadAll(h)
	require.NoError(t, err)
	require.Equal(t, "capsule-bytes-BIOS.FL1", string(content))

	size, err := h.Size()
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), size)

	require.NoError(t, h.Close())

	// The extraction directory disappears with the container.
	tempDir := c.(*Container).tempDir
	require.NotEmpty(t, tempDir)
	require.NoError(t, c.Close())

	_, err = os.Stat(tempDir)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestOpen_CanceledContext verifies extraction stops when the context is
// already canceled.
func TestOpen_CanceledContext(t *testing.T) {
	fakeTool(t, listingScript)

	c, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Open(ctx, "BIOS.FL1")
	require.ErrorIs(t, err, context.Canceled)
}

// TestOpen_UnknownEntry verifies the lookup error contract.
func TestOpen_UnknownEntry(t *testing.T) {
	fakeTool(t, listingScript)

	c, err := New(context.Background(), installer(t), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	_, err = c.Open(context.Background(), "MISSING.FL1")
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}
