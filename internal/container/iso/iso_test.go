package iso

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/uefi-capsule-extract/internal/container"
	"github.com/oshokin/uefi-capsule-extract/internal/fat/fattest"
)

// Sector layout of the synthesized disc images: boot record at 16,
// terminator at 17, boot catalog at 18, boot image from 19 on.
const (
	testCatalogLBA   = 18
	testBootImageLBA = 19
)

// buildISO wraps a FAT volume image into a minimal El Torito disc image:
// boot record, terminator, boot catalog, and a boot image consisting of a
// one-partition MBR followed by the FAT volume.
func buildISO(t *testing.T, fatImage []byte) []byte {
	t.Helper()

	image := make([]byte, testBootImageLBA*isoSectorSize+lbaBlockSize+len(fatImage))

	// Boot record volume descriptor.
	bootRecord := image[16*isoSectorSize:]
	bootRecord[0] = descriptorBootRecord
	copy(bootRecord[1:6], standardIdentifier)
	bootRecord[6] = 1
	copy(bootRecord[7:], "EL TORITO SPECIFICATION")
	binary.LittleEndian.PutUint32(bootRecord[0x47:0x4B], testCatalogLBA)

	// Terminator descriptor.
	terminator := image[17*isoSectorSize:]
	terminator[0] = descriptorTerminator
	copy(terminator[1:6], standardIdentifier)
	terminator[6] = 1

	// Boot catalog: validation entry plus no-emulation initial entry.
	catalog := image[testCatalogLBA*isoSectorSize:]
	catalog[0] = 0x01
	catalog[30] = 0x55
	catalog[31] = 0xAA
	catalog[32] = 0x88 // bootable
	catalog[33] = 0x00 // no emulation
	binary.LittleEndian.PutUint16(catalog[38:40], 4)
	binary.LittleEndian.PutUint32(catalog[40:44], testBootImageLBA)

	// Boot image: MBR with only partition 0 populated, FAT right after.
	mbr := image[testBootImageLBA*isoSectorSize:]
	mbr[mbrTableOffset] = 0x80   // boot flag
	mbr[mbrTableOffset+4] = 0x0E // FAT16 LBA type
	binary.LittleEndian.PutUint32(mbr[mbrTableOffset+8:mbrTableOffset+12], 1)
	mbr[510] = 0x55
	mbr[511] = 0xAA

	copy(image[testBootImageLBA*isoSectorSize+lbaBlockSize:], fatImage)

	return image
}

// writeISO persists a disc image into a temp file and returns its path.
func writeISO(t *testing.T, image []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "updater.iso")
	require.NoError(t, os.WriteFile(path, image, 0o644))

	return path
}

// TestEntries_FiltersAndSorts covers the FLASH scan: capsule-named files
// are listed, everything else ignored, order is lexicographic.
func TestEntries_FiltersAndSorts(t *testing.T) {
	t.Parallel()

	fatImage := fattest.BuildFAT12(t, map[string][]byte{
		"FLASH/SUB1/BIOS.FL2":   []byte("capsule two"),
		"FLASH/SUB1/BIOS.FL1":   []byte("capsule one"),
		"FLASH/SUB2/README.TXT": []byte("not a capsule"),
	})

	c, err := New(context.Background(), writeISO(t, buildISO(t, fatImage)), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	require.Equal(t, []string{"BIOS.FL1", "BIOS.FL2"}, c.Entries())
}

// TestOpen_SizeMatchesContent verifies the handle contract: Size equals
// the byte count obtained by reading to exhaustion.
func TestOpen_SizeMatchesContent(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("fw"), 700)

	fatImage := fattest.BuildFAT12(t, map[string][]byte{
		"FLASH/SUB1/BIOS.FL1": payload,
	})

	c, err := New(context.Background(), writeISO(t, buildISO(t, fatImage)), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	for _, name := range c.Entries() {
		h, err := c.Open(context.Background(), name)
		require.NoError(t, err)

		size, err := h.Size()
		require.NoError(t, err)

		content, err := io.ReadAll(h)
		require.NoError(t, err)
		require.Equal(t, size, int64(len(content)))
		require.Equal(t, payload, content)

		require.NoError(t, h.Close())
	}
}

// TestOpen_UnknownEntry verifies the lookup error contract.
func TestOpen_UnknownEntry(t *testing.T) {
	t.Parallel()

	fatImage := fattest.BuildFAT12(t, map[string][]byte{
		"FLASH/SUB1/BIOS.FL1": []byte("capsule"),
	})

	c, err := New(context.Background(), writeISO(t, buildISO(t, fatImage)), container.OpenOptions{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})

	_, err = c.Open(context.Background(), "MISSING.FL1")
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}

// TestNew_NoBootRecord verifies an image without an El Torito boot
// record is reported as unsupported.
func TestNew_NoBootRecord(t *testing.T) {
	t.Parallel()

	image := make([]byte, 20*isoSectorSize)

	terminator := image[16*isoSectorSize:]
	terminator[0] = descriptorTerminator
	copy(terminator[1:6], standardIdentifier)

	_, err := New(context.Background(), writeISO(t, image), container.OpenOptions{})
	require.ErrorIs(t, err, errdefs.ErrNotImplemented)
}

// TestPartitionStart_Layouts checks the partition table validation:
// exactly the first partition may be populated.
func TestPartitionStart_Layouts(t *testing.T) {
	t.Parallel()

	build := func(starts [4]uint32) io.ReaderAt {
		boot := make([]byte, lbaBlockSize)
		for i, start := range starts {
			binary.LittleEndian.PutUint32(boot[mbrTableOffset+i*mbrEntrySize+8:], start)
		}

		return bytes.NewReader(boot)
	}

	offset, err := partitionStart(build([4]uint32{63, 0, 0, 0}), 0)
	require.NoError(t, err)
	require.Equal(t, int64(63*lbaBlockSize), offset)

	// First partition empty.
	_, err = partitionStart(build([4]uint32{0, 0, 0, 0}), 0)
	require.ErrorIs(t, err, errdefs.ErrNotImplemented)

	// More than one partition populated.
	_, err = partitionStart(build([4]uint32{63, 1024, 0, 0}), 0)
	require.ErrorIs(t, err, errdefs.ErrNotImplemented)

	// Only a later partition populated.
	_, err = partitionStart(build([4]uint32{0, 1024, 0, 0}), 0)
	require.ErrorIs(t, err, errdefs.ErrNotImplemented)
}
