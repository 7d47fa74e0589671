package iso

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
)

const (
	// isoSectorSize is the logical sector size of an ISO 9660 image.
	isoSectorSize = 2048

	// lbaBlockSize is the historical 512-byte block size assumed for the
	// partitioned boot image embedded in the disc.
	lbaBlockSize = 512

	// descriptorStart is the first volume descriptor sector.
	descriptorStart = 16

	// Volume descriptor types.
	descriptorBootRecord = 0x00
	descriptorTerminator = 0xFF

	// mbrTableOffset is the byte offset of the partition table inside the
	// boot image, mbrEntrySize the size of each of its four entries.
	mbrTableOffset = 446
	mbrEntrySize   = 16
	mbrEntryCount  = 4
)

// standardIdentifier is the magic shared by every ISO volume descriptor.
var standardIdentifier = []byte("CD001")

// findBootImage locates the no-emulation El Torito boot image and returns
// its byte offset inside the disc image. Images without a boot catalog or
// without a no-emulation entry fail with errdefs.ErrNotImplemented.
func findBootImage(r io.ReaderAt, size int64) (int64, error) {
	catalogLBA, err := findBootCatalog(r, size)
	if err != nil {
		return 0, err
	}

	var catalog [isoSectorSize]byte
	if _, err := r.ReadAt(catalog[:], int64(catalogLBA)*isoSectorSize); err != nil {
		return 0, fmt.Errorf("read boot catalog at LBA %d: %w", catalogLBA, err)
	}

	// Validation entry: header ID 0x01, key bytes 0x55 0xAA at the end.
	if catalog[0] != 0x01 || catalog[30] != 0x55 || catalog[31] != 0xAA {
		return 0, fmt.Errorf("malformed boot catalog validation entry: %w", errdefs.ErrNotImplemented)
	}

	// Initial/default entry follows the validation entry.
	initial := catalog[32:64]

	const (
		bootIndicator    = 0x88
		mediaNoEmulation = 0x00
	)

	if initial[0] != bootIndicator {
		return 0, fmt.Errorf("boot catalog entry not bootable: %w", errdefs.ErrNotImplemented)
	}

	if initial[1]&0x0F != mediaNoEmulation {
		return 0, fmt.Errorf("boot image media type 0x%02X is not no-emulation: %w",
			initial[1]&0x0F, errdefs.ErrNotImplemented)
	}

	loadRBA := binary.LittleEndian.Uint32(initial[8:12])

	offset := int64(loadRBA) * isoSectorSize
	if offset <= 0 || offset >= size {
		return 0, fmt.Errorf("boot image RBA %d outside the disc: %w", loadRBA, errdefs.ErrNotImplemented)
	}

	return offset, nil
}

// findBootCatalog walks the volume descriptor list and returns the boot
// catalog LBA from the El Torito boot record.
func findBootCatalog(r io.ReaderAt, size int64) (uint32, error) {
	var sector [isoSectorSize]byte

	for lba := int64(descriptorStart); (lba+1)*isoSectorSize <= size; lba++ {
		if _, err := r.ReadAt(sector[:], lba*isoSectorSize); err != nil {
			return 0, fmt.Errorf("read volume descriptor at LBA %d: %w", lba, err)
		}

		if !bytes.Equal(sector[1:6], standardIdentifier) {
			break
		}

		switch sector[0] {
		case descriptorBootRecord:
			// Boot catalog pointer lives at offset 0x47 of the boot record.
			return binary.LittleEndian.Uint32(sector[0x47:0x4B]), nil
		case descriptorTerminator:
			return 0, fmt.Errorf("no El Torito boot record in image: %w", errdefs.ErrNotImplemented)
		}
	}

	return 0, fmt.Errorf("volume descriptor list ended without terminator: %w", errdefs.ErrNotImplemented)
}

// partitionStart parses the classical partition table at the head of the
// boot image and returns the byte offset of the file system inside it.
// Exactly partition 0 must be populated; any other layout is unsupported.
func partitionStart(r io.ReaderAt, bootImageOffset int64) (int64, error) {
	var table [mbrEntrySize * mbrEntryCount]byte
	if _, err := r.ReadAt(table[:], bootImageOffset+mbrTableOffset); err != nil {
		return 0, fmt.Errorf("read partition table: %w", err)
	}

	var starts [mbrEntryCount]uint32
	for i := range starts {
		entry := table[i*mbrEntrySize : (i+1)*mbrEntrySize]
		starts[i] = binary.LittleEndian.Uint32(entry[8:12])
	}

	if starts[0] == 0 || starts[1] != 0 || starts[2] != 0 || starts[3] != 0 {
		return 0, fmt.Errorf(
			"unsupported partition layout (want exactly the first partition populated, got starts %v): %w",
			starts, errdefs.ErrNotImplemented)
	}

	return int64(starts[0]) * lbaBlockSize, nil
}
