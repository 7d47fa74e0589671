package fat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type identifies the FAT variant of a mounted volume.
type Type int

const (
	// FAT12 packs FAT entries into 12 bits.
	FAT12 Type = iota
	// FAT16 uses 16-bit FAT entries.
	FAT16
	// FAT32 uses 32-bit FAT entries (28 significant bits).
	FAT32
)

// String returns the conventional name of the FAT variant.
func (t Type) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

const (
	// dirEntrySize is the fixed size of an on-disk directory entry.
	dirEntrySize = 32

	// Cluster-count thresholds separating the FAT variants,
	// per the Microsoft FAT specification.
	fat12MaxClusters = 4085
	fat16MaxClusters = 65525
)

// errVolumeTooSmall is returned when the backing reader cannot hold a boot sector.
var errVolumeTooSmall = errors.New("volume smaller than one boot sector")

// Volume is a read-only FAT12/16/32 file system mounted over a byte range.
type Volume struct {
	// r provides random access to the raw volume bytes.
	r io.ReaderAt
	// size is the length of the backing byte range.
	size int64

	// typ is the FAT variant, resolved from the data-cluster count.
	typ Type

	// Geometry derived from the BIOS parameter block.
	bytesPerSector    int64
	sectorsPerCluster int64
	clusterCount      uint32

	// fatOffset is the byte offset of the first FAT copy.
	fatOffset int64
	// rootDirOffset is the byte offset of the fixed root directory region
	// (FAT12/16 only).
	rootDirOffset int64
	// rootEntryCount is the capacity of the fixed root directory (FAT12/16).
	rootEntryCount int64
	// rootCluster is the first cluster of the root directory (FAT32 only).
	rootCluster uint32
	// dataOffset is the byte offset of cluster 2.
	dataOffset int64
}

// NewVolume mounts the given byte range as a FAT volume.
// The reader must stay valid for the lifetime of the volume.
func NewVolume(r io.ReaderAt, size int64) (*Volume, error) {
	if size < 512 {
		return nil, errVolumeTooSmall
	}

	var boot [512]byte
	if _, err := r.ReadAt(boot[:], 0); err != nil {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}

	bytesPerSector := int64(binary.LittleEndian.Uint16(boot[11:13]))
	sectorsPerCluster := int64(boot[13])
	reservedSectors := int64(binary.LittleEndian.Uint16(boot[14:16]))
	numFATs := int64(boot[16])
	rootEntryCount := int64(binary.LittleEndian.Uint16(boot[17:19]))
	totalSectors := int64(binary.LittleEndian.Uint16(boot[19:21]))
	fatSize := int64(binary.LittleEndian.Uint16(boot[22:24]))

	if totalSectors == 0 {
		totalSectors = int64(binary.LittleEndian.Uint32(boot[32:36]))
	}

	if fatSize == 0 {
		fatSize = int64(binary.LittleEndian.Uint32(boot[36:40]))
	}

	switch {
	case bytesPerSector != 512 && bytesPerSector != 1024 &&
		bytesPerSector != 2048 && bytesPerSector != 4096:
		return nil, fmt.Errorf("implausible bytes per sector %d", bytesPerSector)
	case sectorsPerCluster == 0 || sectorsPerCluster&(sectorsPerCluster-1) != 0:
		return nil, fmt.Errorf("implausible sectors per cluster %d", sectorsPerCluster)
	case numFATs == 0 || fatSize == 0 || reservedSectors == 0 || totalSectors == 0:
		return nil, errors.New("missing FAT geometry in boot sector")
	}

	rootDirSectors := (rootEntryCount*dirEntrySize + bytesPerSector - 1) / bytesPerSector
	firstDataSector := reservedSectors + numFATs*fatSize + rootDirSectors

	dataSectors := totalSectors - firstDataSector
	if dataSectors <= 0 {
		return nil, errors.New("no data region in volume")
	}

	v := &Volume{
		r:                 r,
		size:              size,
		bytesPerSector:    bytesPerSector,
		sectorsPerCluster: sectorsPerCluster,
		clusterCount:      uint32(dataSectors / sectorsPerCluster),
		fatOffset:         reservedSectors * bytesPerSector,
		rootDirOffset:     (reservedSectors + numFATs*fatSize) * bytesPerSector,
		rootEntryCount:    rootEntryCount,
		dataOffset:        firstDataSector * bytesPerSector,
	}

	switch {
	case v.clusterCount < fat12MaxClusters:
		v.typ = FAT12
	case v.clusterCount < fat16MaxClusters:
		v.typ = FAT16
	default:
		v.typ = FAT32
		v.rootCluster = binary.LittleEndian.Uint32(boot[44:48])
	}

	return v, nil
}

// Type returns the FAT variant of the volume.
func (v *Volume) Type() Type {
	return v.typ
}

// clusterSize returns the cluster size in bytes.
func (v *Volume) clusterSize() int64 {
	return v.bytesPerSector * v.sectorsPerCluster
}

// clusterOffset returns the byte offset of a data cluster.
func (v *Volume) clusterOffset(cluster uint32) int64 {
	return v.dataOffset + int64(cluster-2)*v.clusterSize()
}

// endOfChain reports whether a FAT entry value terminates a cluster chain.
func (v *Volume) endOfChain(value uint32) bool {
	switch v.typ {
	case FAT12:
		return value >= 0xFF8
	case FAT16:
		return value >= 0xFFF8
	default:
		return value >= 0x0FFFFFF8
	}
}

// fatEntry reads the FAT entry for the given cluster.
func (v *Volume) fatEntry(cluster uint32) (uint32, error) {
	var (
		buf [4]byte
		off int64
	)

	switch v.typ {
	case FAT12:
		off = v.fatOffset + int64(cluster) + int64(cluster)/2
		if _, err := v.r.ReadAt(buf[:2], off); err != nil {
			return 0, fmt.Errorf("read FAT entry %d: %w", cluster, err)
		}

		value := uint32(binary.LittleEndian.Uint16(buf[:2]))
		if cluster%2 == 1 {
			return value >> 4, nil
		}

		return value & 0xFFF, nil
	case FAT16:
		off = v.fatOffset + int64(cluster)*2
		if _, err := v.r.ReadAt(buf[:2], off); err != nil {
			return 0, fmt.Errorf("read FAT entry %d: %w", cluster, err)
		}

		return uint32(binary.LittleEndian.Uint16(buf[:2])), nil
	default:
		off = v.fatOffset + int64(cluster)*4
		if _, err := v.r.ReadAt(buf[:], off); err != nil {
			return 0, fmt.Errorf("read FAT entry %d: %w", cluster, err)
		}

		return binary.LittleEndian.Uint32(buf[:]) & 0x0FFFFFFF, nil
	}
}

// clusterChain follows the FAT from the starting cluster and returns the
// full chain. The chain length is capped at the cluster count so that a
// corrupt, cyclic FAT cannot loop forever.
func (v *Volume) clusterChain(start uint32) ([]uint32, error) {
	if start == 0 {
		return nil, nil
	}

	var chain []uint32

	cluster := start
	for {
		if cluster < 2 || cluster-2 >= v.clusterCount {
			return nil, fmt.Errorf("cluster %d out of range", cluster)
		}

		if len(chain) >= int(v.clusterCount) {
			return nil, errors.New("cluster chain longer than volume, FAT is cyclic")
		}

		chain = append(chain, cluster)

		next, err := v.fatEntry(cluster)
		if err != nil {
			return nil, err
		}

		if v.endOfChain(next) {
			return chain, nil
		}

		cluster = next
	}
}

// readClusterChain materializes the bytes of a cluster chain.
func (v *Volume) readClusterChain(start uint32) ([]byte, error) {
	chain, err := v.clusterChain(start)
	if err != nil {
		return nil, err
	}

	clusterSize := v.clusterSize()
	out := make([]byte, 0, int64(len(chain))*clusterSize)
	buf := make([]byte, clusterSize)

	for _, cluster := range chain {
		if _, err := v.r.ReadAt(buf, v.clusterOffset(cluster)); err != nil {
			return nil, fmt.Errorf("read cluster %d: %w", cluster, err)
		}

		out = append(out, buf...)
	}

	return out, nil
}
