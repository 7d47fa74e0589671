package fat

import (
	"fmt"
	"io"

	"github.com/containerd/errdefs"
)

// File is a read-only, seekable view of one file on a FAT volume.
// The cluster chain is resolved once when the file is opened, so reads
// never touch the FAT again.
type File struct {
	volume   *Volume
	clusters []uint32
	size     int64
	offset   int64
}

// OpenFile opens the file at the given slash-separated path for reading.
func (v *Volume) OpenFile(filePath string) (*File, error) {
	entry, err := v.Stat(filePath)
	if err != nil {
		return nil, err
	}

	if entry.IsDir {
		return nil, fmt.Errorf("%s: is a directory: %w", filePath, errdefs.ErrInvalidArgument)
	}

	clusters, err := v.clusterChain(entry.firstCluster)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	return &File{
		volume:   v,
		clusters: clusters,
		size:     int64(entry.Size),
	}, nil
}

// Size returns the file length in bytes as recorded in its directory entry.
func (f *File) Size() int64 {
	return f.size
}

// Read implements io.Reader over the file's cluster chain.
func (f *File) Read(p []byte) (int, error) {
	if f.offset >= f.size {
		return 0, io.EOF
	}

	clusterSize := f.volume.clusterSize()
	total := 0

	for total < len(p) && f.offset < f.size {
		index := f.offset / clusterSize
		within := f.offset % clusterSize

		// A corrupt directory entry can record more bytes than the
		// cluster chain actually covers.
		if index >= int64(len(f.clusters)) {
			return total, fmt.Errorf("cluster chain ends before recorded size %d: %w",
				f.size, io.ErrUnexpectedEOF)
		}

		chunk := clusterSize - within
		if remaining := f.size - f.offset; chunk > remaining {
			chunk = remaining
		}

		if room := int64(len(p) - total); chunk > room {
			chunk = room
		}

		readOffset := f.volume.clusterOffset(f.clusters[index]) + within

		n, err := f.volume.r.ReadAt(p[total:total+int(chunk)], readOffset)
		total += n
		f.offset += int64(n)

		if err != nil {
			return total, fmt.Errorf("read cluster %d: %w", f.clusters[index], err)
		}
	}

	return total, nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var target int64

	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.offset + offset
	case io.SeekEnd:
		target = f.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d: %w", whence, errdefs.ErrInvalidArgument)
	}

	if target < 0 {
		return 0, fmt.Errorf("negative seek offset: %w", errdefs.ErrInvalidArgument)
	}

	f.offset = target

	return target, nil
}

// Close implements io.Closer. The file holds no resources of its own.
func (f *File) Close() error {
	return nil
}
