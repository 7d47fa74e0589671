// Package iso implements the optical disc image backend: it locates the
// no-emulation El Torito boot image inside a BIOS update ISO, mounts the
// FAT volume of the boot image's single partition and enumerates the
// capsule files stored under the FLASH directory.
package iso

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/containerd/errdefs"

	"github.com/oshokin/uefi-capsule-extract/internal/container"
	"github.com/oshokin/uefi-capsule-extract/internal/fat"
	"github.com/oshokin/uefi-capsule-extract/internal/logger"
)

// capsuleRoot is the well-known top-level directory holding capsule
// subdirectories on the embedded FAT partition.
const capsuleRoot = "FLASH"

//nolint:gochecknoinits // Backend registration mirrors database/sql drivers.
func init() {
	container.Register(container.KindOpticalImage, New)
}

// Container is an optical disc image opened for capsule extraction.
type Container struct {
	// path is the location of the ISO file.
	path string
	// file is the open disc image; the FAT volume reads through it.
	file *os.File
	// volume is the FAT file system mounted at the partition offset.
	volume *fat.Volume
	// entries maps capsule names to their full path on the volume.
	entries map[string]string
	// order keeps the lexicographic listing order of full paths.
	order []string
}

// New opens the disc image at path, mounts its embedded FAT partition and
// scans it for capsule files. The backend needs no external tool, so the
// open options are ignored.
func New(ctx context.Context, isoPath string, _ container.OpenOptions) (container.Container, error) {
	file, err := os.Open(isoPath)
	if err != nil {
		return nil, fmt.Errorf("open disc image: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat disc image %s: %w", isoPath, err)
	}

	c, err := mount(ctx, isoPath, file, info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}

	return c, nil
}

// mount locates the boot image, validates the partition layout and mounts
// the FAT payload.
func mount(ctx context.Context, isoPath string, file *os.File, size int64) (*Container, error) {
	bootImageOffset, err := findBootImage(file, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", isoPath, err)
	}

	fsOffset, err := partitionStart(file, bootImageOffset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", isoPath, err)
	}

	// The partition is the last thing in the boot image, so the file
	// system payload runs from its start offset to the end of the disc.
	volumeStart := bootImageOffset + fsOffset

	volume, err := fat.NewVolume(io.NewSectionReader(file, volumeStart, size-volumeStart), size-volumeStart)
	if err != nil {
		return nil, fmt.Errorf("%s: mount FAT volume at offset %d: %w", isoPath, volumeStart, err)
	}

	logger.DebugKV(ctx, "Mounted FAT volume from disc image",
		"path", isoPath, "offset", volumeStart, "type", volume.Type().String())

	c := &Container{
		path:    isoPath,
		file:    file,
		volume:  volume,
		entries: make(map[string]string),
	}

	if err := c.scan(); err != nil {
		return nil, fmt.Errorf("%s: %w", isoPath, err)
	}

	return c, nil
}

// scan walks FLASH/<subdir>/* on the volume and records every file whose
// name matches the capsule pattern.
func (c *Container) scan() error {
	top, err := c.volume.ReadDir(capsuleRoot)
	if err != nil {
		return fmt.Errorf("list %s directory: %w", capsuleRoot, err)
	}

	var paths []string

	for _, sub := range top {
		if !sub.IsDir || sub.Name == "." || sub.Name == ".." {
			continue
		}

		dirPath := capsuleRoot + "/" + sub.Name

		files, err := c.volume.ReadDir(dirPath)
		if err != nil {
			return fmt.Errorf("list %s: %w", dirPath, err)
		}

		for _, file := range files {
			if file.IsDir {
				continue
			}

			// The long name carries the real extension when present.
			name := file.DisplayName()
			if container.IsCapsuleName(name) {
				paths = append(paths, dirPath+"/"+name)
			}
		}
	}

	sort.Strings(paths)

	for _, p := range paths {
		name := path.Base(p)
		if _, dup := c.entries[name]; dup {
			continue
		}

		c.entries[name] = p
		c.order = append(c.order, p)
	}

	return nil
}

// Path returns the disc image location.
func (c *Container) Path() string {
	return c.path
}

// Entries returns the capsule names found on the volume, in the
// lexicographic order of their full paths.
func (c *Container) Entries() []string {
	names := make([]string, 0, len(c.order))
	for _, p := range c.order {
		names = append(names, path.Base(p))
	}

	return names
}

// Open re-opens the named capsule on the mounted volume. Reads come
// straight from the disc file, so the context is not consulted.
func (c *Container) Open(_ context.Context, name string) (container.Handle, error) {
	fullPath, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("capsule %q in %s: %w", name, c.path, errdefs.ErrNotFound)
	}

	file, err := c.volume.OpenFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("open capsule %s: %w", fullPath, err)
	}

	return &handle{file: file}, nil
}

// Close releases the disc image. The mounted volume reads through the
// image file, so it becomes unusable afterwards.
func (c *Container) Close() error {
	return c.file.Close()
}

// handle adapts a FAT file to the container.Handle interface.
type handle struct {
	file *fat.File
}

// Read implements io.Reader.
func (h *handle) Read(p []byte) (int, error) {
	return h.file.Read(p)
}

// Seek implements io.Seeker.
func (h *handle) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}

// Close implements io.Closer.
func (h *handle) Close() error {
	return h.file.Close()
}

// Size reports the capsule size from its directory entry without reading
// the file content.
func (h *handle) Size() (int64, error) {
	return h.file.Size(), nil
}
