// Package fattest synthesizes small FAT12 volumes in memory so that tests
// can exercise the FAT reader and the optical image backend without
// external fixture files.
package fattest

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"testing"
)

const (
	bytesPerSector = 512
	dirEntrySize   = 32

	reservedSectors = 1
	fatSectors      = 4
	rootDirSectors  = 2
	dataSectors     = 1024

	totalSectors = reservedSectors + fatSectors + rootDirSectors + dataSectors

	rootEntryCount = rootDirSectors * bytesPerSector / dirEntrySize

	fatOffset     = reservedSectors * bytesPerSector
	rootDirOffset = (reservedSectors + fatSectors) * bytesPerSector
	dataOffset    = (reservedSectors + fatSectors + rootDirSectors) * bytesPerSector
)

// BuildFAT12 returns a FAT12 volume image holding the given files.
// Keys are slash-separated paths; intermediate directories are created
// implicitly. Path segments that do not fit 8.3 receive VFAT long names.
func BuildFAT12(tb testing.TB, files map[string][]byte) []byte {
	tb.Helper()

	b := &builder{
		tb:          tb,
		image:       make([]byte, totalSectors*bytesPerSector),
		nextCluster: 2,
	}

	b.writeBootSector()

	// Media descriptor entries for clusters 0 and 1.
	b.setFATEntry(0, 0xFF8)
	b.setFATEntry(1, 0xFFF)

	root := newDir("")
	for path, content := range files {
		root.insert(tb, path, content)
	}

	entries := b.layoutChildren(root, 0)
	if len(entries) > rootEntryCount*dirEntrySize {
		tb.Fatalf("root directory overflow: %d bytes", len(entries))
	}

	copy(b.image[rootDirOffset:], entries)

	return b.image
}

// builder accumulates the volume image while files are laid out.
type builder struct {
	tb          testing.TB
	image       []byte
	nextCluster uint32
}

// dir is an in-memory directory being assembled.
type dir struct {
	name    string
	subdirs map[string]*dir
	files   map[string][]byte
}

func newDir(name string) *dir {
	return &dir{
		name:    name,
		subdirs: make(map[string]*dir),
		files:   make(map[string][]byte),
	}
}

// insert places the file content at the slash-separated path below d.
func (d *dir) insert(tb testing.TB, path string, content []byte) {
	tb.Helper()

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, segment := range segments[:len(segments)-1] {
		sub, ok := d.subdirs[segment]
		if !ok {
			sub = newDir(segment)
			d.subdirs[segment] = sub
		}

		d = sub
	}

	name := segments[len(segments)-1]
	if _, dup := d.files[name]; dup {
		tb.Fatalf("duplicate file %s", path)
	}

	d.files[name] = content
}

// writeBootSector fills in the BIOS parameter block.
func (b *builder) writeBootSector() {
	boot := b.image[:bytesPerSector]

	copy(boot[0:3], []byte{0xEB, 0x3C, 0x90})
	copy(boot[3:11], "MSDOS5.0")
	binary.LittleEndian.PutUint16(boot[11:13], bytesPerSector)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reservedSectors)
	boot[16] = 1 // FAT copies
	binary.LittleEndian.PutUint16(boot[17:19], rootEntryCount)
	binary.LittleEndian.PutUint16(boot[19:21], totalSectors)
	boot[21] = 0xF8 // media descriptor
	binary.LittleEndian.PutUint16(boot[22:24], fatSectors)
	boot[510] = 0x55
	boot[511] = 0xAA
}

// setFATEntry packs a 12-bit FAT entry.
func (b *builder) setFATEntry(cluster, value uint32) {
	off := fatOffset + int(cluster) + int(cluster)/2

	if cluster%2 == 0 {
		b.image[off] = byte(value)
		b.image[off+1] = b.image[off+1]&0xF0 | byte(value>>8)&0x0F
	} else {
		b.image[off] = b.image[off]&0x0F | byte(value<<4)
		b.image[off+1] = byte(value >> 4)
	}
}

// allocate reserves a chain of n clusters and returns its head.
func (b *builder) allocate(n int) uint32 {
	if n == 0 {
		return 0
	}

	head := b.nextCluster
	for i := 0; i < n; i++ {
		cluster := b.nextCluster
		b.nextCluster++

		if i == n-1 {
			b.setFATEntry(cluster, 0xFFF)
		} else {
			b.setFATEntry(cluster, cluster+1)
		}
	}

	return head
}

// writeFile lays out file content in freshly allocated clusters and
// returns the head cluster (0 for empty files).
func (b *builder) writeFile(content []byte) uint32 {
	clusters := (len(content) + bytesPerSector - 1) / bytesPerSector

	head := b.allocate(clusters)
	if head != 0 {
		copy(b.image[dataOffset+int(head-2)*bytesPerSector:], content)
	}

	return head
}

// layoutChildren writes every child of d into the image and returns the
// raw directory entries describing them. parent is the cluster holding d
// (0 for the root directory).
func (b *builder) layoutChildren(d *dir, parent uint32) []byte {
	names := make([]string, 0, len(d.subdirs)+len(d.files))
	for name := range d.subdirs {
		names = append(names, name)
	}

	for name := range d.files {
		names = append(names, name)
	}

	sort.Strings(names)

	var raw []byte

	for _, name := range names {
		if sub, ok := d.subdirs[name]; ok {
			raw = append(raw, b.layoutSubdir(sub, parent)...)
			continue
		}

		content := d.files[name]
		raw = append(raw, encodeEntries(b.tb, name, b.writeFile(content), len(content), true)...)
	}

	return raw
}

// layoutSubdir allocates a cluster for the subdirectory, fills it with
// "." and ".." plus the subdirectory's children, and returns the entries
// describing the subdirectory to its parent.
func (b *builder) layoutSubdir(d *dir, parent uint32) []byte {
	self := b.allocate(1)

	raw := append(
		encodeShortEntry(".", self, 0, false),
		encodeShortEntry("..", parent, 0, false)...,
	)
	raw = append(raw, b.layoutChildren(d, self)...)

	if len(raw) > bytesPerSector {
		b.tb.Fatalf("directory %s overflows one cluster", d.name)
	}

	copy(b.image[dataOffset+int(self-2)*bytesPerSector:], raw)

	return encodeEntries(b.tb, d.name, self, 0, false)
}

// encodeEntries produces the directory entries for one name: the short
// entry alone when the name fits 8.3, otherwise the VFAT long-name
// entries followed by a truncated short alias.
func encodeEntries(tb testing.TB, name string, cluster uint32, size int, isFile bool) []byte {
	short, fits := shortAlias(name)

	entry := encodeShortEntry(short, cluster, size, isFile)
	if fits {
		return entry
	}

	return append(encodeLongEntries(tb, name, short), entry...)
}

// shortAlias maps a name to its 8.3 form and reports whether the name
// fit without truncation.
func shortAlias(name string) (string, bool) {
	base, ext, _ := strings.Cut(name, ".")

	upperBase := strings.ToUpper(base)
	upperExt := strings.ToUpper(ext)

	fits := base == upperBase && ext == upperExt &&
		len(base) <= 8 && len(ext) <= 3 && !strings.Contains(ext, ".")
	if fits {
		return name, true
	}

	if len(upperBase) > 6 {
		upperBase = upperBase[:6] + "~1"
	}

	if len(upperExt) > 3 {
		upperExt = upperExt[:3]
	}

	if upperExt == "" {
		return upperBase, false
	}

	return upperBase + "." + upperExt, false
}

// encodeShortEntry builds one 32-byte short directory entry.
// Dot entries ("." and "..") are space padded like any other name.
func encodeShortEntry(name string, cluster uint32, size int, isFile bool) []byte {
	entry := make([]byte, dirEntrySize)

	base, ext := name, ""
	if name != "." && name != ".." {
		base, ext, _ = strings.Cut(name, ".")
	}

	copy(entry[0:8], fmt.Sprintf("%-8s", base))
	copy(entry[8:11], fmt.Sprintf("%-3s", ext))

	if isFile {
		entry[11] = 0x20 // archive
	} else {
		entry[11] = 0x10 // directory
	}

	binary.LittleEndian.PutUint16(entry[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(entry[28:32], uint32(size))

	return entry
}

// encodeLongEntries builds the VFAT long-name entries for name, last
// sequence first as they appear on disk.
func encodeLongEntries(tb testing.TB, name, short string) []byte {
	tb.Helper()

	// UTF-16LE with NUL terminator, padded with 0xFFFF to 13-unit groups.
	units := make([]uint16, 0, len(name)+1)
	for _, r := range name {
		if r > 0xFFFF {
			tb.Fatalf("name %q outside the BMP", name)
		}

		units = append(units, uint16(r))
	}

	units = append(units, 0)
	for len(units)%13 != 0 {
		units = append(units, 0xFFFF)
	}

	sum := shortNameChecksum(short)
	groups := len(units) / 13

	var raw []byte

	for seq := groups; seq >= 1; seq-- {
		entry := make([]byte, dirEntrySize)

		entry[0] = byte(seq)
		if seq == groups {
			entry[0] |= 0x40
		}

		entry[11] = 0x0F
		entry[13] = sum

		group := units[(seq-1)*13 : seq*13]
		putUnits(entry[1:11], group[0:5])
		putUnits(entry[14:26], group[5:11])
		putUnits(entry[28:32], group[11:13])

		raw = append(raw, entry...)
	}

	return raw
}

// putUnits writes UTF-16 code units little-endian into dst.
func putUnits(dst []byte, units []uint16) {
	for i, u := range units {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], u)
	}
}

// shortNameChecksum computes the rotation checksum over the 11-byte
// padded short name, as stored in every long-name entry.
func shortNameChecksum(short string) byte {
	base, ext, _ := strings.Cut(short, ".")
	padded := fmt.Sprintf("%-8s%-3s", base, ext)

	var sum byte
	for i := 0; i < 11; i++ {
		sum = (sum >> 1) | (sum << 7)
		sum += padded[i]
	}

	return sum
}
