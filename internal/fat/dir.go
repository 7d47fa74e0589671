package fat

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Attribute bits of a directory entry.
const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

// lfnCharsPerEntry is the number of UTF-16 code units stored in one
// VFAT long-name directory entry.
const lfnCharsPerEntry = 13

// DirEntry describes one file or directory inside a FAT directory.
type DirEntry struct {
	// Name is the 8.3 short name (upper case, dot-joined).
	Name string
	// LongName is the VFAT long name, empty when the entry has none.
	LongName string
	// IsDir reports whether the entry is a subdirectory.
	IsDir bool
	// Size is the file size in bytes (zero for directories).
	Size uint32

	// firstCluster is the head of the entry's cluster chain.
	firstCluster uint32
}

// DisplayName returns the long name when present, the short name otherwise.
func (e DirEntry) DisplayName() string {
	if e.LongName != "" {
		return e.LongName
	}

	return e.Name
}

// matches reports whether the entry answers to the given name.
// FAT lookups are case-insensitive on both the short and the long name.
func (e DirEntry) matches(name string) bool {
	return strings.EqualFold(e.Name, name) ||
		(e.LongName != "" && strings.EqualFold(e.LongName, name))
}

// ReadRoot lists the entries of the root directory.
func (v *Volume) ReadRoot() ([]DirEntry, error) {
	raw, err := v.rootDirBytes()
	if err != nil {
		return nil, err
	}

	return parseDirEntries(raw)
}

// ReadDir lists the entries of the directory at the given slash-separated
// path ("" or "/" for the root). Lookup is case-insensitive.
func (v *Volume) ReadDir(dirPath string) ([]DirEntry, error) {
	entries, err := v.ReadRoot()
	if err != nil {
		return nil, err
	}

	for _, segment := range splitPath(dirPath) {
		entry, err := findEntry(entries, segment)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dirPath, err)
		}

		if !entry.IsDir {
			return nil, fmt.Errorf("%s: not a directory: %w", dirPath, errdefs.ErrInvalidArgument)
		}

		raw, err := v.readClusterChain(entry.firstCluster)
		if err != nil {
			return nil, err
		}

		if entries, err = parseDirEntries(raw); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// Stat resolves the directory entry at the given slash-separated path.
func (v *Volume) Stat(filePath string) (DirEntry, error) {
	segments := splitPath(filePath)
	if len(segments) == 0 {
		return DirEntry{}, fmt.Errorf("empty path: %w", errdefs.ErrInvalidArgument)
	}

	dir, name := segments[:len(segments)-1], segments[len(segments)-1]

	entries, err := v.ReadDir(strings.Join(dir, "/"))
	if err != nil {
		return DirEntry{}, err
	}

	entry, err := findEntry(entries, name)
	if err != nil {
		return DirEntry{}, fmt.Errorf("%s: %w", filePath, err)
	}

	return entry, nil
}

// rootDirBytes reads the raw root directory region: the fixed area after
// the FATs for FAT12/16, the root cluster chain for FAT32.
func (v *Volume) rootDirBytes() ([]byte, error) {
	if v.typ == FAT32 {
		return v.readClusterChain(v.rootCluster)
	}

	raw := make([]byte, v.rootEntryCount*dirEntrySize)
	if _, err := v.r.ReadAt(raw, v.rootDirOffset); err != nil {
		return nil, fmt.Errorf("read root directory: %w", err)
	}

	return raw, nil
}

// findEntry returns the entry answering to name, skipping the "." and ".."
// self references.
func findEntry(entries []DirEntry, name string) (DirEntry, error) {
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		if entry.matches(name) {
			return entry, nil
		}
	}

	return DirEntry{}, fmt.Errorf("%q: %w", name, errdefs.ErrNotFound)
}

// splitPath splits a slash-separated path into its non-empty segments.
func splitPath(p string) []string {
	var segments []string

	for _, segment := range strings.Split(p, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	return segments
}

// parseDirEntries decodes a raw directory region into entries, assembling
// VFAT long names from the preceding long-name entries.
func parseDirEntries(raw []byte) ([]DirEntry, error) {
	var (
		entries []DirEntry
		// lfn collects long-name fragments keyed by sequence number
		// until the owning short entry arrives.
		lfn map[int][]byte
	)

	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		record := raw[off : off+dirEntrySize]

		// First byte 0x00 marks the end of the directory.
		if record[0] == 0x00 {
			break
		}

		// 0xE5 marks a deleted entry.
		if record[0] == 0xE5 {
			lfn = nil
			continue
		}

		attr := record[11]

		if attr&attrLongName == attrLongName {
			if lfn == nil {
				lfn = make(map[int][]byte)
			}

			sequence := int(record[0] & 0x1F)
			lfn[sequence] = lfnFragment(record)

			continue
		}

		// Volume labels carry no file data.
		if attr&attrVolumeID != 0 {
			lfn = nil
			continue
		}

		entry := DirEntry{
			Name:         shortName(record),
			IsDir:        attr&attrDirectory != 0,
			Size:         uint32(record[28]) | uint32(record[29])<<8 | uint32(record[30])<<16 | uint32(record[31])<<24,
			firstCluster: uint32(record[26]) | uint32(record[27])<<8 | uint32(record[20])<<16 | uint32(record[21])<<24,
		}

		if len(lfn) > 0 {
			longName, err := assembleLongName(lfn)
			if err != nil {
				return nil, err
			}

			entry.LongName = longName
			lfn = nil
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// shortName decodes the 8.3 name of a short directory entry.
func shortName(record []byte) string {
	base := bytes.TrimRight(record[0:8], " ")
	ext := bytes.TrimRight(record[8:11], " ")

	// 0x05 in the first byte stands in for a real 0xE5.
	if len(base) > 0 && base[0] == 0x05 {
		base = append([]byte{0xE5}, base[1:]...)
	}

	if len(ext) == 0 {
		return string(base)
	}

	return string(base) + "." + string(ext)
}

// lfnFragment extracts the 13 UTF-16LE code units of one long-name entry,
// spread over three byte ranges of the record.
func lfnFragment(record []byte) []byte {
	fragment := make([]byte, 0, lfnCharsPerEntry*2)
	fragment = append(fragment, record[1:11]...)
	fragment = append(fragment, record[14:26]...)
	fragment = append(fragment, record[28:32]...)

	return fragment
}

// assembleLongName joins long-name fragments in sequence order and decodes
// them from UTF-16LE, dropping the NUL terminator and 0xFFFF padding.
func assembleLongName(fragments map[int][]byte) (string, error) {
	joined := make([]byte, 0, len(fragments)*lfnCharsPerEntry*2)

	for sequence := 1; sequence <= len(fragments); sequence++ {
		fragment, ok := fragments[sequence]
		if !ok {
			return "", fmt.Errorf("long name fragment %d missing", sequence)
		}

		joined = append(joined, fragment...)
	}

	// Trim at the UTF-16 NUL terminator; unused positions are 0xFFFF.
	for i := 0; i+1 < len(joined); i += 2 {
		if joined[i] == 0x00 && joined[i+1] == 0x00 {
			joined = joined[:i]
			break
		}
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

	decoded, _, err := transform.Bytes(decoder, joined)
	if err != nil {
		return "", fmt.Errorf("decode long name: %w", err)
	}

	return strings.TrimRight(string(decoded), "￿"), nil
}
