// Package fat implements a minimal read-only FAT12/16/32 file system
// reader: boot-sector geometry, FAT chain traversal, directory listing
// with VFAT long names, and seekable file access.
//
// It exists to look inside the FAT partition embedded in BIOS update
// disc images and deliberately supports nothing beyond reading.
package fat
