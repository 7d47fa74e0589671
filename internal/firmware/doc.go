// Package firmware parses BIOS capsule bytes into a tree of typed
// objects (volumes, files, sections, executable images) and searches
// that tree for executable images nested under GUID-tagged files.
//
// The binary grammar of UEFI firmware volumes is delegated to
// github.com/linuxboot/fiano; this package only shapes its output into
// the Object tree and runs the searches over it.
package firmware
