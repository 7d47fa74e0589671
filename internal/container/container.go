package container

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"
)

// Kind selects the backend used to look inside an installer container.
// The kind is declared explicitly per run and is never sniffed from content.
type Kind string

const (
	// KindOpticalImage is a bootable optical disc image (.iso) holding
	// capsules on an embedded FAT partition.
	KindOpticalImage Kind = "iso"

	// KindInstallerArchive is a self-extracting Inno Setup installer (.exe)
	// whose capsules are reachable through an external extraction tool.
	KindInstallerArchive Kind = "exe"
)

// capsulePattern recognizes BIOS capsule files by their extension:
// a literal dot, "FL" and one or more decimal digits (BIOS.FL1, image.FL22).
// It is the only signal used to tell capsules apart from other entries.
var capsulePattern = regexp.MustCompile(`\.FL\d+$`)

// Handle is a read-only, seekable view of one capsule's bytes.
// It stays valid until closed or until the owning Container is closed.
type Handle interface {
	io.ReadSeekCloser

	// Size reports the capsule length in bytes without consuming the stream.
	Size() (int64, error)
}

// Container enumerates the capsules bundled inside one installer file and
// hands out scoped read access to each of them.
type Container interface {
	// Path returns the filesystem path of the underlying installer file.
	Path() string

	// Entries returns the capsule names found in the container.
	// Names are unique within the container.
	Entries() []string

	// Open returns a Handle over the named capsule. Opening a name that is
	// not part of Entries fails with errdefs.ErrNotFound. The context
	// bounds any extraction work the backend performs on demand.
	Open(ctx context.Context, name string) (Handle, error)

	// Close releases the container together with any temporary resources
	// (extraction directories, open volumes) it acquired.
	Close() error
}

// OpenOptions carries configurable backend settings.
type OpenOptions struct {
	// ToolPath locates the external extraction tool for backends that
	// shell out. Empty means resolve the tool from PATH.
	ToolPath string
}

// openers maps each kind to its backend constructor. Registered from the
// backend packages to keep this package free of their dependencies.
//
//nolint:gochecknoglobals // Registry is filled once during init.
var openers = map[Kind]func(ctx context.Context, path string, opts OpenOptions) (Container, error){}

// Register installs the backend constructor for a kind.
// Called from backend package init functions.
func Register(kind Kind, open func(ctx context.Context, path string, opts OpenOptions) (Container, error)) {
	openers[kind] = open
}

// Open builds the container backend of the declared kind for the given file.
func Open(ctx context.Context, kind Kind, path string, opts OpenOptions) (Container, error) {
	open, ok := openers[kind]
	if !ok {
		return nil, fmt.Errorf("container kind %q: %w", kind, errdefs.ErrNotImplemented)
	}

	return open(ctx, path, opts)
}

// ParseKind converts user input to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOpticalImage:
		return KindOpticalImage, nil
	case KindInstallerArchive:
		return KindInstallerArchive, nil
	default:
		return "", fmt.Errorf("unknown container format %q (expected %q or %q): %w",
			s, KindOpticalImage, KindInstallerArchive, errdefs.ErrInvalidArgument)
	}
}

// IsCapsuleName reports whether the final path segment names a capsule.
func IsCapsuleName(name string) bool {
	return capsulePattern.MatchString(path.Base(name))
}

// Applicable reports whether a file path looks like an installer of the
// given kind, judged by its extension only.
func Applicable(kind Kind, filePath string) bool {
	return strings.Contains(strings.ToLower(path.Base(filePath)), "."+string(kind))
}

// FilterApplicable keeps the paths that look like installers of the kind.
// Used for directory batch mode.
func FilterApplicable(kind Kind, paths []string) []string {
	var out []string

	for _, p := range paths {
		if Applicable(kind, p) {
			out = append(out, p)
		}
	}

	return out
}
