package extractor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// artifactFileMode is used for extracted image files.
const artifactFileMode os.FileMode = 0o644

// Sink receives extracted executable images. The triple identifies the
// artifact; naming and overwrite policy belong to the implementation.
type Sink interface {
	Write(installer, capsule, guid string, data []byte) error
}

// FileSink writes images into a directory as
// <installer>_<capsule>_<guid>, asking for confirmation before
// overwriting unless forced.
type FileSink struct {
	// dir is the output directory, created on construction.
	dir string
	// force skips overwrite confirmation.
	force bool
	// confirm decides whether an existing file may be overwritten.
	confirm func(path string) bool
}

// NewFileSink creates the output directory and returns a sink writing
// into it. A nil confirm installs an interactive stdin prompt.
func NewFileSink(dir string, force bool, confirm func(path string) bool) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}

	if confirm == nil {
		confirm = promptOverwrite
	}

	return &FileSink{
		dir:     dir,
		force:   force,
		confirm: confirm,
	}, nil
}

// Write stores one image, skipping silently when the user declines to
// overwrite an existing file.
func (s *FileSink) Write(installer, capsule, guid string, data []byte) error {
	dest := filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s", installer, capsule, guid))

	if !s.force {
		if _, err := os.Stat(dest); err == nil && !s.confirm(dest) {
			return nil
		}
	}

	if err := os.WriteFile(dest, data, artifactFileMode); err != nil {
		return fmt.Errorf("write image %s: %w", dest, err)
	}

	return nil
}

// promptOverwrite asks on stdin whether an existing file may be
// overwritten, defaulting to no.
func promptOverwrite(path string) bool {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("File %s exists already. Overwrite [y/N]? ", path)

		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return true
		case "n", "":
			return false
		}
	}
}
