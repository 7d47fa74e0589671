// Package inno implements the installer archive backend: it drives the
// external innoextract tool to list the contents of a self-extracting
// Inno Setup BIOS updater and to lazily extract individual capsules
// into a per-container temporary directory.
package inno

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/oshokin/uefi-capsule-extract/internal/container"
	"github.com/oshokin/uefi-capsule-extract/internal/logger"
)

// ToolName is the external extraction tool required on PATH.
const ToolName = "innoextract"

// listedPath captures the quoted archive path in one line of
// `innoextract --list` output.
var listedPath = regexp.MustCompile(`"([^"]+)"`)

// Container is an Inno Setup installer opened for capsule extraction.
type Container struct {
	// path is the location of the installer executable.
	path string
	// tool is the resolved path of the innoextract binary.
	tool string
	// entries maps capsule names to their archive-internal paths.
	entries map[string]string
	// order preserves the listing order of capsule names.
	order []string
	// tempDir holds lazily extracted capsules; created on first Open,
	// removed best-effort on Close.
	tempDir string
}

//nolint:gochecknoinits // Backend registration mirrors database/sql drivers.
func init() {
	container.Register(container.KindInstallerArchive, New)
}

// New validates the environment and the input file, then lists the
// archive once to discover its capsule entries. The tool path in opts
// bypasses PATH resolution when set.
func New(ctx context.Context, exePath string, opts container.OpenOptions) (container.Container, error) {
	tool, err := resolveTool(opts.ToolPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(exePath)
	if err != nil {
		return nil, fmt.Errorf("installer %s: %w", exePath, errdefs.ErrInvalidArgument)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("installer %s is not a regular file: %w", exePath, errdefs.ErrInvalidArgument)
	}

	probe, err := os.Open(exePath)
	if err != nil {
		return nil, fmt.Errorf("installer %s is not readable: %w", exePath, errdefs.ErrInvalidArgument)
	}

	probe.Close()

	c := &Container{
		path:    exePath,
		tool:    tool,
		entries: make(map[string]string),
	}

	if err := c.list(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// resolveTool locates the extraction binary, preferring an explicit
// override over PATH lookup.
func resolveTool(override string) (string, error) {
	if override == "" {
		tool, err := exec.LookPath(ToolName)
		if err != nil {
			return "", fmt.Errorf("%s not found on PATH: %w", ToolName, errdefs.ErrFailedPrecondition)
		}

		return tool, nil
	}

	if _, err := os.Stat(override); err != nil {
		return "", fmt.Errorf("%s not found at %s: %w", ToolName, override, errdefs.ErrFailedPrecondition)
	}

	return override, nil
}

// list runs the external tool once and records the archive paths whose
// basename matches the capsule pattern.
func (c *Container) list(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.tool, "--list", c.path)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d while listing %s: %w",
				ToolName, exitErr.ExitCode(), c.path, err)
		}

		return fmt.Errorf("run %s on %s: %w", ToolName, c.path, err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		match := listedPath.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		archivePath := match[1]
		if !container.IsCapsuleName(archivePath) {
			continue
		}

		name := path.Base(archivePath)

		if _, dup := c.entries[name]; dup {
			continue
		}

		c.entries[name] = archivePath
		c.order = append(c.order, name)
	}

	logger.DebugKV(ctx, "Listed installer archive",
		"path", c.path, "capsules", len(c.order))

	return nil
}

// Path returns the installer location.
func (c *Container) Path() string {
	return c.path
}

// Entries returns the capsule names found in the archive.
func (c *Container) Entries() []string {
	return append([]string(nil), c.order...)
}

// Open extracts the named capsule into the container's temporary
// directory and returns a handle over the extracted file. Extraction is
// lazy and per entry so that unrelated capsules bundled in the same
// installer are never materialized.
func (c *Container) Open(ctx context.Context, name string) (container.Handle, error) {
	archivePath, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("capsule %q in %s: %w", name, c.path, errdefs.ErrNotFound)
	}

	if c.tempDir == "" {
		tempDir, err := os.MkdirTemp("", "uefi-capsule-extract-*")
		if err != nil {
			return nil, fmt.Errorf("create extraction directory: %w", err)
		}

		c.tempDir = tempDir
	}

	extractedPath := filepath.Join(c.tempDir, filepath.FromSlash(archivePath))

	// Extract only when a previous Open has not materialized it already.
	if _, err := os.Stat(extractedPath); err != nil {
		if err := c.extract(ctx, archivePath); err != nil {
			return nil, err
		}
	}

	file, err := os.Open(extractedPath)
	if err != nil {
		return nil, fmt.Errorf("open extracted capsule %s: %w", extractedPath, err)
	}

	return &handle{file: file}, nil
}

// extract pulls a single entry out of the archive into the temp dir.
func (c *Container) extract(ctx context.Context, archivePath string) error {
	cmd := exec.CommandContext(ctx, c.tool, "--output-dir", c.tempDir, "-I", archivePath, c.path)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d while extracting %s from %s: %w",
				ToolName, exitErr.ExitCode(), archivePath, c.path, err)
		}

		return fmt.Errorf("run %s on %s: %w", ToolName, c.path, err)
	}

	return nil
}

// Close removes the temporary extraction directory. Cleanup failures are
// ignored: the directory lives under the OS temp root.
func (c *Container) Close() error {
	if c.tempDir != "" {
		_ = os.RemoveAll(c.tempDir)
		c.tempDir = ""
	}

	return nil
}

// handle wraps an extracted capsule file.
type handle struct {
	file *os.File
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

// Size reports the size of the extracted file.
func (h *handle) Size() (int64, error) {
	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat extracted capsule: %w", err)
	}

	return info.Size(), nil
}
