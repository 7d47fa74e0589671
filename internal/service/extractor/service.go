package extractor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"

	"github.com/oshokin/uefi-capsule-extract/internal/config"
	"github.com/oshokin/uefi-capsule-extract/internal/container"
	"github.com/oshokin/uefi-capsule-extract/internal/firmware"
	"github.com/oshokin/uefi-capsule-extract/internal/logger"

	// Container backends register themselves on import.
	_ "github.com/oshokin/uefi-capsule-extract/internal/container/inno"
	_ "github.com/oshokin/uefi-capsule-extract/internal/container/iso"
)

// Options contains inputs for the extraction entry point.
type Options struct {
	// Path is the installer file to process, or a directory whose
	// applicable files are processed as a batch.
	Path string
	// Format declares the container kind ("iso" or "exe").
	Format string
	// GUIDs are the firmware file identifiers to extract images for.
	GUIDs []string
	// OutDir overrides the configured output directory when non-empty.
	OutDir string
	// Force overwrites existing output files without confirmation.
	Force bool
	// LogLevel overrides the configured logging level when non-empty.
	LogLevel string
	// ConfigPath is an optional path to the settings YAML.
	ConfigPath string
}

// extractor walks containers and capsules and hands matched images to
// the sink. It is unexported—callers go through Run.
type extractor struct {
	// kind selects the container backend for this run.
	kind container.Kind
	// guids is the normalized target GUID set, in caller order.
	guids []string
	// openOpts carries configured backend settings into container.Open.
	openOpts container.OpenOptions
	// sink receives every extracted image.
	sink Sink
}

// Run executes the extraction workflow: resolve settings, normalize the
// GUID set, discover input files and process them sequentially. One
// failed input file is logged and never aborts the rest of the batch.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "uefi-capsule-extract")

	kind, err := container.ParseKind(opts.Format)
	if err != nil {
		return err
	}

	guids, err := firmware.NormalizeGUIDs(opts.GUIDs)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	levelSource := cfg.LogLevel
	if opts.LogLevel != "" {
		levelSource = opts.LogLevel
	}

	if level, ok := logger.ParseLogLevel(levelSource); ok {
		logger.SetLevel(level)
	}

	outDir := cfg.OutDir
	if opts.OutDir != "" {
		outDir = opts.OutDir
	}

	sink, err := NewFileSink(outDir, opts.Force, nil)
	if err != nil {
		return err
	}

	e := &extractor{
		kind:     kind,
		guids:    guids,
		openOpts: container.OpenOptions{ToolPath: cfg.InnoextractPath},
		sink:     sink,
	}

	inputs, err := e.discoverInputs(opts.Path)
	if err != nil {
		return err
	}

	for _, input := range inputs {
		// Interruption is honored between units of work only.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := e.processFile(ctx, input); err != nil {
			logger.ErrorKV(ctx, "Skipping installer after failure",
				"path", input, "error", err)
		}
	}

	return nil
}

// discoverInputs resolves the input path to the list of installer files
// to process: the path itself, or the applicable files of a directory.
func (e *extractor) discoverInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, errdefs.ErrInvalidArgument)
	}

	if !info.IsDir() {
		if !container.Applicable(e.kind, path) {
			return nil, fmt.Errorf("input %s is not a %q installer: %w",
				path, e.kind, errdefs.ErrInvalidArgument)
		}

		return []string{path}, nil
	}

	listing, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list input directory %s: %w", path, err)
	}

	var candidates []string
	for _, entry := range listing {
		if !entry.IsDir() {
			candidates = append(candidates, filepath.Join(path, entry.Name()))
		}
	}

	inputs := container.FilterApplicable(e.kind, candidates)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no %q installers in directory %s: %w",
			e.kind, path, errdefs.ErrNotFound)
	}

	return inputs, nil
}

// processFile opens one installer container and processes each of its
// capsules. Per-capsule failures are logged skips.
func (e *extractor) processFile(ctx context.Context, path string) error {
	c, err := container.Open(ctx, e.kind, path, e.openOpts)
	if err != nil {
		return err
	}

	// Best-effort cleanup.
	defer func() {
		_ = c.Close()
	}()

	entries := c.Entries()

	logger.InfoKV(ctx, "Processing installer",
		"path", path, "capsules", len(entries))

	for _, name := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := e.processCapsule(ctx, c, name); err != nil {
			switch {
			case errdefs.IsNotFound(err):
				logger.WarnKV(ctx, "No matching GUID in capsule",
					"installer", path, "capsule", name)
			case errdefs.IsNotImplemented(err):
				logger.WarnKV(ctx, "Unknown capsule format, skipping",
					"installer", path, "capsule", name)
			default:
				return err
			}
		}
	}

	return nil
}

// processCapsule reads one capsule to exhaustion, searches it for the
// target GUIDs and writes every matched image to the sink.
func (e *extractor) processCapsule(ctx context.Context, c container.Container, name string) error {
	h, err := c.Open(ctx, name)
	if err != nil {
		return err
	}

	// Best-effort cleanup.
	defer func() {
		_ = h.Close()
	}()

	data, err := io.ReadAll(h)
	if err != nil {
		return fmt.Errorf("read capsule %s: %w", name, err)
	}

	result, err := firmware.Search(data, e.guids)
	if err != nil {
		return err
	}

	installer := filepath.Base(c.Path())

	for _, guid := range e.guids {
		images, ok := result[guid]
		if !ok {
			continue
		}

		logger.InfoKV(ctx, "Matched GUID in capsule",
			"installer", installer, "capsule", name, "guid", guid, "images", len(images))

		for _, image := range images {
			if err := e.sink.Write(installer, name, guid, image); err != nil {
				return err
			}
		}
	}

	return nil
}
