package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/uefi-capsule-extract/internal/service/extractor"
	"github.com/oshokin/uefi-capsule-extract/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// outDir receives the extracted image files.
	outDir string

	// force overwrites existing output files without confirmation.
	force bool

	// logLevel is the minimum logging level for this run.
	logLevel string

	// rootCmd represents the base command extracting firmware images from
	// BIOS updater containers.
	rootCmd = &cobra.Command{
		Use:   "uefi-capsule-extract [flags] <path> <format> <guid>...",
		Short: "Extract executable images with given GUIDs from BIOS updaters",
		Long: "Extract executable firmware images from the update capsules bundled " +
			"inside vendor BIOS updaters. The path may be a single installer file or " +
			"a directory processed as a batch; format selects the container kind " +
			"(iso for optical disc images, exe for Inno Setup installers).",
		Args: cobra.MinimumNArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &extractor.Options{
				Path:       args[0],
				Format:     args[1],
				GUIDs:      args[2:],
				OutDir:     outDir,
				Force:      force,
				LogLevel:   logLevel,
				ConfigPath: configPath,
			}

			return extractor.Run(ctx, options)
		},
	}
)

// Execute runs the uefi-capsule-extract CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "folder where extracted image files are stored")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite output files without asking")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "logging level (debug, info, warn, error)")
	rootCmd.SilenceUsage = true
}
