package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/12rambau/pypackage-skeleton/tools/pkg/buildsys"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/buildsys/cmd"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "skeleton",
	Short: "Maintenance tools for the Python package skeleton",
	Long: `This command bundles the tasks used to maintain the project: linting, tests, type checks,
the documentation build and citation metadata updates.
Configuration is read from skeleton.toml and SKELETON_* environment variables.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Log.JSON).Level(cfg.LogLevel())
		ctx := buildsys.WithLogger(c.Context(), &logger)
		ctx = config.WithConfig(ctx, cfg)
		c.SetContext(ctx)
		return nil
	},
}

func newLogger(json bool) zerolog.Logger {
	if json {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	return zerolog.New(cmd.NewConsoleWriter(os.Stderr))
}

func init() {
	rootCmd.AddCommand(cmd.TaskCmd)
	rootCmd.AddCommand(cmd.ReleaseDateCmd)
	rootCmd.AddCommand(cmd.CheckWarningsCmd)
	rootCmd.AddCommand(cmd.DocsConfigCmd)
}

// Execute runs the CLI and exits with the status of the first failed command
func Execute() {
	logger := newLogger(false)
	ctx := buildsys.WithLogger(context.Background(), &logger)

	c, err := rootCmd.ExecuteContextC(ctx)
	if err != nil {
		if c != nil && c.Context() != nil {
			ctx = c.Context()
		}

		buildsys.Log(ctx).Error().Err(err).Msg("Command failed")
		os.Exit(buildsys.ExitCode(err))
	}
}
