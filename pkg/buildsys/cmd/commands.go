package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/12rambau/pypackage-skeleton/tools/pkg/buildsys"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/citation"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/config"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/docsconf"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/warnings"
)

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}

	return filepath.Join(dir, path)
}

func firstArg(args []string, fallback string) string {
	if len(args) > 0 {
		return args[0]
	}

	return fallback
}

func releaseDate(ctx context.Context, cfg *config.Config, dir string, args []string) error {
	path := resolve(dir, firstArg(args, cfg.Citation))
	now := time.Now()

	replaced, err := citation.UpdateReleaseDate(path, now)
	if err != nil {
		return err
	}

	logger := buildsys.Log(ctx)
	switch replaced {
	case 0:
		logger.Warn().Str("path", path).Msgf("%s has no %s line, nothing to update", path, citation.ReleaseDateKey)
	case 1:
		logger.Info().Str("path", path).Msgf("release date set to %s", now.Format(citation.DateFormat))
	default:
		logger.Warn().Str("path", path).Msgf("replaced %d %s lines with %s", replaced, citation.ReleaseDateKey, now.Format(citation.DateFormat))
	}

	return nil
}

func checkWarnings(ctx context.Context, cfg *config.Config, dir string, stdout io.Writer, args []string) error {
	logPath := resolve(dir, firstArg(args, "warnings.txt"))
	ignorePath := ""
	if cfg.Docs.Ignore != "" {
		ignorePath = resolve(dir, cfg.Docs.Ignore)
	}

	report, err := warnings.Check(logPath, ignorePath)
	if err != nil {
		return err
	}

	if err = report.Print(stdout, IsTerminal(stdout)); err != nil {
		return eris.Wrap(err, "failed to print warnings")
	}

	if !report.OK() {
		return eris.Errorf("the documentation build produced %d unexpected warning(s)", len(report.Warnings))
	}

	return nil
}

type docsConfigOptions struct {
	yaml bool
	// source is the Sphinx source directory; paths are rewritten if the output lives elsewhere
	source string
}

func docsConfigFlags(flags *pflag.FlagSet) *docsConfigOptions {
	opts := new(docsConfigOptions)
	flags.BoolVar(&opts.yaml, "yaml", false, "output YAML instead of conf.py")
	flags.StringVar(&opts.source, "source", "", "Sphinx source directory the settings' paths are relative to")
	return opts
}

func docsConfig(ctx context.Context, cfg *config.Config, dir string, stdout io.Writer, args []string, opts *docsConfigOptions) error {
	logger := buildsys.Log(ctx)
	settings := docsconf.New(cfg.Metadata(), time.Now())
	for _, problem := range settings.Check() {
		logger.Warn().Msgf("documentation settings: %s", problem)
	}

	write := settings.WriteConf
	if opts.yaml {
		write = settings.WriteYAML
	}

	target := firstArg(args, "-")
	if target == "-" {
		return write(stdout)
	}

	path := resolve(dir, target)
	if opts.source != "" {
		rel, err := filepath.Rel(filepath.Dir(path), resolve(dir, opts.source))
		if err != nil {
			return eris.Wrapf(err, "failed to locate %s from %s", opts.source, path)
		}

		settings = settings.Relocate(rel)
		write = settings.WriteConf
		if opts.yaml {
			write = settings.WriteYAML
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create the directory for %s", path)
	}

	handle, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", path)
	}

	err = write(handle)
	if cErr := handle.Close(); err == nil && cErr != nil {
		err = eris.Wrapf(cErr, "failed to write %s", path)
	}
	if err != nil {
		return err
	}

	logger.Info().Str("path", path).Msgf("wrote documentation settings to %s", target)
	return nil
}

// Commands returns the in-process commands available to task scripts
func Commands(cfg *config.Config) buildsys.CommandSet {
	return buildsys.PosixCommands().Merge(buildsys.CommandSet{
		"release-date": func(ctx context.Context, args []string) error {
			return releaseDate(ctx, cfg, buildsys.CommandDir(ctx), args)
		},
		"check-warnings": func(ctx context.Context, args []string) error {
			stdout, _ := buildsys.CommandOutput(ctx)
			return checkWarnings(ctx, cfg, buildsys.CommandDir(ctx), stdout, args)
		},
		"docs-config": func(ctx context.Context, args []string) error {
			stdout, _ := buildsys.CommandOutput(ctx)
			flags := pflag.NewFlagSet("docs-config", pflag.ContinueOnError)
			flags.SetOutput(io.Discard)
			opts := docsConfigFlags(flags)
			if err := flags.Parse(args); err != nil {
				return eris.Wrap(err, "docs-config")
			}

			return docsConfig(ctx, cfg, buildsys.CommandDir(ctx), stdout, flags.Args(), opts)
		},
	})
}

var ReleaseDateCmd = &cobra.Command{
	Use:   "release-date [citation file]",
	Short: "Update the release date of the citation file",
	Long: `Replaces the value of every line starting with "date-released:" in the citation file
(CITATION.cff by default) with today's date. All other lines are left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		return releaseDate(cmd.Context(), cfg, "", args)
	},
}

var CheckWarningsCmd = &cobra.Command{
	Use:   "check-warnings [warning log]",
	Short: "Fail if the documentation build emitted unexpected warnings",
	Long: `Reads the warning log written by sphinx-build -w (warnings.txt by default), drops the
warnings matching a pattern from the ignore file and fails if any remain.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		return checkWarnings(cmd.Context(), cfg, "", cmd.OutOrStdout(), args)
	},
}

var DocsConfigCmd = &cobra.Command{
	Use:   "docs-config [output]",
	Short: "Render the Sphinx configuration",
	Long: `Writes the documentation settings as a Sphinx conf.py (or YAML with --yaml) to the given file or stdout.
With --source, paths in the settings are rewritten so that the file can live outside the source directory
(pass its directory to sphinx-build -c).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		return docsConfig(cmd.Context(), cfg, "", cmd.OutOrStdout(), args, docsConfigOpts)
	},
}

var docsConfigOpts *docsConfigOptions

func init() {
	docsConfigOpts = docsConfigFlags(DocsConfigCmd.Flags())
}
