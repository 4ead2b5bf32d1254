// Package cmd implements the CLI for the buildsys package
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/12rambau/pypackage-skeleton/tools/pkg/buildsys"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/config"
	"github.com/12rambau/pypackage-skeleton/tools/pkg/skeleton"
)

var TaskCmd = &cobra.Command{
	Use:   "task [options] [tasks] [-- args]",
	Short: "Run the project's maintenance tasks",
	Long: `This command parses the first tasks.star file it finds (or the built-in skeleton tasks) and
executes the given tasks. Arguments of the form name=value set script options, arguments after
"--" are passed on to the tasks. Without task names, the script's default tasks are run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var posArgs []string
		if dash := cmd.ArgsLenAtDash(); dash > -1 {
			posArgs = args[dash:]
			args = args[:dash]
		}

		options, taskArgs := splitArgs(args)

		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return err
		}

		reinstall, err := cmd.Flags().GetBool("reinstall")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		cfg, err := config.FromContext(ctx)
		if err != nil {
			return err
		}

		params, err := findScript(cfg.TaskFile)
		if err != nil {
			return err
		}
		params.Options = options
		params.PosArgs = posArgs

		script, err := buildsys.RunScript(ctx, params, true)
		if err != nil {
			return eris.Wrap(err, "Failed to parse tasks")
		}

		if len(taskArgs) == 0 && !list {
			taskArgs = script.Defaults
		}

		if list || len(taskArgs) == 0 {
			return printTaskList(cmd.OutOrStdout(), script)
		}

		for _, name := range taskArgs {
			if _, ok := script.Tasks[name]; !ok {
				return eris.Errorf("Task %s not found", name)
			}
		}

		opts := buildsys.RunOptions{
			EnvDir:    cfg.EnvDir,
			Python:    cfg.Python,
			DryRun:    dryRun,
			Reinstall: reinstall,
			Commands:  Commands(cfg),
			Stdout:    cmd.OutOrStdout(),
			Stderr:    cmd.ErrOrStderr(),
		}
		return runTasks(ctx, taskArgs, script.Tasks, opts)
	},
}

func init() {
	TaskCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	TaskCmd.Flags().BoolP("list", "l", false, "list the available tasks and exit")
	TaskCmd.Flags().BoolP("reinstall", "r", false, "recreate the virtualenvs instead of reusing them")
}

// splitArgs separates script options (name=value) from task names
func splitArgs(args []string) (map[string]string, []string) {
	taskArgs := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return options, taskArgs
}

// findScript returns the task script to run. An explicitly configured file has to exist, otherwise the
// directories from the working directory upwards are searched and the built-in script is used as last resort.
func findScript(configured string) (buildsys.ScriptParams, error) {
	wd, err := os.Getwd()
	if err != nil {
		return buildsys.ScriptParams{}, eris.Wrap(err, "Failed to retrieve the current working directory")
	}

	if configured != "" {
		if !filepath.IsAbs(configured) {
			configured = filepath.Join(wd, configured)
		}

		if _, err := os.Stat(configured); err != nil {
			return buildsys.ScriptParams{}, eris.Wrapf(err, "Failed to find task file %s", configured)
		}

		return buildsys.ScriptParams{
			Filename:    configured,
			ProjectRoot: filepath.Dir(configured),
		}, nil
	}

	path := wd
	for {
		taskPath := filepath.Join(path, skeleton.ScriptName)
		_, err := os.Stat(taskPath)
		if err == nil {
			return buildsys.ScriptParams{
				Filename:    taskPath,
				ProjectRoot: path,
			}, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return buildsys.ScriptParams{}, eris.Wrapf(err, "Failed to check %s", taskPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			break
		}

		path = parent
	}

	return buildsys.ScriptParams{
		Filename:    filepath.Join(wd, skeleton.ScriptName),
		Content:     skeleton.Script,
		ProjectRoot: wd,
	}, nil
}

func newProgressBar(total int) *progressbar.ProgressBar {
	visible := total > 1 && os.Getenv("CI") != "true" && IsTerminal(os.Stderr)

	return progressbar.NewOptions(total,
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("tasks"),
	)
}

func runTasks(ctx context.Context, names []string, tasks buildsys.TaskList, opts buildsys.RunOptions) error {
	bar := newProgressBar(len(names))
	defer bar.Finish()

	for _, name := range names {
		bar.Describe(name)
		buildsys.Log(ctx).Debug().Str("task", name).Msg("starting")

		err := buildsys.RunTask(ctx, name, tasks, opts)
		if err != nil {
			return eris.Wrapf(err, "Failed task %s", name)
		}

		bar.Add(1)
	}

	return nil
}

func printTaskList(out io.Writer, script *buildsys.Script) error {
	names := script.Tasks.Names()
	if len(names) == 0 {
		_, err := fmt.Fprintln(out, "No tasks declared.")
		return err
	}

	defaults := make(map[string]bool, len(script.Defaults))
	for _, name := range script.Defaults {
		defaults[name] = true
	}

	maxNameLen := 0
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	fmt.Fprintln(out, "Available tasks (* runs by default):")
	indent := strings.Repeat(" ", maxNameLen+7)
	lineFmt := fmt.Sprintf(" %%s %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		marker := "-"
		if defaults[name] {
			marker = "*"
		}

		desc := wordwrap.WrapString(script.Tasks[name].Desc, 72)
		desc = strings.ReplaceAll(desc, "\n", "\n"+indent)
		if _, err := fmt.Fprintf(out, lineFmt, marker, name+":", desc); err != nil {
			return err
		}
	}

	if len(script.Options) > 0 {
		fmt.Fprintln(out, "\nOptions (name=value):")
		optionNames := make([]string, 0, len(script.Options))
		for name := range script.Options {
			optionNames = append(optionNames, name)
		}
		sort.Strings(optionNames)

		for _, name := range optionNames {
			option := script.Options[name]
			if _, err := fmt.Fprintf(out, "   %s (default %q): %s\n", name, option.Default(), option.Help); err != nil {
				return err
			}
		}
	}

	return nil
}
