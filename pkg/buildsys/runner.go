package buildsys

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// RunOptions controls how RunTask executes a task
type RunOptions struct {
	// EnvDir contains one virtualenv per task.
	EnvDir string
	// Python is the interpreter used to create virtualenvs.
	Python string
	// DryRun only logs the commands.
	DryRun bool
	// Reinstall recreates virtualenvs even for tasks that allow reuse.
	Reinstall bool
	// Commands are resolved before looking up executables in PATH.
	Commands CommandSet
	Stdout   io.Writer
	Stderr   io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks map[string]bool
		opts     RunOptions
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func newExecHandler(commands CommandSet) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			if command, ok := commands[args[0]]; ok {
				err := command(ctx, args[1:])
				if err != nil {
					if status, ok := interp.IsExitStatus(err); ok {
						return interp.NewExitStatus(status)
					}

					log(ctx).Error().Err(err).Msgf("%s failed", args[0])
					return interp.NewExitStatus(1)
				}

				return nil
			}
		}

		return defaultExecHandler(ctx, args)
	}
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// ExitCode maps the error returned by RunTask to a process exit code. Failed commands keep their own status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if status, ok := interp.IsExitStatus(err); ok && status != 0 {
		return int(status)
	}

	return 1
}

// RunTask executes the given task
func RunTask(ctx context.Context, name string, tasks TaskList, opts RunOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.EnvDir == "" {
		opts.EnvDir = ".nox"
	}

	rctx := runtimeCtx{
		opts:     opts,
		runTasks: make(map[string]bool),
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	taskMeta, found := tasks[name]
	if !found {
		return eris.Errorf("Task %s not found", name)
	}

	return runTaskInternal(ctx, taskMeta, tasks)
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	env := make(map[string]string, len(task.Env)+2)
	for name, value := range task.Env {
		env[name] = value
	}

	steps := make([]TaskCmd, 0, len(task.Cmds)+2)
	if task.Venv {
		venv := venvFor(task, rctx.opts)
		setup, err := venv.setup(ctx, task, rctx.opts)
		if err != nil {
			return eris.Wrapf(err, "failed to prepare the virtualenv for %s", task.Short)
		}

		steps = append(steps, setup...)
		venv.activate(env)
	}
	steps = append(steps, task.Cmds...)

	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(expand.ListEnviron(mergeEnv(env)...)),
		interp.ExecHandler(newExecHandler(rctx.opts.Commands)),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, rctx.opts.Stdout, rctx.opts.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}

	for _, item := range steps {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}
		if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				printer.Print(&strBuffer, stm)
				log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(strBuffer.String())

				if !rctx.opts.DryRun {
					err = runner.Run(ctx, stm)
					if err != nil {
						return err
					}

					if runner.Exited() {
						rctx.runTasks[task.Short] = true
						return nil
					}
				}
			}
		} else {
			subTask, err := item.ToTask()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve task ref")
			}

			if subTask == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			err = runTaskInternal(ctx, subTask, tasks)
			if err != nil {
				return eris.Wrapf(err, "Task %s failed in %s", subTask.Short, task.Short)
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	rctx.runTasks[task.Short] = true
	return nil
}
