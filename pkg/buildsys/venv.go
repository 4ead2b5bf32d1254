package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
)

// virtualenv is the isolated Python environment a task runs in
type virtualenv struct {
	dir string
}

func venvFor(task *Task, opts RunOptions) virtualenv {
	dir := opts.EnvDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(task.Base, dir)
	}

	return virtualenv{dir: filepath.Join(dir, task.Short)}
}

func (v virtualenv) binDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(v.dir, "Scripts")
	}

	return filepath.Join(v.dir, "bin")
}

func (v virtualenv) python() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(v.binDir(), "python.exe")
	}

	return filepath.Join(v.binDir(), "python")
}

func (v virtualenv) exists() (bool, error) {
	_, err := os.Stat(v.python())
	if err == nil {
		return true, nil
	}

	if eris.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, eris.Wrapf(err, "failed to check %s", v.dir)
}

// setup returns the commands that create the virtualenv (unless it can be reused) and install the task's packages
func (v virtualenv) setup(ctx context.Context, task *Task, opts RunOptions) ([]TaskCmd, error) {
	steps := make([]TaskCmd, 0, 2)

	found, err := v.exists()
	if err != nil {
		return nil, err
	}

	if found && task.ReuseVenv && !opts.Reinstall {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("reusing existing virtualenv at %s", v.dir)
	} else {
		content, err := printShell(shellCall(opts.Python, "-m", "venv", "--clear", v.dir))
		if err != nil {
			return nil, err
		}

		steps = append(steps, TaskCmdScript{TaskName: task.Short, Content: content})
	}

	if len(task.Install) > 0 {
		args := append([]string{v.python(), "-m", "pip", "install", "--quiet"}, task.Install...)
		content, err := printShell(shellCall(args...))
		if err != nil {
			return nil, err
		}

		steps = append(steps, TaskCmdScript{TaskName: task.Short, Content: content})
	}

	return steps, nil
}

// activate applies the variables a virtualenv's activate script would set
func (v virtualenv) activate(env map[string]string) {
	path, ok := env["PATH"]
	if !ok {
		path = os.Getenv("PATH")
	}

	env["VIRTUAL_ENV"] = v.dir
	env["PATH"] = v.binDir() + string(os.PathListSeparator) + path
}
