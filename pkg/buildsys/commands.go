package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/interp"
)

// Command is an in-process implementation of a shell command. args excludes the command name.
type Command func(ctx context.Context, args []string) error

// CommandSet maps command names to their in-process implementation
type CommandSet map[string]Command

// Merge returns a new set containing the commands of s and other; other wins on conflicts
func (s CommandSet) Merge(other CommandSet) CommandSet {
	result := make(CommandSet, len(s)+len(other))
	for name, cmd := range s {
		result[name] = cmd
	}
	for name, cmd := range other {
		result[name] = cmd
	}

	return result
}

// CommandDir returns the working directory of the shell that invoked the current command
func CommandDir(ctx context.Context) string {
	return interp.HandlerCtx(ctx).Dir
}

// CommandOutput returns the stdout and stderr of the shell that invoked the current command
func CommandOutput(ctx context.Context) (io.Writer, io.Writer) {
	hc := interp.HandlerCtx(ctx)
	stdout, stderr := hc.Stdout, hc.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	return stdout, stderr
}

// CommandPath resolves path relative to the invoking shell's working directory
func CommandPath(ctx context.Context, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(CommandDir(ctx), path)
}

func commandFlags(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	return flags
}

// expandArgs resolves glob patterns on Windows where the shell doesn't do it for native commands
func expandArgs(ctx context.Context, args []string, allowEmpty bool) ([]string, error) {
	items := make([]string, 0, len(args))
	for _, arg := range args {
		arg = CommandPath(ctx, arg)
		if runtime.GOOS != "windows" {
			items = append(items, arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowEmpty {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

func mvCommand(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return eris.New("Not enough parameters")
	}

	dest := filepath.Clean(CommandPath(ctx, args[len(args)-1]))
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}
	if err == nil {
		destIsDir = info.IsDir()
	}

	if len(args) > 2 && !destIsDir {
		return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
	}

	items, err := expandArgs(ctx, args[:len(args)-1], false)
	if err != nil {
		return err
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

func rmCommand(ctx context.Context, args []string) error {
	flags := commandFlags("rm")
	recursive := flags.BoolP("recursive", "r", false, "recursively delete directories")
	force := flags.BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "rm")
	}

	items, err := expandArgs(ctx, flags.Args(), *force)
	if err != nil {
		return err
	}

	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if *force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !*recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(item)
		if err != nil && (!*force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

func mkdirCommand(ctx context.Context, args []string) error {
	flags := commandFlags("mkdir")
	makeParents := flags.BoolP("parents", "p", false, "create parent directories as needed")
	if err := flags.Parse(args); err != nil {
		return eris.Wrap(err, "mkdir")
	}

	for _, item := range flags.Args() {
		item = CommandPath(ctx, item)

		var err error
		if *makeParents {
			err = os.MkdirAll(item, 0770)
		} else {
			err = os.Mkdir(item, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

// PosixCommands returns cross-platform implementations of mv, rm and mkdir so that task scripts behave the
// same on every OS
func PosixCommands() CommandSet {
	return CommandSet{
		"mv":    mvCommand,
		"rm":    rmCommand,
		"mkdir": mkdirCommand,
	}
}
