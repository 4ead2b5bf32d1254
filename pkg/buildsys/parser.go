package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	posArgs      []string
	defaults     []string
	tasks        []*Task
	initPhase    bool
}

// ScriptParams describes the task script to evaluate and the values passed in from the command line
type ScriptParams struct {
	// Filename is used to resolve relative paths and in error messages.
	Filename string
	// Content is read from Filename if it's nil.
	Content     []byte
	ProjectRoot string
	Options     map[string]string
	PosArgs     []string
}

// Script is the result of evaluating a task script
type Script struct {
	Tasks    TaskList
	Options  map[string]ScriptOption
	Defaults []string
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}

		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	args := make([]string, 0, len(parts)-len(envVars))
	for _, arg := range parts[len(envVars):] {
		switch value := arg.(type) {
		case starlark.String:
			args = append(args, value.GoString())
		case StarlarkPath:
			encodedValue := string(value)

			if filepath.IsAbs(encodedValue) {
				// absolute paths cause issues on Windows
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			args = append(args, filepath.ToSlash(encodedValue))
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}
	}

	if len(args) == 0 {
		return nil, eris.New("command has no arguments")
	}

	cmd.Args = shellCall(args...).Args
	return cmd, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	filepath := simplifyPath(ctx, ctx.filepath)

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", filepath, pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func posargs(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	result := make(starlark.Tuple, len(ctx.posArgs))
	for idx, arg := range ctx.posArgs {
		result[idx] = starlark.String(arg)
	}

	return result, nil
}

func defaultTasks(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, eris.Errorf("%s: unexpected keyword arguments", fn.Name())
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	names, err := starlarkIterable2stringSlice(args, "default_tasks")
	if err != nil {
		return nil, err
	}

	ctx.defaults = names
	return starlark.None, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var install *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List

	task := &Task{
		Venv:      true,
		ReuseVenv: true,
	}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short?", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "base?", &task.Base, "env?", &env, "cmds?", &cmds, "venv?", &task.Venv,
		"reuse_venv?", &task.ReuseVenv, "install?", &install)
	if err != nil {
		return nil, err
	}

	if task.Short == "" {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	task.Env = map[string]string{}

	if task.Base == "" {
		task.Base = "."
	}
	task.Base = normalizePath(getCtx(thread), task.Base)

	if install != nil {
		task.Install, err = starlarkIterable2stringSlice(install, "install")
		if err != nil {
			return nil, err
		}
	}

	if len(task.Install) > 0 && !task.Venv {
		return nil, eris.Errorf("%s: task %s installs packages but has no virtualenv", fn.Name(), task.Short)
	}

	if env != nil {
		for _, rawKey := range env.Keys() {
			var key string

			switch value := rawKey.(type) {
			case starlark.String:
				key = value.GoString()
			default:
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", rawKey.Type())
			}

			rawValue, _, err := env.Get(rawKey)
			if err != nil {
				return nil, err
			}
			switch value := rawValue.(type) {
			case starlark.String:
				task.Env[key] = value.GoString()
			default:
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", rawValue.Type(), key)
			}
		}
	}

	parser := syntax.NewParser()
	task.Cmds = make([]TaskCmd, 0)
	if cmds == nil {
		cmds = starlark.NewList(nil)
	}

	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		var parts starlark.Tuple

		switch value := item.(type) {
		case starlark.String:
			task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: value.GoString()})
		case starlark.Tuple:
			parts = value
		case *starlark.List:
			parts = make(starlark.Tuple, value.Len())
			for subIdx := 0; subIdx < value.Len(); subIdx++ {
				parts[subIdx] = value.Index(subIdx)
			}
		case *Task:
			task.Cmds = append(task.Cmds, TaskCmdTaskRef{Task: value})
		default:
			return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists and tasks are valid", fn.Name(), item.Type())
		}

		if parts != nil {
			cmd, err := processCmdParts(parts, parser, task.Base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			content, err := printShell(cmd)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Index: idx, Content: content})
		}

		idx++
	}

	if len(task.Cmds) == 0 {
		warn(thread, "%s: task %s has no commands", fn.Name(), task.Short)
	}

	if !task.Hidden {
		ctx := getCtx(thread)
		ctx.tasks = append(ctx.tasks, task)
	}
	return task, nil
}

// RunScript executes a starlark script and returns the declared options. If doConfigure is true, the script's
// configure function is called and the declared tasks are collected and returned.
func RunScript(ctx context.Context, params ScriptParams, doConfigure bool) (*Script, error) {
	projectRoot, err := filepath.Abs(params.ProjectRoot)
	if err != nil {
		return nil, err
	}

	filename, err := filepath.Abs(params.Filename)
	if err != nil {
		return nil, err
	}

	builtins := starlark.StringDict{
		"OS":            starlark.String(runtime.GOOS),
		"ARCH":          starlark.String(runtime.GOARCH),
		"info":          starlark.NewBuiltin("info", starInfo),
		"warn":          starlark.NewBuiltin("warn", starWarn),
		"error":         starlark.NewBuiltin("error", starError),
		"resolve_path":  starlark.NewBuiltin("resolve_path", resolvePath),
		"option":        starlark.NewBuiltin("option", option),
		"posargs":       starlark.NewBuiltin("posargs", posargs),
		"default_tasks": starlark.NewBuiltin("default_tasks", defaultTasks),
		"getenv":        starlark.NewBuiltin("getenv", getenv),
		"setenv":        starlark.NewBuiltin("setenv", setenv),
		"prepend_path":  starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":     starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":         starlark.NewBuiltin("isdir", starIsdir),
		"isfile":        starlark.NewBuiltin("isfile", starIsfile),
		"execute":       starlark.NewBuiltin("execute", starExec),
		"task":          starlark.NewBuiltin("task", task),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: params.Options,
		envOverrides: make(map[string]string),
		posArgs:      params.PosArgs,
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	if threadCtx.optionValues == nil {
		threadCtx.optionValues = map[string]string{}
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script := params.Content
	if script == nil {
		script, err = os.ReadFile(filename)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read file")
		}
	}

	displayName := simplifyPath(&threadCtx, filename)
	globals, err := starlark.ExecFile(thread, displayName, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", displayName, evalError.Backtrace())
		}
		return nil, eris.Wrap(err, "failed to execute")
	}

	result := &Script{
		Tasks:   TaskList{},
		Options: threadCtx.options,
	}
	if !doConfigure {
		return result, nil
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, eris.Errorf("%s did not declare a configure function", displayName)
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare a configure value but it's not a function", displayName)
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, make(starlark.Tuple, 0), make([]starlark.Tuple, 0))
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.New(evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed configure call in %s", displayName)
	}

	for _, task := range threadCtx.tasks {
		if _, dup := result.Tasks[task.Short]; dup {
			return nil, eris.Errorf("%s declared the task %s twice", displayName, task.Short)
		}
		result.Tasks[task.Short] = task

		for name, value := range threadCtx.envOverrides {
			_, present := task.Env[name]
			if !present {
				task.Env[name] = value
			}
		}
	}

	for _, name := range threadCtx.defaults {
		if _, ok := result.Tasks[name]; !ok {
			return nil, eris.Errorf("%s lists %s as a default task but never declares it", displayName, name)
		}
	}
	result.Defaults = threadCtx.defaults

	return result, nil
}
