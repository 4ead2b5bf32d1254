package buildsys

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// pathValue accepts both strings and values returned by resolve_path
func pathValue(value starlark.Value) (string, bool) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), true
	case StarlarkPath:
		return string(value), true
	default:
		return "", false
	}
}

func unpackPath(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
	var raw starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &raw); err != nil {
		return "", err
	}

	value, ok := pathValue(raw)
	if !ok {
		return "", eris.Errorf("%s: got %s, want path or string", fn.Name(), raw.Type())
	}

	return value, nil
}

// resolve_path(*parts, base=None) joins parts relative to the script's directory; "//" refers to the
// project root. With base, the result is relative to that directory.
func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	base := ""

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if key != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), key)
		}

		value, ok := pathValue(kv[1])
		if !ok {
			return nil, eris.Errorf("%s: invalid type %s for base, want path or string", fn.Name(), kv[1].Type())
		}
		base = normalizePath(ctx, value)
	}

	if len(args) == 0 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		value, ok := arg.(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: argument %d is a %s, want string", fn.Name(), idx, arg.Type())
		}
		parts[idx] = value.GoString()
	}

	result := normalizePath(ctx, parts...)
	if base != "" {
		rel, err := filepath.Rel(base, result)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: failed to make %s relative to %s", fn.Name(), result, base)
		}
		result = rel
	}

	return StarlarkPath(result), nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

// error(msg) aborts the script
func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

// getenv(name, default="") sees variables set with setenv and prepend_path
func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, fallback string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &fallback); err != nil {
		return nil, err
	}

	if value, ok := getCtx(thread).envOverrides[key]; ok {
		return starlark.String(value), nil
	}

	if value, ok := os.LookupEnv(key); ok {
		return starlark.String(value), nil
	}

	return starlark.String(fallback), nil
}

// setenv(name, value) sets a variable for every task of the script
func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.None, nil
}

// prepend_path(dir) puts dir in front of PATH for every task and returns the new PATH
func prependPathDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	dir, err := unpackPath(fn, args, kwargs)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	path, ok := ctx.envOverrides["PATH"]
	if !ok {
		path = os.Getenv("PATH")
	}

	path = normalizePath(ctx, dir) + string(os.PathListSeparator) + path
	ctx.envOverrides["PATH"] = path
	return starlark.String(path), nil
}

// lookupYAML follows a dotted key through nested mappings and sequences
func lookupYAML(doc interface{}, key string) (interface{}, bool) {
	value := doc
	for _, part := range strings.Split(key, ".") {
		switch node := value.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			value = next
		case map[interface{}]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			value = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			value = node[idx]
		default:
			return nil, false
		}
	}

	return value, value != nil
}

// read_yaml(file, key, default=None) returns the value at the dotted key or default. Files are parsed once.
func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var yamlFile, yamlKey string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &yamlFile, &yamlKey, &fallback); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	yamlFile = normalizePath(ctx, yamlFile)

	doc, loaded := ctx.yamlCache[yamlFile]
	if !loaded {
		content, err := os.ReadFile(yamlFile)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", yamlFile)
		}

		if err = yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", yamlFile)
		}
		ctx.yamlCache[yamlFile] = doc
	}

	value, found := lookupYAML(doc, yamlKey)
	if !found {
		return fallback, nil
	}

	return interfaceToStarlark(thread, value)
}

func statBuiltin(check func(os.FileInfo) bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		path, err := unpackPath(fn, args, kwargs)
		if err != nil {
			return nil, err
		}

		stat, err := os.Stat(normalizePath(getCtx(thread), path))
		return starlark.Bool(err == nil && check(stat)), nil
	}
}

var (
	starIsdir  = statBuiltin(func(info os.FileInfo) bool { return info.IsDir() })
	starIsfile = statBuiltin(func(info os.FileInfo) bool { return info.Mode().IsRegular() })
)

// execute(command, format="text", show_error=False) runs a command while the script is evaluated and returns
// its output, or False if it failed. format="json" decodes the output.
func starExec(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	outputFormat := "text"
	showError := false

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &outputFormat, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	if outputFormat != "text" && outputFormat != "json" {
		return nil, eris.Errorf("%s: unsupported format %s", fn.Name(), outputFormat)
	}

	ctx := getCtx(thread)
	parser := syntax.NewParser()
	base := filepath.Dir(ctx.filepath)
	script := TaskCmdScript{TaskName: fn.Name()}

	switch command := command.(type) {
	case starlark.String:
		script.Content = command.GoString()
	case starlark.Tuple:
		call, err := processCmdParts(command, parser, base)
		if err != nil {
			return nil, err
		}

		if script.Content, err = printShell(call); err != nil {
			return nil, err
		}
	default:
		return nil, eris.Errorf("%s: unexpected type %s for command, want string or tuple", fn.Name(), command.Type())
	}

	stmts, err := script.ToShellStmts(parser)
	if err != nil {
		return nil, err
	}

	var stdout strings.Builder
	var stderr io.Writer = io.Discard
	if showError {
		stderr = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(base),
		interp.Env(expand.ListEnviron(getEnvVars(ctx)...)),
		interp.ExecHandler(newExecHandler(nil)),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, stmt := range stmts {
		if err := runner.Run(ctx.ctx, stmt); err != nil {
			if showError {
				log(ctx.ctx).Error().Err(err).Msgf("%s failed", script.Content)
			}
			return starlark.False, nil
		}
	}

	if outputFormat == "json" {
		var decoded interface{}
		if err := json.Unmarshal([]byte(stdout.String()), &decoded); err != nil {
			return nil, eris.Wrap(err, "failed to parse command output")
		}

		return interfaceToStarlark(thread, decoded)
	}

	return starlark.String(stdout.String()), nil
}
