package buildsys

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"
)

// testContext returns a context whose logger writes JSON lines into the returned buffer
func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()

	buf := new(bytes.Buffer)
	logger := zerolog.New(buf)
	return WithLogger(context.Background(), &logger), buf
}

func parseScript(t *testing.T, ctx context.Context, root, content string, posArgs ...string) *Script {
	t.Helper()

	script, err := RunScript(ctx, ScriptParams{
		Filename:    filepath.Join(root, "tasks.star"),
		Content:     []byte(content),
		ProjectRoot: root,
		PosArgs:     posArgs,
	}, true)
	require.NoError(t, err)
	return script
}

func scriptContent(t *testing.T, task *Task) []string {
	t.Helper()

	result := make([]string, 0, len(task.Cmds))
	for _, cmd := range task.Cmds {
		script, ok := cmd.(TaskCmdScript)
		require.True(t, ok, "expected a script command, got %T", cmd)
		result = append(result, script.Content)
	}

	return result
}

func TestRunScriptCollectsTasks(t *testing.T) {
	ctx, _ := testContext(t)
	root := t.TempDir()

	script := parseScript(t, ctx, root, `
name = option("name", default = "world", help = "who to greet")
default_tasks("greet")

def configure():
    task(short = "greet", desc = "Say hello", install = ["cowsay"], cmds = [("echo", "hello", name)])
    task(short = "plain", venv = False, env = {"A": "1"}, cmds = ["echo $A"])
`)

	require.Len(t, script.Tasks, 2)
	assert.Equal(t, []string{"greet", "plain"}, script.Tasks.Names())
	assert.Equal(t, []string{"greet"}, script.Defaults)
	assert.Equal(t, "world", script.Options["name"].Default())
	assert.Equal(t, "who to greet", script.Options["name"].Help)

	greet := script.Tasks["greet"]
	assert.Equal(t, "Say hello", greet.Desc)
	assert.True(t, greet.Venv)
	assert.True(t, greet.ReuseVenv)
	assert.Equal(t, []string{"cowsay"}, greet.Install)
	assert.Equal(t, root, greet.Base)
	assert.Equal(t, []string{"echo hello world"}, scriptContent(t, greet))

	plain := script.Tasks["plain"]
	assert.False(t, plain.Venv)
	assert.Equal(t, "1", plain.Env["A"])
	assert.Equal(t, []string{"echo $A"}, scriptContent(t, plain))
}

func TestRunScriptOptionValues(t *testing.T) {
	ctx, _ := testContext(t)
	root := t.TempDir()

	script, err := RunScript(ctx, ScriptParams{
		Filename:    filepath.Join(root, "tasks.star"),
		Content:     []byte("name = option(\"name\", default = \"world\")\ndef configure():\n    task(short = \"greet\", venv = False, cmds = [(\"echo\", name)])\n"),
		ProjectRoot: root,
		Options:     map[string]string{"name": "moon"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo moon"}, scriptContent(t, script.Tasks["greet"]))
}

func TestRunScriptPosArgs(t *testing.T) {
	content := `
def configure():
    args = list(posargs())
    task(short = "test", venv = False, cmds = [["pytest"] + (args or ["tests"])])
`

	tests := []struct {
		name    string
		posArgs []string
		want    string
	}{
		{name: "default target", want: "pytest tests"},
		{name: "single target", posArgs: []string{"tests/test_a.py"}, want: "pytest tests/test_a.py"},
		{name: "multiple targets", posArgs: []string{"a.py", "b.py"}, want: "pytest a.py b.py"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testContext(t)
			script := parseScript(t, ctx, t.TempDir(), content, tt.posArgs...)
			assert.Equal(t, []string{tt.want}, scriptContent(t, script.Tasks["test"]))
		})
	}
}

func TestRunScriptErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "missing configure",
			content: `x = 1`,
			errMsg:  "did not declare a configure function",
		},
		{
			name:    "reserved name",
			content: "def configure():\n    task(short = \"configure\")\n",
			errMsg:  "reserved",
		},
		{
			name:    "unknown default task",
			content: "default_tasks(\"missing\")\ndef configure():\n    task(short = \"a\", venv = False, cmds = [\"true\"])\n",
			errMsg:  "never declares it",
		},
		{
			name:    "duplicate task",
			content: "def configure():\n    task(short = \"a\", venv = False, cmds = [\"true\"])\n    task(short = \"a\", venv = False, cmds = [\"true\"])\n",
			errMsg:  "twice",
		},
		{
			name:    "install without venv",
			content: "def configure():\n    task(short = \"a\", venv = False, install = [\"x\"], cmds = [\"true\"])\n",
			errMsg:  "installs packages but has no virtualenv",
		},
		{
			name:    "option outside init phase",
			content: "def configure():\n    option(\"late\")\n",
			errMsg:  "init phase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testContext(t)
			root := t.TempDir()

			_, err := RunScript(ctx, ScriptParams{
				Filename:    filepath.Join(root, "tasks.star"),
				Content:     []byte(tt.content),
				ProjectRoot: root,
			}, true)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRunScriptReadYaml(t *testing.T) {
	ctx, _ := testContext(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "CITATION.cff"), []byte("version: 1.2.3\nauthors:\n  - family-names: Doe\n"), 0o644))

	script := parseScript(t, ctx, root, `
version = read_yaml("CITATION.cff", "version")
author = read_yaml("CITATION.cff", "authors.0.family-names")
missing = read_yaml("CITATION.cff", "doi", "none")

def configure():
    task(short = "show", venv = False, cmds = [("echo", version, author, missing)])
`)
	assert.Equal(t, []string{"echo 1.2.3 Doe none"}, scriptContent(t, script.Tasks["show"]))
}

func TestShellWordRoundTrip(t *testing.T) {
	ctx, _ := testContext(t)
	root := t.TempDir()

	var got []string
	commands := CommandSet{
		"record": func(ctx context.Context, args []string) error {
			got = args
			return nil
		},
	}

	script := parseScript(t, ctx, root, `
def configure():
    task(short = "quote", venv = False, cmds = [("record", "a b", "$HOME", "it's", ".[test]", "--x=y", "")])
`)

	err := RunTask(ctx, "quote", script.Tasks, RunOptions{Commands: commands})
	require.NoError(t, err)
	assert.Equal(t, []string{"a b", "$HOME", "it's", ".[test]", "--x=y", ""}, got)
}

func TestRunTaskExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		cmds     string
		wantCode int
	}{
		{name: "success", cmds: `["true"]`, wantCode: 0},
		{name: "failure", cmds: `["false"]`, wantCode: 1},
		{name: "custom status", cmds: `["exit 3"]`, wantCode: 3},
		{name: "first failure aborts", cmds: `["exit 4", "exit 5"]`, wantCode: 4},
		{name: "failing command inside a sequence", cmds: `["true", "false", "true"]`, wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testContext(t)
			script := parseScript(t, ctx, t.TempDir(), "def configure():\n    task(short = \"t\", venv = False, cmds = "+tt.cmds+")\n")

			err := RunTask(ctx, "t", script.Tasks, RunOptions{})
			assert.Equal(t, tt.wantCode, ExitCode(err))
			if tt.wantCode == 0 {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunTaskStopsAtFirstFailure(t *testing.T) {
	ctx, _ := testContext(t)
	calls := 0
	commands := CommandSet{
		"count": func(ctx context.Context, args []string) error {
			calls++
			return nil
		},
	}

	script := parseScript(t, ctx, t.TempDir(), "def configure():\n    task(short = \"t\", venv = False, cmds = [\"count\", \"false\", \"count\"])\n")
	err := RunTask(ctx, "t", script.Tasks, RunOptions{Commands: commands})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunTaskCommandError(t *testing.T) {
	ctx, logs := testContext(t)
	commands := CommandSet{
		"broken": func(ctx context.Context, args []string) error {
			return os.ErrPermission
		},
	}

	script := parseScript(t, ctx, t.TempDir(), "def configure():\n    task(short = \"t\", venv = False, cmds = [\"broken\"])\n")
	err := RunTask(ctx, "t", script.Tasks, RunOptions{Commands: commands})
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, logs.String(), "broken failed")
}

func TestRunTaskUnknownTask(t *testing.T) {
	ctx, _ := testContext(t)
	err := RunTask(ctx, "missing", TaskList{}, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}

func TestRunTaskDryRun(t *testing.T) {
	ctx, logs := testContext(t)
	root := t.TempDir()
	envDir := filepath.Join(root, "envs")

	script := parseScript(t, ctx, root, `
def configure():
    task(short = "lint", install = ["pre-commit"], cmds = [("pre-commit", "run", "--all-files")])
`)

	err := RunTask(ctx, "lint", script.Tasks, RunOptions{DryRun: true, EnvDir: envDir, Python: "python3"})
	require.NoError(t, err)

	output := logs.String()
	venvDir := filepath.Join(envDir, "lint")
	assert.Contains(t, output, "python3 -m venv --clear "+venvDir)
	assert.Contains(t, output, "-m pip install --quiet pre-commit")
	assert.Contains(t, output, "pre-commit run --all-files")
	assert.NoDirExists(t, venvDir)
}

func TestRunTaskRef(t *testing.T) {
	ctx, _ := testContext(t)
	var order []string
	commands := CommandSet{
		"mark": func(ctx context.Context, args []string) error {
			order = append(order, args...)
			return nil
		},
	}

	script := parseScript(t, ctx, t.TempDir(), `
def configure():
    first = task(short = "first", venv = False, cmds = [("mark", "first")])
    task(short = "second", venv = False, cmds = [first, ("mark", "second"), first])
`)

	err := RunTask(ctx, "second", script.Tasks, RunOptions{Commands: commands})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRunTaskEnvironment(t *testing.T) {
	ctx, _ := testContext(t)
	root := t.TempDir()
	envDir := filepath.Join(root, ".nox")

	// pretend the virtualenv already exists so that nothing has to be installed
	venv := virtualenv{dir: filepath.Join(envDir, "env")}
	require.NoError(t, os.MkdirAll(venv.binDir(), 0o755))
	require.NoError(t, os.WriteFile(venv.python(), nil, 0o755))

	var gotVenv, gotPath, gotGreeting, gotDir string
	commands := CommandSet{
		"inspect": func(ctx context.Context, args []string) error {
			hc := interp.HandlerCtx(ctx)
			gotDir = CommandDir(ctx)
			gotVenv = hc.Env.Get("VIRTUAL_ENV").String()
			gotPath = hc.Env.Get("PATH").String()
			gotGreeting = hc.Env.Get("GREETING").String()

			stdout, _ := CommandOutput(ctx)
			_, err := stdout.Write([]byte("ok"))
			return err
		},
	}

	script := parseScript(t, ctx, root, `
def configure():
    task(short = "env", env = {"GREETING": "hi"}, cmds = ["inspect"])
`)

	stdout := new(bytes.Buffer)
	err := RunTask(ctx, "env", script.Tasks, RunOptions{EnvDir: envDir, Commands: commands, Stdout: stdout})
	require.NoError(t, err)

	assert.Equal(t, root, gotDir)
	assert.Equal(t, "ok", stdout.String())
	assert.Equal(t, venv.dir, gotVenv)
	assert.Equal(t, "hi", gotGreeting)
	assert.True(t, strings.HasPrefix(gotPath, venv.binDir()+string(os.PathListSeparator)), gotPath)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(os.ErrNotExist))
	assert.Equal(t, 3, ExitCode(interp.NewExitStatus(3)))
	assert.Equal(t, 3, ExitCode(eris.Wrap(interp.NewExitStatus(3), "Failed task test")))
}

func TestRunTaskCommandExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "success", err: nil, wantCode: 0},
		{name: "status is kept", err: interp.NewExitStatus(7), wantCode: 7},
		{name: "wrapped status is kept", err: eris.Wrap(interp.NewExitStatus(5), "lint"), wantCode: 5},
		{name: "plain error", err: eris.New("broken"), wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _ := testContext(t)
			commands := CommandSet{
				"tool": func(ctx context.Context, args []string) error {
					return tt.err
				},
			}

			script := parseScript(t, ctx, t.TempDir(), "def configure():\n    task(short = \"t\", venv = False, cmds = [\"tool\"])\n")
			err := RunTask(ctx, "t", script.Tasks, RunOptions{Commands: commands})
			assert.Equal(t, tt.wantCode, ExitCode(err))
		})
	}
}

func TestRunTaskExternalExitStatus(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}

	ctx, _ := testContext(t)
	script := parseScript(t, ctx, t.TempDir(), `
def configure():
    task(short = "fail", venv = False, cmds = [("sh", "-c", "exit 3")])
    task(short = "pass", venv = False, cmds = [("sh", "-c", "exit 0")])
`)

	err := RunTask(ctx, "fail", script.Tasks, RunOptions{})
	assert.Equal(t, 3, ExitCode(err))

	err = RunTask(ctx, "pass", script.Tasks, RunOptions{})
	assert.NoError(t, err)
}

func TestScriptBuiltins(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(t *testing.T, root string, task *Task, stdout, logs string)
	}{
		{
			name: "setenv and getenv",
			script: `
setenv("GREETING", "hi")

def configure():
    task(short = "t", venv = False, desc = getenv("GREETING") + getenv("SKELETON_TEST_UNSET", "-fallback"), cmds = ["echo $GREETING"])
`,
			check: func(t *testing.T, root string, task *Task, stdout, logs string) {
				assert.Equal(t, "hi-fallback", task.Desc)
				assert.Equal(t, "hi\n", stdout)
			},
		},
		{
			name: "prepend_path",
			script: `
prepend_path("bin")

def configure():
    task(short = "t", venv = False, cmds = ['echo "$PATH"'])
`,
			check: func(t *testing.T, root string, task *Task, stdout, logs string) {
				assert.True(t, strings.HasPrefix(stdout, filepath.Join(root, "bin")+string(os.PathListSeparator)), stdout)
			},
		},
		{
			name: "resolve_path",
			script: `
def configure():
    task(short = "t", venv = False, cmds = [
        ("echo", resolve_path("docs", "conf.py")),
        ("echo", resolve_path("//docs/conf.py", base = "//docs")),
    ])
`,
			check: func(t *testing.T, root string, task *Task, stdout, logs string) {
				assert.Equal(t, "docs/conf.py\nconf.py\n", stdout)
			},
		},
		{
			name: "isdir and isfile",
			script: `
def configure():
    checks = (isdir("docs"), isfile("CITATION.cff"), isfile("docs"), isdir("missing"), isfile(resolve_path("CITATION.cff")))
    task(short = "t", venv = False, desc = " ".join([str(c) for c in checks]), cmds = ["true"])
`,
			check: func(t *testing.T, root string, task *Task, stdout, logs string) {
				assert.Equal(t, "True True False False True", task.Desc)
			},
		},
		{
			name: "execute",
			script: `
def configure():
    results = [execute("echo hi").strip(), str(execute(("false",))), str(execute("echo '[1, 2]'", format = "json"))]
    task(short = "t", venv = False, desc = " ".join(results), cmds = ["true"])
`,
			check: func(t *testing.T, root string, task *Task, stdout, logs string) {
				assert.Equal(t, "hi False (1.0, 2.0)", task.Desc)
			},
		},
		{
			name: "info and warn",
			script: `
info("loading tasks")
warn("coverage below 100%")

def configure():
    task(short = "t", venv = False, cmds = ["true"])
`,
			check: func(t *testing.T, root string, task *Task, stdout, logs string) {
				assert.Contains(t, logs, "loading tasks")
				assert.Contains(t, logs, "coverage below 100%")
				assert.Contains(t, logs, `"level":"warn"`)
				assert.NotContains(t, logs, "%!")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, logs := testContext(t)
			root := t.TempDir()
			require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(root, "CITATION.cff"), []byte("cff-version: 1.2.0\n"), 0o644))

			script := parseScript(t, ctx, root, tt.script)
			task, ok := script.Tasks["t"]
			require.True(t, ok)

			stdout := new(bytes.Buffer)
			err := RunTask(ctx, "t", script.Tasks, RunOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})
			require.NoError(t, err)

			tt.check(t, root, task, stdout.String(), logs.String())
		})
	}
}

func TestScriptErrorBuiltin(t *testing.T) {
	ctx, _ := testContext(t)
	root := t.TempDir()

	_, err := RunScript(ctx, ScriptParams{
		Filename:    filepath.Join(root, "tasks.star"),
		Content:     []byte("def configure():\n    if not isfile(\"CITATION.cff\"):\n        error(\"CITATION.cff is missing\")\n"),
		ProjectRoot: root,
	}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CITATION.cff is missing")
}
