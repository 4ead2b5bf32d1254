package warnings

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sphinxLog = `/docs/index.rst:12: WARNING: duplicate label intro
/docs/usage.rst:4: WARNING: undefined label: 'setup'

/docs/api.rst: WARNING: autoapi [build] failed
`

func TestReadPatterns(t *testing.T) {
	patterns, err := ReadPatterns(strings.NewReader("# accepted warnings\n\n  duplicate label  \n[build]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"duplicate label", "[build]"}, patterns)
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     []string
		ignored  int
	}{
		{
			name: "no patterns",
			want: []string{
				"/docs/index.rst:12: WARNING: duplicate label intro",
				"/docs/usage.rst:4: WARNING: undefined label: 'setup'",
				"/docs/api.rst: WARNING: autoapi [build] failed",
			},
		},
		{
			name:     "substring match",
			patterns: []string{"duplicate label", "[build]"},
			want:     []string{"/docs/usage.rst:4: WARNING: undefined label: 'setup'"},
			ignored:  2,
		},
		{
			name:     "everything ignored",
			patterns: []string{"WARNING"},
			want:     []string{},
			ignored:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Filter(strings.NewReader(sphinxLog), tt.patterns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Warnings)
			assert.Equal(t, tt.ignored, report.Ignored)
			assert.Equal(t, len(tt.want) == 0, report.OK())
		})
	}
}

func TestFilterCRLF(t *testing.T) {
	report, err := Filter(strings.NewReader("a: WARNING: x\r\n\r\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a: WARNING: x"}, report.Warnings)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "warnings.txt")
	ignorePath := filepath.Join(dir, DefaultIgnoreFile)
	require.NoError(t, os.WriteFile(logPath, []byte(sphinxLog), 0o644))

	report, err := Check(logPath, ignorePath)
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 3)

	require.NoError(t, os.WriteFile(ignorePath, []byte("duplicate label\nundefined label\n[build]\n"), 0o644))
	report, err = Check(logPath, ignorePath)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 3, report.Ignored)

	report, err = Check(logPath, "")
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 3)
}

func TestCheckMissingLog(t *testing.T) {
	_, err := Check(filepath.Join(t.TempDir(), "warnings.txt"), "")
	require.Error(t, err)
}

func TestReportPrint(t *testing.T) {
	out := new(bytes.Buffer)
	report := Report{Warnings: []string{"a [b] c"}, Ignored: 2}
	require.NoError(t, report.Print(out, false))
	assert.Equal(t, "a [b] c\n1 unexpected warning(s) (2 ignored)\n", out.String())

	out.Reset()
	require.NoError(t, Report{Warnings: []string{}}.Print(out, false))
	assert.Equal(t, "No unexpected warnings (0 ignored)\n", out.String())

	out.Reset()
	require.NoError(t, report.Print(out, true))
	assert.Contains(t, out.String(), "\x1b[31ma [b] c")
}
