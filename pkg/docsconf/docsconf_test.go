package docsconf

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var buildTime = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	s := New(DefaultMetadata(), buildTime)

	assert.Equal(t, "Pypackage Skeleton", s.Project)
	assert.Equal(t, "Pierrick Rambaud", s.Author)
	assert.Equal(t, "2023-2024, Pierrick Rambaud", s.Copyright)
	assert.Equal(t, "0.0.0", s.Release)
	assert.Equal(t, []string{
		"sphinx_copybutton",
		"sphinx.ext.napoleon",
		"sphinx.ext.viewcode",
		"sphinx.ext.intersphinx",
		"sphinx_design",
		"autoapi.extension",
	}, s.Extensions)
	assert.Equal(t, "pydata_sphinx_theme", s.HTMLTheme)
	assert.Equal(t, []string{"../pypackage_skeleton"}, s.AutoAPIDirs)
	assert.Equal(t, "groupwise", s.AutoAPIMemberOrder)
	assert.Empty(t, s.IntersphinxMapping)

	links := s.HTMLThemeOptions.IconLinks
	require.Len(t, links, 3)
	assert.Equal(t, "https://github.com/12rambau/pypackage-skeleton", links[0].URL)
	assert.Equal(t, "https://pypi.org/project/pypackage-skeleton/", links[1].URL)
	assert.Equal(t, "https://anaconda.org/conda-forge/pypackage-skeleton", links[2].URL)
	assert.Equal(t, "fontawesome", links[2].Type)
	assert.Empty(t, links[0].Type)
}

func TestCheck(t *testing.T) {
	assert.Empty(t, New(DefaultMetadata(), buildTime).Check())

	tests := []struct {
		name   string
		modify func(s *Settings)
		want   string
	}{
		{name: "empty project", modify: func(s *Settings) { s.Project = "" }, want: "project is empty"},
		{name: "release is not semver", modify: func(s *Settings) { s.Release = "1.0" }, want: "not a semantic version"},
		{name: "pep 440 pre-release", modify: func(s *Settings) { s.Release = "1.0.0rc1" }, want: "not a semantic version"},
		{name: "release with prefix", modify: func(s *Settings) { s.Release = "v1.0.0" }, want: "not a semantic version"},
		{name: "empty theme", modify: func(s *Settings) { s.HTMLTheme = "" }, want: "html_theme is empty"},
		{name: "icon link without url", modify: func(s *Settings) { s.HTMLThemeOptions.IconLinks[1].URL = "" }, want: "icon link #1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(DefaultMetadata(), buildTime)
			tt.modify(&s)

			problems := s.Check()
			require.Len(t, problems, 1)
			assert.Contains(t, problems[0], tt.want)
		})
	}
}

func TestNonSemverReleaseStillRenders(t *testing.T) {
	meta := DefaultMetadata()
	meta.Release = "1.0.0rc1"

	out := new(bytes.Buffer)
	require.NoError(t, New(meta, buildTime).WriteConf(out))
	assert.Contains(t, out.String(), `release = "1.0.0rc1"`)
}

func TestRelocate(t *testing.T) {
	s := New(DefaultMetadata(), buildTime)
	moved := s.Relocate("../..")

	assert.Equal(t, []string{"../../_static"}, moved.HTMLStaticPath)
	assert.Equal(t, []string{"../../_template"}, moved.TemplatesPath)
	assert.Equal(t, []string{"../../../pypackage_skeleton"}, moved.AutoAPIDirs)
	assert.Equal(t, []string{"**.ipynb_checkpoints"}, moved.ExcludePatterns)
	assert.Equal(t, []string{"custom.css"}, moved.HTMLCSSFiles)

	assert.Equal(t, []string{"_static"}, s.HTMLStaticPath, "the original settings are not modified")
	assert.Equal(t, s, s.Relocate("."))
}

func TestWriteConf(t *testing.T) {
	s := New(DefaultMetadata(), buildTime)
	s.IntersphinxMapping["python"] = "https://docs.python.org/3"

	out := new(bytes.Buffer)
	require.NoError(t, s.WriteConf(out))
	conf := out.String()

	for _, expected := range []string{
		`project = "Pypackage Skeleton"`,
		`copyright = "2023-2024, Pierrick Rambaud"`,
		`html_theme = "pydata_sphinx_theme"`,
		`"use_edit_page_button": True,`,
		`"footer_end": ["theme-version", "pypackage-credit"],`,
		`"type": "fontawesome",`,
		`"doc_path": "docs",`,
		`autoapi_dirs = ["../pypackage_skeleton"]`,
		`"python": ("https://docs.python.org/3", None),`,
	} {
		assert.Contains(t, conf, expected)
	}

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte(`"type":`)))
}

func TestWriteConfQuotesStrings(t *testing.T) {
	meta := DefaultMetadata()
	meta.Project = `Say "hi"`

	out := new(bytes.Buffer)
	require.NoError(t, New(meta, buildTime).WriteConf(out))
	assert.Contains(t, out.String(), `project = "Say \"hi\""`)
}

func TestWriteYAML(t *testing.T) {
	out := new(bytes.Buffer)
	require.NoError(t, New(DefaultMetadata(), buildTime).WriteYAML(out))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "pydata_sphinx_theme", decoded["html_theme"])
	assert.Equal(t, "description", decoded["autodoc_typehints"])
	assert.Contains(t, out.String(), "  logo_text: Pypackage Skeleton\n")
}
