// Package docsconf holds the settings consumed by the Sphinx documentation build.
//
// The settings are plain values: nothing here talks to Sphinx. WriteConf renders them as the conf.py that
// sphinx-build reads, WriteYAML dumps them for inspection.
package docsconf

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// IconLink is an entry in the theme's icon bar
type IconLink struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Icon string `yaml:"icon"`
	Type string `yaml:"type,omitempty"`
}

// ThemeOptions maps to html_theme_options
type ThemeOptions struct {
	LogoText          string     `yaml:"logo_text"`
	UseEditPageButton bool       `yaml:"use_edit_page_button"`
	FooterEnd         []string   `yaml:"footer_end"`
	IconLinks         []IconLink `yaml:"icon_links"`
}

// HTMLContext maps to html_context and drives the "edit this page" links
type HTMLContext struct {
	GithubUser    string `yaml:"github_user"`
	GithubRepo    string `yaml:"github_repo"`
	GithubVersion string `yaml:"github_version"`
	DocPath       string `yaml:"doc_path"`
}

// Settings mirrors the options of a Sphinx conf.py
type Settings struct {
	Project   string `yaml:"project"`
	Author    string `yaml:"author"`
	Copyright string `yaml:"copyright"`
	Release   string `yaml:"release"`

	Extensions      []string `yaml:"extensions"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	TemplatesPath   []string `yaml:"templates_path"`

	HTMLTheme        string       `yaml:"html_theme"`
	HTMLStaticPath   []string     `yaml:"html_static_path"`
	HTMLThemeOptions ThemeOptions `yaml:"html_theme_options"`
	HTMLContext      HTMLContext  `yaml:"html_context"`
	HTMLCSSFiles     []string     `yaml:"html_css_files"`

	AutodocTypehints          string   `yaml:"autodoc_typehints"`
	AutoAPIDirs               []string `yaml:"autoapi_dirs"`
	AutoAPIPythonClassContent string   `yaml:"autoapi_python_class_content"`
	AutoAPIMemberOrder        string   `yaml:"autoapi_member_order"`

	// IntersphinxMapping maps a project name to the base URL of its documentation.
	IntersphinxMapping map[string]string `yaml:"intersphinx_mapping"`
}

// Metadata is the project specific part of the settings
type Metadata struct {
	Project    string
	Author     string
	Release    string
	Package    string
	GithubUser string
	GithubRepo string
	FirstYear  int
}

// DefaultMetadata describes the skeleton project itself
func DefaultMetadata() Metadata {
	return Metadata{
		Project:    "Pypackage Skeleton",
		Author:     "Pierrick Rambaud",
		Release:    "0.0.0",
		Package:    "pypackage_skeleton",
		GithubUser: "12rambau",
		GithubRepo: "pypackage-skeleton",
		FirstYear:  2023,
	}
}

// New builds the documentation settings for a project. now only determines the copyright range.
func New(meta Metadata, now time.Time) Settings {
	return Settings{
		Project:   meta.Project,
		Author:    meta.Author,
		Copyright: fmt.Sprintf("%d-%d, %s", meta.FirstYear, now.Year(), meta.Author),
		Release:   meta.Release,

		Extensions: []string{
			"sphinx_copybutton",
			"sphinx.ext.napoleon",
			"sphinx.ext.viewcode",
			"sphinx.ext.intersphinx",
			"sphinx_design",
			"autoapi.extension",
		},
		ExcludePatterns: []string{"**.ipynb_checkpoints"},
		TemplatesPath:   []string{"_template"},

		HTMLTheme:      "pydata_sphinx_theme",
		HTMLStaticPath: []string{"_static"},
		HTMLThemeOptions: ThemeOptions{
			LogoText:          meta.Project,
			UseEditPageButton: true,
			FooterEnd:         []string{"theme-version", "pypackage-credit"},
			IconLinks: []IconLink{
				{
					Name: "GitHub",
					URL:  fmt.Sprintf("https://github.com/%s/%s", meta.GithubUser, meta.GithubRepo),
					Icon: "fa-brands fa-github",
				},
				{
					Name: "Pypi",
					URL:  fmt.Sprintf("https://pypi.org/project/%s/", meta.GithubRepo),
					Icon: "fa-brands fa-python",
				},
				{
					Name: "Conda",
					URL:  fmt.Sprintf("https://anaconda.org/conda-forge/%s", meta.GithubRepo),
					Icon: "fa-custom fa-conda",
					Type: "fontawesome",
				},
			},
		},
		HTMLContext: HTMLContext{
			GithubUser:    meta.GithubUser,
			GithubRepo:    meta.GithubRepo,
			GithubVersion: "",
			DocPath:       "docs",
		},
		HTMLCSSFiles: []string{"custom.css"},

		AutodocTypehints:          "description",
		AutoAPIDirs:               []string{"../" + meta.Package},
		AutoAPIPythonClassContent: "init",
		AutoAPIMemberOrder:        "groupwise",

		IntersphinxMapping: map[string]string{},
	}
}

// Check reports values Sphinx is likely to trip over. Nothing here is fatal: the settings are rendered as they
// are and sphinx-build has the final say.
func (s Settings) Check() []string {
	problems := []string{}
	if s.Project == "" {
		problems = append(problems, "project is empty")
	}

	if _, err := semver.StrictNewVersion(s.Release); err != nil {
		problems = append(problems, fmt.Sprintf("release %q is not a semantic version", s.Release))
	}

	if s.HTMLTheme == "" {
		problems = append(problems, "html_theme is empty, Sphinx will use its default theme")
	}

	for idx, link := range s.HTMLThemeOptions.IconLinks {
		if link.Name == "" || link.URL == "" {
			problems = append(problems, fmt.Sprintf("icon link #%d has no name or url", idx))
		}
	}

	return problems
}

// Relocate returns a copy of the settings for a conf.py that is not stored in the source directory. dir is the
// source directory relative to the conf.py's directory; Sphinx resolves these paths against the latter.
func (s Settings) Relocate(dir string) Settings {
	dir = filepath.ToSlash(dir)
	if dir == "" || dir == "." {
		return s
	}

	prefix := func(paths []string) []string {
		result := make([]string, len(paths))
		for idx, item := range paths {
			if path.IsAbs(item) || filepath.IsAbs(item) {
				result[idx] = item
			} else {
				result[idx] = path.Join(dir, item)
			}
		}

		return result
	}

	s.TemplatesPath = prefix(s.TemplatesPath)
	s.HTMLStaticPath = prefix(s.HTMLStaticPath)
	s.AutoAPIDirs = prefix(s.AutoAPIDirs)
	return s
}

// WriteYAML dumps the settings as YAML
func (s Settings) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(s); err != nil {
		return eris.Wrap(err, "failed to encode settings")
	}

	return eris.Wrap(encoder.Close(), "failed to encode settings")
}
