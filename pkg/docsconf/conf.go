package docsconf

import (
	_ "embed"
	"io"
	"strconv"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

//go:embed conf.py.tmpl
var confTemplateSource string

var confTemplate = template.Must(template.New("conf.py").
	Funcs(template.FuncMap{
		"py":     pyString,
		"pyList": pyList,
		"pyBool": pyBool,
	}).
	Option("missingkey=error").
	Parse(confTemplateSource))

// pyString quotes s as a Python string literal. Go's escape sequences are a subset of Python's.
func pyString(s string) string {
	return strconv.Quote(s)
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for idx, item := range items {
		quoted[idx] = pyString(item)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// WriteConf renders the settings as a Sphinx conf.py
func (s Settings) WriteConf(w io.Writer) error {
	return eris.Wrap(confTemplate.Execute(w, s), "failed to render conf.py")
}
