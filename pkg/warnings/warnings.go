// Package warnings checks the warning log written by sphinx-build -w.
package warnings

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// DefaultIgnoreFile lists warnings that are accepted, one substring per line
const DefaultIgnoreFile = ".warnings-ignore"

// Report is the outcome of a warnings check
type Report struct {
	Warnings []string
	Ignored  int
}

// OK is true if no unexpected warnings remain
func (r Report) OK() bool {
	return len(r.Warnings) == 0
}

// Print writes every remaining warning followed by a summary line
func (r Report) Print(w io.Writer, colored bool) error {
	colorize := colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !colored,
		Reset:   false,
	}

	for _, warning := range r.Warnings {
		// the warning itself may contain bracketed words that colorstring would treat as codes
		if _, err := fmt.Fprintln(w, colorize.Color("[red]")+warning+colorize.Color("[reset]")); err != nil {
			return err
		}
	}

	var summary string
	if r.OK() {
		summary = fmt.Sprintf("[green]No unexpected warnings (%d ignored)[reset]", r.Ignored)
	} else {
		summary = fmt.Sprintf("[red][bold]%d unexpected warning(s) (%d ignored)[reset]", len(r.Warnings), r.Ignored)
	}

	_, err := fmt.Fprintln(w, colorize.Color(summary))
	return err
}

// ReadPatterns parses an ignore file. Blank lines and lines starting with # are skipped.
func ReadPatterns(r io.Reader) ([]string, error) {
	patterns := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		patterns = append(patterns, line)
	}

	return patterns, eris.Wrap(scanner.Err(), "failed to read patterns")
}

// Filter returns the non-blank lines of the warning log that contain none of the patterns
func Filter(log io.Reader, patterns []string) (Report, error) {
	report := Report{Warnings: []string{}}
	scanner := bufio.NewScanner(log)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

lines:
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		for _, pattern := range patterns {
			if strings.Contains(line, pattern) {
				report.Ignored++
				continue lines
			}
		}

		report.Warnings = append(report.Warnings, line)
	}

	if err := scanner.Err(); err != nil {
		return report, eris.Wrap(err, "failed to read warnings")
	}

	return report, nil
}

// Check reads the warning log at logPath and filters it with the patterns from ignorePath.
// A missing ignore file means nothing is ignored.
func Check(logPath, ignorePath string) (Report, error) {
	patterns := []string{}
	if ignorePath != "" {
		handle, err := os.Open(ignorePath)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return Report{}, eris.Wrapf(err, "failed to open %s", ignorePath)
		}

		if err == nil {
			patterns, err = ReadPatterns(handle)
			handle.Close()
			if err != nil {
				return Report{}, eris.Wrapf(err, "failed to parse %s", ignorePath)
			}
		}
	}

	handle, err := os.Open(logPath)
	if err != nil {
		return Report{}, eris.Wrapf(err, "failed to open %s", logPath)
	}
	defer handle.Close()

	return Filter(handle, patterns)
}
