// Package citation maintains the project's CITATION.cff metadata file.
package citation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ReleaseDateKey prefixes the only line UpdateReleaseDate touches
const ReleaseDateKey = "date-released:"

// DateFormat is the layout of the release date (YYYY-MM-DD)
const DateFormat = "2006-01-02"

// ReleaseDateLine returns the replacement line for the given date without a line ending
func ReleaseDateLine(now time.Time) string {
	return fmt.Sprintf(`%s "%s"`, ReleaseDateKey, now.Format(DateFormat))
}

// RewriteReleaseDate copies src to dst line by line, replacing every line starting with ReleaseDateKey.
// All other lines, including their line endings, are copied unchanged. It returns the number of replaced lines.
func RewriteReleaseDate(dst io.Writer, src io.Reader, now time.Time) (int, error) {
	reader := bufio.NewReader(src)
	writer := bufio.NewWriter(dst)
	replacement := ReleaseDateLine(now)
	replaced := 0

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if strings.HasPrefix(line, ReleaseDateKey) {
				line = replacement + lineEnding(line)
				replaced++
			}

			if _, wErr := writer.WriteString(line); wErr != nil {
				return replaced, eris.Wrap(wErr, "failed to write line")
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return replaced, eris.Wrap(err, "failed to read line")
		}
	}

	if err := writer.Flush(); err != nil {
		return replaced, eris.Wrap(err, "failed to write")
	}

	return replaced, nil
}

func lineEnding(line string) string {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return "\r\n"
	case strings.HasSuffix(line, "\n"):
		return "\n"
	default:
		return ""
	}
}

// UpdateReleaseDate sets the release date in the citation file at path to now. The new content is written
// to a temporary file next to the original and renamed over it, so the file is either fully updated or left
// alone. A file without a release date line is not touched.
func UpdateReleaseDate(path string, now time.Time) (int, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to open %s", path)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, eris.Wrapf(err, "failed to stat %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, eris.Wrapf(err, "failed to create a temporary file next to %s", path)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	replaced, err := RewriteReleaseDate(tmp, src, now)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to rewrite %s", path)
	}

	if replaced == 0 {
		return 0, nil
	}

	if err = tmp.Chmod(info.Mode().Perm()); err != nil {
		return 0, eris.Wrapf(err, "failed to set permissions on %s", tmpName)
	}

	if err = tmp.Close(); err != nil {
		return 0, eris.Wrapf(err, "failed to write %s", tmpName)
	}

	src.Close()
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		committed = true
		return 0, eris.Wrapf(err, "failed to replace %s", path)
	}

	committed = true
	return replaced, nil
}
