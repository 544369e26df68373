// Package cli runs line-oriented commands interactively or from piped stdin.
package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

// MainLoop feeds exec with lines from terminal prompt or non-interactive r.
// Empty lines are skipped.
func MainLoop(tag string, r io.Reader, exec func(line string), complete prompt.Completer) error {
	if f, ok := r.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		if complete == nil {
			complete = func(prompt.Document) []prompt.Suggest { return nil }
		}
		prompt.New(exec, complete, prompt.OptionPrefix(tag+"> ")).Run()
		return nil
	}
	return ReadLines(r, exec)
}

func ReadLines(r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "cli read")
}
