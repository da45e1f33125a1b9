package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/multierr"

	"github.com/geleto/cascada/errors"
)

var (
	infoColor   = pterm.FgLightBlue
	errorColor  = pterm.FgRed
	bannerStyle = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
)

// sourceFunc returns the text of a template by name.
type sourceFunc func(name string) (string, bool)

func printError(err error, src sourceFunc) {
	writeError(os.Stderr, err, src)
}

// writeError prints every error combined in err, with a source excerpt for
// the ones that point into a template.
func writeError(w io.Writer, err error, src sourceFunc) {
	for _, e := range multierr.Errors(err) {
		var te *errors.Error
		if !stderrors.As(e, &te) {
			fmt.Fprintln(w, bannerStyle.Sprint(" Error "), errorColor.Sprint(e.Error()))
			continue
		}
		writeHeader(w, te)
		fmt.Fprintln(w, errorColor.Sprint(te.Error()))
		if te.HasPosition() && src != nil {
			if text, ok := src(te.Template); ok {
				writeExcerpt(w, text, te.Line, te.Col)
			}
		}
	}
}

func writeHeader(w io.Writer, e *errors.Error) {
	title := " Error "
	if p := string(e.Phase); p != "" {
		title = " " + strings.ToUpper(p[:1]) + p[1:] + " Error "
	}
	name := e.Template
	if name == "" {
		name = "-"
	}
	width := pterm.GetTerminalWidth() / 2
	if width > 50 {
		width = 50
	}
	dashes := width - len(title) - len(name) - 2
	if dashes < 3 {
		dashes = 3
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, bannerStyle.Sprint(title), strings.Repeat("-", dashes), infoColor.Sprint(name))
}

// writeExcerpt prints the line before the error position, the line itself,
// and a caret under col.
func writeExcerpt(w io.Writer, src string, line, col int) {
	lines := strings.Split(src, "\n")
	if line < 1 || line > len(lines) {
		return
	}
	first := line - 1
	if first < 1 {
		first = 1
	}
	width := len(strconv.Itoa(line)) + 1
	format := "%-" + strconv.Itoa(width) + "d"

	fmt.Fprintln(w)
	for n := first; n <= line; n++ {
		text := strings.ReplaceAll(lines[n-1], "\t", "    ")
		fmt.Fprint(w, infoColor.Sprintf(format, n), "|  ", text, "\n")
	}
	offset := caretOffset(lines[line-1], col)
	fmt.Fprint(w, strings.Repeat(" ", width), "|  ", strings.Repeat(" ", offset), errorColor.Sprint("^"), "\n\n")
}

// caretOffset is the display column of col once tabs expand to four spaces.
func caretOffset(line string, col int) int {
	offset := 0
	for i, r := range line {
		if i >= col-1 {
			break
		}
		if r == '\t' {
			offset += 4
		} else {
			offset++
		}
	}
	return offset
}
