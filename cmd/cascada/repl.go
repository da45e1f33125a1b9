package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"gopkg.in/yaml.v3"

	"github.com/geleto/cascada/ir"
)

const (
	historyFile = ".cascada_history"
	promptMain  = "cascada> "
	promptCont  = "   ...> "
)

const replHelp = `Each line is rendered as a template; end a line with \ to continue it.
  :set name value   set a context variable (value is YAML)
  :unset name       remove a context variable
  :data             print the context
  :ir template      print the compiled program of a template
  :sync | :async    switch execution mode
  :quit             exit`

// replState is what the REPL keeps between lines.
type replState struct {
	opts options
	sess *session
	data map[string]any
}

func runREPL(ctx context.Context, o options) error {
	st := &replState{opts: o, data: map[string]any{}}
	if o.dataFile != "" {
		data, err := loadData(o.dataFile)
		if err != nil {
			printError(err, nil)
			return err
		}
		st.data = data
	}
	if err := st.rebuild(ctx); err != nil {
		printError(err, nil)
		return err
	}
	defer func() { st.sess.close(ctx) }()

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(completer)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Println("cascada REPL, :help for commands")
	for {
		src, ok := readTemplate(ln)
		if !ok {
			fmt.Println()
			return nil
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(strings.TrimSpace(src), ":") {
			if quit := st.command(ctx, strings.TrimSpace(src)); quit {
				return nil
			}
			continue
		}
		st.render(ctx, src)
	}
}

// readTemplate reads one template, joining lines that end with a backslash.
func readTemplate(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if stderrors.Is(err, io.EOF) {
			return "", false
		}
		if stderrors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}
		if cont, found := strings.CutSuffix(line, `\`); found {
			b.WriteString(cont)
			b.WriteByte('\n')
			continue
		}
		b.WriteString(line)
		return b.String(), true
	}
}

func completer(line string) []string {
	cmds := []string{":set ", ":unset ", ":data", ":ir ", ":sync", ":async", ":help", ":quit"}
	var out []string
	for _, c := range cmds {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (st *replState) rebuild(ctx context.Context) error {
	s, _, err := newSession(ctx, st.opts)
	if err != nil {
		return err
	}
	if st.sess != nil {
		st.sess.close(ctx)
	}
	st.sess = s
	return nil
}

func (st *replState) render(ctx context.Context, src string) {
	st.sess.inline = src
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	res, err := st.sess.env.RenderString(ctx, src, st.data)
	if err != nil {
		printError(err, st.sess.source)
		return
	}
	fmt.Println(res.Text)
	if len(res.Outputs) > 0 {
		out, err := yaml.Marshal(res.Outputs)
		if err == nil {
			fmt.Print(string(out))
		}
	}
}

// command runs a :command line and reports whether the REPL should exit.
func (st *replState) command(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case ":quit", ":q":
		return true
	case ":help":
		fmt.Println(replHelp)
	case ":set":
		name, value, ok := strings.Cut(arg, " ")
		if !ok || name == "" {
			fmt.Println("usage: :set name value")
			return false
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			printError(err, nil)
			return false
		}
		st.data[name] = v
	case ":unset":
		delete(st.data, arg)
	case ":data":
		st.printData()
	case ":ir":
		prog, err := st.sess.env.Load(ctx, arg)
		if err != nil {
			printError(err, st.sess.source)
			return false
		}
		fmt.Print(ir.String(prog))
	case ":sync", ":async":
		st.opts.sync = cmd == ":sync"
		if err := st.rebuild(ctx); err != nil {
			printError(err, nil)
		}
	default:
		fmt.Println("unknown command, :help lists them")
	}
	return false
}

func (st *replState) printData() {
	names := make([]string, 0, len(st.data))
	for name := range st.data {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out, err := yaml.Marshal(st.data[name])
		if err != nil {
			fmt.Printf("%s: %v\n", name, st.data[name])
			continue
		}
		fmt.Printf("%s: %s", name, out)
	}
}
