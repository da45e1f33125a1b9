package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/geleto/cascada"
	"github.com/geleto/cascada/extension/wasmext"
	"github.com/geleto/cascada/ir"
)

// wasmFlags collects repeated -wasm ns=path flags.
type wasmFlags []string

func (w *wasmFlags) String() string { return strings.Join(*w, ",") }

func (w *wasmFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("want ns=path, got %q", v)
	}
	*w = append(*w, v)
	return nil
}

type options struct {
	template   string
	inline     string
	root       string
	dataFile   string
	configFile string
	wasm       wasmFlags
	dumpIR     bool
	outputs    bool
	sync       bool
	verbose    bool
}

func main() {
	var (
		o           options
		interactive = flag.Bool("i", false, "Interactive playground with TUI")
		repl        = flag.Bool("repl", false, "Line-mode REPL")
	)
	flag.StringVar(&o.template, "template", "", "Template file to render")
	flag.StringVar(&o.inline, "e", "", "Render an inline template")
	flag.StringVar(&o.root, "root", "", "Template directory (default: the template's directory)")
	flag.StringVar(&o.dataFile, "data", "", "YAML or JSON file with the render context (- for stdin)")
	flag.StringVar(&o.configFile, "config", "", "TOML configuration file")
	flag.Var(&o.wasm, "wasm", "Expose a wasm module's exports as ns=path (repeatable)")
	flag.BoolVar(&o.dumpIR, "ir", false, "Print the compiled program instead of rendering")
	flag.BoolVar(&o.outputs, "outputs", false, "Print handler outputs as YAML after the text")
	flag.BoolVar(&o.sync, "sync", false, "Compile for sequential execution")
	flag.BoolVar(&o.verbose, "v", false, "Debug logging to stderr")
	flag.Parse()

	if o.template == "" && flag.NArg() > 0 {
		o.template = flag.Arg(0)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stderr.Fd())) {
		pterm.DisableColor()
	}

	var err error
	switch {
	case *interactive:
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			err = fmt.Errorf("interactive mode needs a terminal")
		} else {
			err = runInteractive(o)
		}
		if err != nil {
			printError(err, nil)
		}
	case *repl:
		err = runREPL(context.Background(), o)
	default:
		if o.template == "" && o.inline == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			usage()
			os.Exit(1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err = run(ctx, o)
		stop()
	}
	if err != nil {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: cascada [-data ctx.yaml] [-config cascada.toml] <template>")
	fmt.Fprintln(os.Stderr, "       cascada -e '{{ 1 + 2 }}'")
	fmt.Fprintln(os.Stderr, "       cascada -ir <template>     (print the compiled program)")
	fmt.Fprintln(os.Stderr, "       cascada -i                 (interactive playground)")
	fmt.Fprintln(os.Stderr, "       cascada -repl              (line REPL)")
	flag.PrintDefaults()
}

// session is an environment plus what the CLI needs to report on it.
type session struct {
	env     *cascada.Environment
	loader  cascada.Loader
	inline  string
	modules []*wasmext.Module
}

// source returns the text of a template for diagnostics.
func (s *session) source(name string) (string, bool) {
	if name == "<string>" {
		return s.inline, true
	}
	if s.loader == nil {
		return "", false
	}
	src, err := s.loader.Source(name)
	return src, err == nil
}

func (s *session) close(ctx context.Context) {
	for _, m := range s.modules {
		_ = m.Close(ctx)
	}
}

// newSession builds the environment for o. name is the template to render,
// relative to the loader root.
func newSession(ctx context.Context, o options) (s *session, name string, err error) {
	cfg := cascada.DefaultConfig()
	if o.configFile != "" {
		if cfg, err = cascada.LoadConfig(o.configFile); err != nil {
			return nil, "", err
		}
	}
	if o.sync {
		cfg.Async = false
	}
	if o.root != "" {
		cfg.Root = o.root
	}
	if err := setupLogger(cfg.LogLevel, o.verbose); err != nil {
		return nil, "", err
	}

	if o.template != "" {
		name = o.template
		if cfg.Root == "" {
			cfg.Root = filepath.Dir(o.template)
			name = filepath.Base(o.template)
		}
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}

	s = &session{
		loader: cascada.NewFileSystemLoader(os.DirFS(cfg.Root), cfg.Extension),
		inline: o.inline,
	}
	s.env = cascada.New(cascada.WithConfig(cfg), cascada.WithLoader(s.loader))

	for _, spec := range o.wasm {
		ns, path, _ := strings.Cut(spec, "=")
		wasm, err := os.ReadFile(path)
		if err != nil {
			s.close(ctx)
			return nil, "", fmt.Errorf("read wasm module: %w", err)
		}
		mod, err := wasmext.Load(ctx, wasm, wasmext.Config{Namespace: ns, WASI: true})
		if err != nil {
			s.close(ctx)
			return nil, "", err
		}
		s.modules = append(s.modules, mod)
		if err := mod.Register(s.env); err != nil {
			s.close(ctx)
			return nil, "", err
		}
	}
	return s, name, nil
}

// setupLogger logs to stderr at level, or at debug with -v.
func setupLogger(level string, verbose bool) error {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
		cfg.DisableStacktrace = true
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	cascada.SetLogger(l)
	return nil
}

func run(ctx context.Context, o options) error {
	s, name, err := newSession(ctx, o)
	if err != nil {
		printError(err, nil)
		return err
	}
	defer s.close(ctx)

	if o.template == "" && o.inline == "" {
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			printError(err, nil)
			return err
		}
		s.inline = string(src)
	}

	data, err := loadData(o.dataFile)
	if err != nil {
		printError(err, nil)
		return err
	}

	var prog *ir.Program
	if name != "" {
		prog, err = s.env.Load(ctx, name)
	} else {
		prog, err = s.env.Compile("<string>", s.inline)
	}
	if err != nil {
		printError(err, s.source)
		return err
	}

	if o.dumpIR {
		return ir.Fprint(os.Stdout, prog)
	}

	res, err := s.env.RenderProgram(ctx, prog, data)
	if err != nil {
		printError(err, s.source)
		return err
	}
	fmt.Print(res.Text)
	if o.outputs && len(res.Outputs) > 0 {
		out, err := yaml.Marshal(res.Outputs)
		if err != nil {
			printError(err, nil)
			return err
		}
		fmt.Print("\n---\n", string(out))
	}
	return nil
}

// loadData reads a YAML (or JSON) mapping used as the render context.
func loadData(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	return parseData(raw)
}

func parseData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	return data, nil
}
