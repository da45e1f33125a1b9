package cascada

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/geleto/cascada/errors"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want Config
	}{
		{"empty", "", DefaultConfig()},
		{
			name: "full",
			toml: `
async = false
all-async = true
root = "templates"
extension = ".njk"
max-while-iterations = 500
loop-concurrency = 8
log-level = "debug"
`,
			want: Config{
				Async:              false,
				AllAsync:           true,
				Root:               "templates",
				Extension:          ".njk",
				MaxWhileIterations: 500,
				LoopConcurrency:    8,
				LogLevel:           "debug",
			},
		},
		{
			name: "partial keeps defaults",
			toml: `loop-concurrency = 2`,
			want: Config{Async: true, MaxWhileIterations: 10000, LoopConcurrency: 2, LogLevel: "info"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfig([]byte(tt.toml))
			if err != nil {
				t.Fatalf("ParseConfig() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"malformed", `async = `},
		{"wrong type", `async = "yes"`},
		{"negative", `loop-concurrency = -1`},
		{"bad level", `log-level = "loud"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.toml))
			if err == nil {
				t.Fatal("ParseConfig() error = nil")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Phase != errors.PhaseConfig {
				t.Errorf("ParseConfig() error = %v, want a config error", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cascada.toml")
	if err := os.WriteFile(path, []byte(`extension = ".html"`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Extension != ".html" || !cfg.Async {
		t.Errorf("LoadConfig() = %+v", cfg)
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadConfig(missing) error = nil")
	}
}

func TestOptionsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hi.txt"), []byte("hi {{ 1 + 1 }}"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Root = dir
	cfg.Extension = ".txt"
	env := New(WithConfig(cfg), WithAsync(false), WithLoopConcurrency(3))
	if got := env.Config(); got.Async || got.LoopConcurrency != 3 || got.Root != dir {
		t.Errorf("Config() = %+v", got)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	prog, err := env.Load(ctx, "hi")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if prog.Async {
		t.Error("program compiled async, want sync")
	}
}
