package cascada

import (
	"os"

	"github.com/pelletier/go-toml"
	"go.uber.org/zap/zapcore"

	"github.com/geleto/cascada/errors"
)

// Config controls compilation and rendering.
type Config struct {
	// Async compiles templates for concurrent execution. When false every
	// template renders sequentially with the same output.
	Async bool
	// AllAsync marks every node async rather than only the nodes that can
	// suspend. Output is the same; it exists to test the synchronization.
	AllAsync bool
	// Root is the directory templates are loaded from when no loader is set.
	Root string
	// Extension is appended to template names that have none.
	Extension string
	// MaxWhileIterations bounds while loops; 0 means the compiler default.
	MaxWhileIterations int
	// LoopConcurrency bounds the iterations of a loop running at once; 0
	// means unbounded.
	LoopConcurrency int
	// LogLevel is a zap level name used by the command line tool.
	LogLevel string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Async:              true,
		MaxWhileIterations: 10000,
		LogLevel:           "info",
	}
}

// tomlConfig is the file form of Config. Keys left out keep their default.
type tomlConfig struct {
	Async              *bool   `toml:"async"`
	AllAsync           *bool   `toml:"all-async"`
	Root               *string `toml:"root"`
	Extension          *string `toml:"extension"`
	MaxWhileIterations *int    `toml:"max-while-iterations"`
	LoopConcurrency    *int    `toml:"loop-concurrency"`
	LogLevel           *string `toml:"log-level"`
}

// ParseConfig reads a TOML configuration on top of DefaultConfig.
//
//	async = true
//	root = "templates"
//	extension = ".njk"
//	max-while-iterations = 500
//	loop-concurrency = 8
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var tc tomlConfig
	if err := toml.Unmarshal(data, &tc); err != nil {
		return cfg, errors.Config("parse configuration", err)
	}
	if tc.Async != nil {
		cfg.Async = *tc.Async
	}
	if tc.AllAsync != nil {
		cfg.AllAsync = *tc.AllAsync
	}
	if tc.Root != nil {
		cfg.Root = *tc.Root
	}
	if tc.Extension != nil {
		cfg.Extension = *tc.Extension
	}
	if tc.MaxWhileIterations != nil {
		cfg.MaxWhileIterations = *tc.MaxWhileIterations
	}
	if tc.LoopConcurrency != nil {
		cfg.LoopConcurrency = *tc.LoopConcurrency
	}
	if tc.LogLevel != nil {
		cfg.LogLevel = *tc.LogLevel
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads the TOML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Config("read "+path, err)
	}
	return ParseConfig(data)
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	if c.MaxWhileIterations < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "max-while-iterations cannot be negative")
	}
	if c.LoopConcurrency < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "loop-concurrency cannot be negative")
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return errors.Config("log-level", err)
		}
	}
	return nil
}

// Option adjusts an Environment.
type Option func(*Environment)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(e *Environment) { e.cfg = cfg }
}

// WithAsync turns concurrent rendering on or off.
func WithAsync(async bool) Option {
	return func(e *Environment) { e.cfg.Async = async }
}

// WithAllAsync marks every node async.
func WithAllAsync(all bool) Option {
	return func(e *Environment) { e.cfg.AllAsync = all }
}

// WithLoader sets the loader templates are read with.
func WithLoader(l Loader) Option {
	return func(e *Environment) { e.loader = l }
}

// WithMaxWhileIterations bounds while loops.
func WithMaxWhileIterations(n int) Option {
	return func(e *Environment) { e.cfg.MaxWhileIterations = n }
}

// WithLoopConcurrency bounds concurrently running loop iterations.
func WithLoopConcurrency(n int) Option {
	return func(e *Environment) { e.cfg.LoopConcurrency = n }
}
