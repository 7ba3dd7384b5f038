// Package config loads addrlower.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"addrlower/internal/trace"
)

// FileName is the name of the configuration file searched for upward from
// the working directory.
const FileName = "addrlower.toml"

// Lower configures the lowering pass.
type Lower struct {
	// Verify validates every function before and after lowering.
	Verify bool `toml:"verify"`
	// Stats prints per-function storage statistics.
	Stats bool `toml:"stats"`
	// DumpBefore and DumpAfter print functions around the pass.
	DumpBefore bool `toml:"dump_before"`
	DumpAfter  bool `toml:"dump_after"`
}

// Driver configures how functions are scheduled.
type Driver struct {
	// Jobs bounds the number of functions lowered concurrently. Zero means
	// one per CPU.
	Jobs int `toml:"jobs"`
}

// Trace configures the tracer.
type Trace struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

// Config is the decoded configuration file.
type Config struct {
	Lower  Lower  `toml:"lower"`
	Driver Driver `toml:"driver"`
	Trace  Trace  `toml:"trace"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// ErrJobs reports a negative job count.
var ErrJobs = errors.New("[driver].jobs must not be negative")

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Lower: Lower{Verify: true},
		Trace: Trace{Level: "off", Mode: "stream", RingSize: 4096},
	}
}

// Find walks up from startDir to locate addrlower.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load decodes the file at path on top of the defaults. Keys missing from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover loads the nearest addrlower.toml above startDir, or returns the
// defaults when there is none.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks value ranges and trace settings.
func (c Config) Validate() error {
	var errs []error
	if c.Driver.Jobs < 0 {
		errs = append(errs, ErrJobs)
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		errs = append(errs, fmt.Errorf("[trace].level: %w", err))
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		errs = append(errs, fmt.Errorf("[trace].mode: %w", err))
	}
	if c.Trace.RingSize < 0 {
		errs = append(errs, errors.New("[trace].ring_size must not be negative"))
	}
	return errors.Join(errs...)
}

// EffectiveJobs resolves a zero job count to the number of CPUs.
func (c Config) EffectiveJobs() int {
	if c.Driver.Jobs > 0 {
		return c.Driver.Jobs
	}
	return runtime.GOMAXPROCS(0)
}

// TraceConfig converts the [trace] table into a tracer configuration.
func (c Config) TraceConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, fmt.Errorf("invalid trace level: %w", err)
	}
	mode, err := trace.ParseMode(c.Trace.Mode)
	if err != nil {
		return trace.Config{}, fmt.Errorf("invalid trace mode: %w", err)
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: c.Trace.Output,
		RingSize:   c.Trace.RingSize,
	}, nil
}
