package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"addrlower/internal/config"
	"addrlower/internal/prof"
)

// active holds the configuration resolved for the running command.
var (
	active        config.Config
	traceShutdown func()
	profiling     *prof.Session
)

func setupCommand(cmd *cobra.Command, _ []string) error {
	if err := applyColor(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	active = cfg
	shutdown, err := setupTracing(cmd, cfg)
	if err != nil {
		return err
	}
	traceShutdown = shutdown
	return setupProfiling(cmd)
}

func teardownCommand(*cobra.Command, []string) error {
	if traceShutdown != nil {
		traceShutdown()
		traceShutdown = nil
	}
	err := profiling.Stop()
	profiling = nil
	return err
}

func setupProfiling(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	var opts prof.Options
	var err error
	if opts.CPU, err = flags.GetString("cpu-profile"); err != nil {
		return fmt.Errorf("failed to get cpu-profile flag: %w", err)
	}
	if opts.Mem, err = flags.GetString("mem-profile"); err != nil {
		return fmt.Errorf("failed to get mem-profile flag: %w", err)
	}
	if opts.Trace, err = flags.GetString("runtime-trace"); err != nil {
		return fmt.Errorf("failed to get runtime-trace flag: %w", err)
	}
	profiling, err = prof.Start(opts)
	return err
}

// loadConfig reads --config or the nearest addrlower.toml, then applies
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	var cfg config.Config
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Discover(".")
	}
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("trace") {
		cfg.Trace.Output, _ = flags.GetString("trace")
		if !flags.Changed("trace-level") && cfg.Trace.Level == "off" {
			cfg.Trace.Level = "phase"
		}
	}
	if flags.Changed("trace-level") {
		cfg.Trace.Level, _ = flags.GetString("trace-level")
	}
	if flags.Changed("trace-mode") {
		cfg.Trace.Mode, _ = flags.GetString("trace-mode")
	}
	if flags.Changed("trace-ring-size") {
		cfg.Trace.RingSize, _ = flags.GetInt("trace-ring-size")
	}

	local := cmd.Flags()
	if f := local.Lookup("jobs"); f != nil && f.Changed {
		cfg.Driver.Jobs, _ = local.GetInt("jobs")
	}
	for name, dst := range map[string]*bool{
		"verify":      &cfg.Lower.Verify,
		"stats":       &cfg.Lower.Stats,
		"dump-before": &cfg.Lower.DumpBefore,
		"dump-after":  &cfg.Lower.DumpAfter,
	} {
		if f := local.Lookup(name); f != nil && f.Changed {
			*dst, _ = local.GetBool(name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
