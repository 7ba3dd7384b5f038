package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"addrlower/internal/driver"
	"addrlower/internal/irfile"
	"addrlower/internal/observ"
)

var lowerCmd = &cobra.Command{
	Use:   "lower [flags] module.air",
	Short: "Lower opaque values of a module to addresses",
	Args:  cobra.ExactArgs(1),
	RunE:  runLower,
}

func init() {
	lowerCmd.Flags().StringP("output", "o", "", "write the lowered module here (default: replace the input)")
	lowerCmd.Flags().Int("jobs", 0, "functions lowered concurrently (0 = one per CPU)")
	lowerCmd.Flags().Bool("verify", true, "validate the module before and after lowering")
	lowerCmd.Flags().Bool("stats", false, "print storage statistics per function")
	lowerCmd.Flags().Bool("dump-before", false, "print every function before lowering")
	lowerCmd.Flags().Bool("dump-after", false, "print every function after lowering")
	lowerCmd.Flags().String("format", "pretty", "report format (pretty|json)")
}

type lowerReport struct {
	Module      string       `json:"module"`
	Fingerprint string       `json:"fingerprint"`
	Funcs       []funcReport `json:"funcs"`
	Timing      any          `json:"timing,omitempty"`
}

type funcReport struct {
	Name        string  `json:"name"`
	DurationMS  float64 `json:"duration_ms"`
	Fingerprint string  `json:"fingerprint"`
	Stats       string  `json:"stats"`
}

func runLower(cmd *cobra.Command, args []string) error {
	input := args[0]
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	if output == "" {
		output = input
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unknown format: %s", format)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	m, ti, err := irfile.ReadFile(input)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	opts := driver.Options{
		Jobs:   active.EffectiveJobs(),
		Verify: active.Lower.Verify,
	}
	if active.Lower.DumpBefore {
		opts.DumpBefore = out
	}
	if active.Lower.DumpAfter {
		opts.DumpAfter = out
	}
	if !quiet(cmd) && format == "pretty" {
		opts.Observer = func(ev driver.PhaseEvent) {
			if ev.Status == driver.PhaseEnd {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %.1f ms\n", ev.Name, observ.Millis(ev.Elapsed))
			}
		}
	}

	res, err := driver.LowerModule(cmd.Context(), m, ti, opts)
	if err != nil {
		reportFailures(cmd.ErrOrStderr(), res)
		return fmt.Errorf("lowering %s failed: %w", input, err)
	}
	if err := irfile.WriteFile(output, m, ti); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	if format == "json" {
		rep := lowerReport{Module: m.Name, Fingerprint: fmt.Sprintf("%016x", res.Fingerprint)}
		for _, fr := range res.Funcs {
			rep.Funcs = append(rep.Funcs, funcReport{
				Name:        fr.Name,
				DurationMS:  observ.Millis(fr.Duration),
				Fingerprint: fmt.Sprintf("%016x", fr.Fingerprint),
				Stats:       fr.Stats.String(),
			})
		}
		if showTimings {
			rep.Timing = res.Timing
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	if active.Lower.Stats {
		for _, fr := range res.Funcs {
			fmt.Fprintf(out, "%-24s %s\n", fr.Name, fr.Stats)
		}
	}
	if showTimings {
		printTimings(out, res)
	}
	if !quiet(cmd) {
		fmt.Fprintf(out, "lowered %d functions of %s -> %s (%016x)\n", len(res.Funcs), m.Name, output, res.Fingerprint)
	}
	return nil
}

// reportFailures prints the error and the partially lowered body of every
// function that failed.
func reportFailures(w io.Writer, res *driver.Result) {
	if res == nil {
		return
	}
	head := color.New(color.FgRed, color.Bold)
	for _, fr := range res.Failed() {
		if fr.Dump == "" {
			continue
		}
		head.Fprintf(w, "error: %s\n", fr.Err)
		for _, line := range strings.Split(strings.TrimRight(fr.Dump, "\n"), "\n") {
			fmt.Fprintf(w, "  | %s\n", line)
		}
	}
}

// openOutput opens path for writing, or wraps stdout for "-".
func openOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
