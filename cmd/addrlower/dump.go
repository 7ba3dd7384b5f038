package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"addrlower/internal/ir"
	"addrlower/internal/irfile"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] module.air",
	Short: "Print a module in textual form",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().Bool("uses", false, "list the users of every value")
	dumpCmd.Flags().StringP("output", "o", "-", "output file (- for stdout)")
}

func runDump(cmd *cobra.Command, args []string) error {
	uses, err := cmd.Flags().GetBool("uses")
	if err != nil {
		return fmt.Errorf("failed to get uses flag: %w", err)
	}
	path, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	m, ti, err := irfile.ReadFile(args[0])
	if err != nil {
		return err
	}
	w, err := openOutput(path, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := ir.DumpModule(w, m, ti, ir.DumpOptions{Uses: uses}); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
