package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"addrlower/internal/irfile"
	"addrlower/internal/scenario"
)

var exampleCmd = &cobra.Command{
	Use:   "example [flags] [dir]",
	Short: "Write a sample module with unlowered functions",
	Long: `Example writes samples.air, holding a function that forwards a call
result, one that merges two values at a block parameter and one that swaps two
values across a loop-free merge.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExample,
}

func init() {
	exampleCmd.Flags().String("name", "samples", "module name and file stem")
}

func runExample(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return fmt.Errorf("failed to get name flag: %w", err)
	}
	m, ti := scenario.Module(name)
	path := filepath.Join(dir, name+".air")
	if err := irfile.WriteFile(path, m, ti); err != nil {
		return err
	}
	if !quiet(cmd) {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d functions)\n", path, len(m.Funcs))
	}
	return nil
}
