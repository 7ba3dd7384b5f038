package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"addrlower/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show addrlower build metadata",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().Bool("full", false, "include commit and build date")
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

type buildInfo struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	full, err := cmd.Flags().GetBool("full")
	if err != nil {
		return fmt.Errorf("failed to get full flag: %w", err)
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	info := buildInfo{Tool: "addrlower", Version: version.Plain()}
	if full {
		info.GitCommit = orUnknown(version.GitCommit)
		info.BuildDate = orUnknown(version.BuildDate)
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "pretty":
		fmt.Fprintf(out, "addrlower %s\n", version.Colored())
		if full {
			fmt.Fprintf(out, "commit: %s\nbuilt:  %s\n", info.GitCommit, info.BuildDate)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}
