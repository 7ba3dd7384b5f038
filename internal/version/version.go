// Package version carries build metadata for the addrlower CLI. The plain
// variables can be overridden at build time via -ldflags.
package version

import "github.com/fatih/color"

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	minorColor = color.New(color.FgGreen, color.Bold)
	patchColor = color.New(color.FgBlue, color.Bold)

	// Major, Minor and Patch make up the semantic version.
	Major = "0"
	Minor = "3"
	Patch = "0"
	// Suffix is appended after a dash when non-empty.
	Suffix = "dev"

	// Version is the plain semantic version of the CLI.
	Version = Plain()

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Plain renders the version without colour.
func Plain() string {
	v := Major + "." + Minor + "." + Patch
	if Suffix != "" {
		v += "-" + Suffix
	}
	return v
}

// Colored renders the version with one colour per component. It honours
// color.NoColor at call time.
func Colored() string {
	v := majorColor.Sprint(Major) + "." + minorColor.Sprint(Minor) + "." + patchColor.Sprint(Patch)
	if Suffix != "" {
		v += "-" + Suffix
	}
	return v
}
