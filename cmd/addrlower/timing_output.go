package main

import (
	"fmt"
	"io"

	"addrlower/internal/driver"
	"addrlower/internal/observ"
)

// printTimings writes the driver phases followed by one line per function.
func printTimings(out io.Writer, res *driver.Result) {
	if out == nil || res == nil {
		return
	}
	io.WriteString(out, res.Timing.String())
	for _, fr := range res.Funcs {
		fmt.Fprintf(out, "    %-22s %7.2f ms\n", fr.Name, observ.Millis(fr.Duration))
	}
}
