// ec3 builds, inspects, benchmarks and runs the ExtremeC3Net segmentation
// network on the CPU.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
