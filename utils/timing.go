package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for different operations
type TimingStats struct {
	TotalTime     time.Duration
	WeightLoad    time.Duration
	ModelInitTime time.Duration
	WarmupTime    time.Duration
	ForwardTimes  []time.Duration
	MeanUS        float64
	StdDevUS      float64
	MinTime       time.Duration
	MaxTime       time.Duration
}

// ForwardTotal sums the measured forward passes.
func (s *TimingStats) ForwardTotal() time.Duration {
	var total time.Duration
	for _, d := range s.ForwardTimes {
		total += d
	}
	return total
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats) {
	if !Verbose {
		return
	}
	iters := len(stats.ForwardTimes)
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Iterations measured: %d\n", iters)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  Model initialization: %v (%.1f%%)\n", stats.ModelInitTime, percentOf(stats.ModelInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Weight loading: %v (%.1f%%)\n", stats.WeightLoad, percentOf(stats.WeightLoad, stats.TotalTime))
	fmt.Fprintf(Output, "  Warmup: %v (%.1f%%)\n", stats.WarmupTime, percentOf(stats.WarmupTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Forward passes: %v (%.1f%%)\n", stats.ForwardTotal(), percentOf(stats.ForwardTotal(), stats.TotalTime))
	if iters == 0 {
		return
	}
	fmt.Fprintln(Output, "\nPerformance metrics:")
	fmt.Fprintf(Output, "  Average forward pass time: %.1fµs (± %.1fµs)\n", stats.MeanUS, stats.StdDevUS)
	fmt.Fprintf(Output, "  Fastest: %v\n", stats.MinTime)
	fmt.Fprintf(Output, "  Slowest: %v\n", stats.MaxTime)
	fmt.Fprintf(Output, "  Throughput: %.2f passes/s\n", float64(iters)/stats.ForwardTotal().Seconds())
}

func percentOf(part, total time.Duration) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
