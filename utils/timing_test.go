package utils

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func TestPrintTimingStats(t *testing.T) {
	var buf bytes.Buffer
	old := Output
	Output = &buf
	defer func() { Output = old }()

	stats := &TimingStats{
		TotalTime:     100 * time.Millisecond,
		ModelInitTime: 20 * time.Millisecond,
		ForwardTimes:  []time.Duration{30 * time.Millisecond, 50 * time.Millisecond},
		MeanUS:        40000,
		StdDevUS:      14142.1,
		MinTime:       30 * time.Millisecond,
		MaxTime:       50 * time.Millisecond,
	}
	if got := stats.ForwardTotal(); got != 80*time.Millisecond {
		t.Fatalf("ForwardTotal = %v, want 80ms", got)
	}

	PrintTimingStats(stats)
	out := buf.String()
	for _, want := range []string{"Iterations measured: 2", "Model initialization: 20ms (20.0%)", "Forward passes: 80ms (80.0%)", "Throughput: 25.00 passes/s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintTimingStatsQuiet(t *testing.T) {
	var buf bytes.Buffer
	old := Output
	Output, Verbose = &buf, false
	defer func() { Output, Verbose = old, true }()

	PrintTimingStats(&TimingStats{TotalTime: time.Second})
	if buf.Len() != 0 {
		t.Fatalf("expected no output when Verbose is false, got %q", buf.String())
	}
}
