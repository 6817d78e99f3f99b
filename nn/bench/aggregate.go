package bench

import (
	"fmt"
	"io"
	"strings"
	"time"

	"ec3_lib/nn"

	"github.com/olekukonko/tablewriter"
)

// ParamCount splits the state of a model into learnable parameters and
// running statistics.
type ParamCount struct {
	Learnable int
	Buffers   int
}

func learnable(leaf nn.Leaf) int {
	n := 0
	for _, p := range leaf.Params() {
		if !p.Buffer {
			n += len(p.T.Data)
		}
	}
	return n
}

// CountParams counts the elements of every parameter and buffer of m.
func CountParams(m nn.Module) ParamCount {
	var c ParamCount
	nn.Walk("", m, func(_ string, mod nn.Module) {
		leaf, ok := mod.(nn.Leaf)
		if !ok {
			return
		}
		for _, p := range leaf.Params() {
			if p.Buffer {
				c.Buffers += len(p.T.Data)
			} else {
				c.Learnable += len(p.T.Data)
			}
		}
	})
	return c
}

// StageStat is the sum of LayerStats sharing a top-level module.
type StageStat struct {
	Name    string
	Layers  int
	Params  int
	MACs    int64
	Elapsed time.Duration
}

// ByStage groups stats by the first component of their path, keeping the
// order in which stages first appear.
func ByStage(stats []LayerStat) []StageStat {
	var out []StageStat
	pos := make(map[string]int)
	for _, s := range stats {
		name, _, _ := strings.Cut(s.Path, ".")
		i, ok := pos[name]
		if !ok {
			i = len(out)
			pos[name] = i
			out = append(out, StageStat{Name: name})
		}
		out[i].Layers++
		out[i].Params += s.Params
		out[i].MACs += s.MACs
		out[i].Elapsed += s.Elapsed
	}
	return out
}

// TotalMACs sums the multiply-accumulates of all layers.
func TotalMACs(stats []LayerStat) int64 {
	var total int64
	for _, s := range stats {
		total += s.MACs
	}
	return total
}

// FormatMACs renders n with a metric prefix, e.g. "1.23 GMac".
func FormatMACs(n int64) string {
	v := float64(n)
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2f GMac", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2f MMac", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.2f KMac", v/1e3)
	}
	return fmt.Sprintf("%d Mac", n)
}

// FormatParams renders a parameter count the way model summaries usually do.
func FormatParams(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.2f M", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.2f k", float64(n)/1e3)
	}
	return fmt.Sprint(n)
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// WriteLayers prints one row per layer.
func WriteLayers(w io.Writer, stats []LayerStat) {
	table := newTable(w, []string{"LAYER", "KIND", "OUTPUT", "PARAMS", "MACS", "TIME"})
	for _, s := range stats {
		table.Append([]string{
			s.Path,
			s.Kind,
			fmt.Sprint(s.Out),
			fmt.Sprint(s.Params),
			FormatMACs(s.MACs),
			s.Elapsed.Round(time.Microsecond).String(),
		})
	}
	table.Render()
}

// WriteSummary prints the per-stage table followed by model totals.
func WriteSummary(w io.Writer, stats []LayerStat, counts ParamCount) {
	table := newTable(w, []string{"STAGE", "LAYERS", "PARAMS", "MACS", "TIME"})
	var elapsed time.Duration
	for _, s := range ByStage(stats) {
		elapsed += s.Elapsed
		table.Append([]string{
			s.Name,
			fmt.Sprint(s.Layers),
			FormatParams(s.Params),
			FormatMACs(s.MACs),
			s.Elapsed.Round(time.Microsecond).String(),
		})
	}
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Flops:  %s\n", FormatMACs(TotalMACs(stats)))
	fmt.Fprintf(w, "Params: %s (%d learnable, %d buffer elements)\n",
		FormatParams(counts.Learnable), counts.Learnable, counts.Buffers)
	fmt.Fprintf(w, "Kernel time: %v\n", elapsed.Round(time.Microsecond))
}
