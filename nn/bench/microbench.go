package bench

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"ec3_lib/core/device"
	"ec3_lib/nn"
	"ec3_lib/tensor"
	"ec3_lib/utils"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LayerStat accumulates what one leaf layer did during a forward pass.
type LayerStat struct {
	Path    string
	Kind    string
	Params  int
	Calls   int
	MACs    int64
	Out     []int
	Elapsed time.Duration
}

// Profile runs one forward pass of m on x and attributes every kernel
// execution reported by dev to the layer that issued it. Layers come back
// in declaration order.
func Profile(m nn.Module, x *tensor.Tensor, dev *device.Device) ([]LayerStat, *tensor.Tensor, error) {
	var stats []LayerStat
	index := make(map[any]int)
	nn.Walk("", m, func(path string, mod nn.Module) {
		leaf, ok := mod.(nn.Leaf)
		if !ok {
			return
		}
		index[leaf] = len(stats)
		stats = append(stats, LayerStat{Path: path, Kind: leaf.Tag(), Params: learnable(leaf)})
	})

	var mu sync.Mutex
	prev := dev.Observer
	dev.Observer = func(ev device.Event) {
		mu.Lock()
		defer mu.Unlock()
		if prev != nil {
			prev(ev)
		}
		i, ok := index[ev.Op]
		if !ok {
			return
		}
		s := &stats[i]
		s.Calls++
		s.MACs += ev.MACs
		s.Elapsed += ev.Elapsed
		s.Out = slices.Clone(ev.Out)
	}
	defer func() { dev.Observer = prev }()

	out, err := m.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	return stats, out, nil
}

// RunForward times iters forward passes after warmup untimed ones.
func RunForward(m nn.Module, x *tensor.Tensor, warmup, iters int) (*utils.TimingStats, error) {
	if iters <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", iters)
	}
	stats := &utils.TimingStats{}
	begin := time.Now()

	start := time.Now()
	for i := 0; i < warmup; i++ {
		if _, err := m.Forward(x); err != nil {
			return nil, err
		}
	}
	stats.WarmupTime = time.Since(start)

	us := make([]float64, iters)
	for i := 0; i < iters; i++ {
		start := time.Now()
		if _, err := m.Forward(x); err != nil {
			return nil, err
		}
		d := time.Since(start)
		stats.ForwardTimes = append(stats.ForwardTimes, d)
		us[i] = utils.DurationUS(d)
	}
	stats.TotalTime = time.Since(begin)

	stats.MeanUS, stats.StdDevUS = stat.MeanStdDev(us, nil)
	if iters == 1 {
		stats.StdDevUS = 0
	}
	stats.MinTime = stats.ForwardTimes[floats.MinIdx(us)]
	stats.MaxTime = stats.ForwardTimes[floats.MaxIdx(us)]
	return stats, nil
}
