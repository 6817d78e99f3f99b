// Package device is the execution context handed to every layer at
// construction: how many workers kernels may use and the random source
// used for weight initialisation.
package device

import (
	"runtime"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Device describes where and how kernels execute. Only the CPU is supported.
type Device struct {
	Name    string
	Workers int
	Seed    uint64

	// Observer, when set, receives an Event after every kernel runs.
	Observer func(Event)

	src rand.Source
}

// New returns a CPU device. workers <= 0 means one worker per CPU.
func New(workers int, seed uint64) *Device {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Device{
		Name:    "cpu",
		Workers: workers,
		Seed:    seed,
		src:     rand.NewSource(seed),
	}
}

// Default is a CPU device using every core, seeded with 0.
func Default() *Device { return New(0, 0) }

// Reseed restarts the initialisation stream.
func (d *Device) Reseed(seed uint64) {
	d.Seed = seed
	d.src = rand.NewSource(seed)
}

// Uniform returns a uniform distribution on [min, max) drawing from the
// device source. Not safe for concurrent use; construction is sequential.
func (d *Device) Uniform(min, max float64) distuv.Uniform {
	return distuv.Uniform{Min: min, Max: max, Src: d.src}
}

// ParallelFor calls fn(i) for i in [0, n) on at most Workers goroutines and
// returns the first error.
func (d *Device) ParallelFor(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if d.Workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(d.Workers)
	for i := 0; i < n; i++ {
		i := i // per-iteration copy; go directive lowered to 1.21 for the local toolchain
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}

// Go runs fns concurrently and waits for all of them.
func (d *Device) Go(fns ...func() error) error {
	if d.Workers <= 1 {
		for _, fn := range fns {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, fn := range fns {
		g.Go(fn)
	}
	return g.Wait()
}

// Event describes one executed kernel.
type Event struct {
	Op      any
	In      []int
	Out     []int
	MACs    int64
	Elapsed time.Duration
}

// Observe forwards ev to Observer when one is installed. Observers may be
// called from several goroutines at once.
func (d *Device) Observe(ev Event) {
	if d.Observer != nil {
		d.Observer(ev)
	}
}
