package layers

import (
	"fmt"
	"math"
	"time"

	"ec3_lib/core/device"
	"ec3_lib/tensor"

	"gonum.org/v1/gonum/floats"
)

// Epsilons used by the network. DefaultEps matches the framework default;
// the network's own blocks use EpsC3.
const (
	DefaultEps = 1e-5
	EpsC3      = 1e-3
)

// BatchNorm2D normalises each channel with its running statistics
// (inference mode).
type BatchNorm2D struct {
	C   int
	Eps float64

	Weight      *tensor.Tensor
	Bias        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
	// NumBatchesTracked is kept only so state dicts round-trip.
	NumBatchesTracked *tensor.Tensor

	dev *device.Device
}

func NewBatchNorm2D(c int, eps float64, dev *device.Device) *BatchNorm2D {
	bn := &BatchNorm2D{
		C:                 c,
		Eps:               eps,
		Weight:            tensor.New(c),
		Bias:              tensor.New(c),
		RunningMean:       tensor.New(c),
		RunningVar:        tensor.New(c),
		NumBatchesTracked: tensor.New(),
		dev:               dev,
	}
	for i := 0; i < c; i++ {
		bn.Weight.Data[i] = 1
		bn.RunningVar.Data[i] = 1
	}
	return bn
}

func (bn *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	n, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", bn.Tag(), err)
	}
	if c != bn.C {
		return nil, &tensor.ShapeError{Op: bn.Tag(), Got: x.Shape, Want: []int{n, bn.C, h, w}}
	}

	out := x.Clone()
	plane := h * w
	for ch := 0; ch < c; ch++ {
		scale := bn.Weight.Data[ch] / math.Sqrt(bn.RunningVar.Data[ch]+bn.Eps)
		shift := bn.Bias.Data[ch] - bn.RunningMean.Data[ch]*scale
		for b := 0; b < n; b++ {
			p := out.Data[(b*c+ch)*plane:][:plane]
			floats.Scale(scale, p)
			floats.AddConst(shift, p)
		}
	}

	bn.dev.Observe(device.Event{Op: bn, In: x.Shape, Out: out.Shape, MACs: int64(len(out.Data)), Elapsed: time.Since(start)})
	return out, nil
}

func (bn *BatchNorm2D) Params() []Param {
	return []Param{
		{Name: "weight", T: bn.Weight},
		{Name: "bias", T: bn.Bias},
		{Name: "running_mean", T: bn.RunningMean, Buffer: true},
		{Name: "running_var", T: bn.RunningVar, Buffer: true},
		{Name: "num_batches_tracked", T: bn.NumBatchesTracked, Buffer: true},
	}
}

func (bn *BatchNorm2D) Tag() string {
	return fmt.Sprintf("BatchNorm2D_%d", bn.C)
}
