package layers

import (
	"fmt"
	"time"

	"ec3_lib/core/device"
	"ec3_lib/tensor"
)

// PReLUInit is the initial negative slope of every channel.
const PReLUInit = 0.25

// PReLU is a leaky rectifier with one learned negative slope per channel:
// y = x for x >= 0, y = a[c]*x otherwise.
type PReLU struct {
	C      int
	Weight *tensor.Tensor

	dev *device.Device
}

// NewPReLU creates a PReLU layer over c channels.
func NewPReLU(c int, dev *device.Device) *PReLU {
	a := &PReLU{C: c, Weight: tensor.New(c), dev: dev}
	for i := range a.Weight.Data {
		a.Weight.Data[i] = PReLUInit
	}
	return a
}

func (a *PReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	n, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Tag(), err)
	}
	if c != a.C {
		return nil, &tensor.ShapeError{Op: a.Tag(), Got: x.Shape, Want: []int{n, a.C, h, w}}
	}

	out := tensor.New(x.Shape...)
	plane := h * w
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			slope := a.Weight.Data[ch]
			off := (b*c + ch) * plane
			src, dst := x.Data[off:off+plane], out.Data[off:off+plane]
			for i, v := range src {
				if v >= 0 {
					dst[i] = v
				} else {
					dst[i] = slope * v
				}
			}
		}
	}

	a.dev.Observe(device.Event{Op: a, In: x.Shape, Out: out.Shape, Elapsed: time.Since(start)})
	return out, nil
}

func (a *PReLU) Params() []Param {
	return []Param{{Name: "weight", T: a.Weight}}
}

func (a *PReLU) Tag() string {
	return fmt.Sprintf("PReLU_%d", a.C)
}
