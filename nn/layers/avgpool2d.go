package layers

import (
	"fmt"
	"time"

	"ec3_lib/core/device"
	"ec3_lib/tensor"
)

// AvgPool2D averages non-overlapping p×p windows (stride p, no padding).
// Trailing rows and columns that do not fill a window are dropped.
type AvgPool2D struct {
	poolSize int
	dev      *device.Device
}

func NewAvgPool2D(p int, dev *device.Device) *AvgPool2D {
	return &AvgPool2D{poolSize: p, dev: dev}
}

func (a *AvgPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	B, C, H, W, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Tag(), err)
	}
	p := a.poolSize
	outH, outW := H/p, W/p
	if outH == 0 || outW == 0 {
		return nil, &tensor.ShapeError{Op: a.Tag() + " (input smaller than window)", Got: x.Shape}
	}

	out := tensor.New(B, C, outH, outW)
	for b := 0; b < B; b++ {
		for c := 0; c < C; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := 0.0
					for ph := 0; ph < p; ph++ {
						for pw := 0; pw < p; pw++ {
							ih := oh*p + ph
							jw := ow*p + pw
							sum += x.Data[((b*C+c)*H+ih)*W+jw]
						}
					}
					out.Data[((b*C+c)*outH+oh)*outW+ow] = sum / float64(p*p)
				}
			}
		}
	}

	a.dev.Observe(device.Event{Op: a, In: x.Shape, Out: out.Shape, Elapsed: time.Since(start)})
	return out, nil
}

// Params is empty: pooling has no learned state.
func (a *AvgPool2D) Params() []Param { return nil }

func (a *AvgPool2D) Tag() string {
	return fmt.Sprintf("AvgPool2D_%d", a.poolSize)
}
