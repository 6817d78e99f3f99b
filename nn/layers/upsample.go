package layers

import (
	"fmt"
	"time"

	"ec3_lib/core/device"
	"ec3_lib/tensor"
)

// UpsamplingBilinear2D scales H and W by an integer factor with bilinear
// interpolation, aligning the corner pixels of input and output.
type UpsamplingBilinear2D struct {
	Scale int
	dev   *device.Device
}

func NewUpsamplingBilinear2D(scale int, dev *device.Device) *UpsamplingBilinear2D {
	return &UpsamplingBilinear2D{Scale: scale, dev: dev}
}

// alignCornersAxis precomputes, for each output coordinate, the two source indices and
// the weight of the upper one.
func alignCornersAxis(in, out int) (lo, hi []int, frac []float64) {
	lo, hi, frac = make([]int, out), make([]int, out), make([]float64, out)
	ratio := 0.0
	if out > 1 {
		ratio = float64(in-1) / float64(out-1)
	}
	for i := 0; i < out; i++ {
		src := ratio * float64(i)
		l := int(src)
		if l > in-1 {
			l = in - 1
		}
		h := l + 1
		if h > in-1 {
			h = in - 1
		}
		lo[i], hi[i], frac[i] = l, h, src-float64(l)
	}
	return lo, hi, frac
}

func (u *UpsamplingBilinear2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	n, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.Tag(), err)
	}
	outH, outW := h*u.Scale, w*u.Scale
	y0, y1, fy := alignCornersAxis(h, outH)
	x0, x1, fx := alignCornersAxis(w, outW)

	out := tensor.New(n, c, outH, outW)
	err = u.dev.ParallelFor(n*c, func(p int) error {
		src := x.Data[p*h*w:][:h*w]
		dst := out.Data[p*outH*outW:][:outH*outW]
		for oy := 0; oy < outH; oy++ {
			top, bot := src[y0[oy]*w:][:w], src[y1[oy]*w:][:w]
			wy := fy[oy]
			row := dst[oy*outW:][:outW]
			for ox := range row {
				wx := fx[ox]
				t := top[x0[ox]]*(1-wx) + top[x1[ox]]*wx
				b := bot[x0[ox]]*(1-wx) + bot[x1[ox]]*wx
				row[ox] = t*(1-wy) + b*wy
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.dev.Observe(device.Event{Op: u, In: x.Shape, Out: out.Shape, Elapsed: time.Since(start)})
	return out, nil
}

// Params is empty: resampling has no learned state.
func (u *UpsamplingBilinear2D) Params() []Param { return nil }

func (u *UpsamplingBilinear2D) Tag() string {
	return fmt.Sprintf("UpsamplingBilinear2D_x%d", u.Scale)
}
