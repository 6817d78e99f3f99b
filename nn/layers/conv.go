package layers

import (
	"fmt"
	"math"
	"time"

	"ec3_lib/core/device"
	"ec3_lib/tensor"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// ConvConfig describes a bias-free 2-D convolution. Zero strides and
// dilations are treated as 1, and zero groups as 1.
type ConvConfig struct {
	InChan, OutChan  int
	KH, KW           int
	StrideH, StrideW int
	PadH, PadW       int
	DilH, DilW       int
	Groups           int
}

// Square is a k×k convolution with padding (k-1)/2.
func Square(inChan, outChan, k, stride int) ConvConfig {
	p := (k - 1) / 2
	return ConvConfig{
		InChan: inChan, OutChan: outChan,
		KH: k, KW: k,
		StrideH: stride, StrideW: stride,
		PadH: p, PadW: p,
	}
}

func (cfg *ConvConfig) normalize() {
	if cfg.StrideH == 0 {
		cfg.StrideH = 1
	}
	if cfg.StrideW == 0 {
		cfg.StrideW = 1
	}
	if cfg.DilH == 0 {
		cfg.DilH = 1
	}
	if cfg.DilW == 0 {
		cfg.DilW = 1
	}
	if cfg.Groups == 0 {
		cfg.Groups = 1
	}
}

func (cfg ConvConfig) validate() error {
	switch {
	case cfg.InChan <= 0 || cfg.OutChan <= 0:
		return fmt.Errorf("conv: channels must be positive, got %d→%d", cfg.InChan, cfg.OutChan)
	case cfg.KH <= 0 || cfg.KW <= 0:
		return fmt.Errorf("conv: invalid kernel %dx%d", cfg.KH, cfg.KW)
	case cfg.StrideH < 0 || cfg.StrideW < 0 || cfg.DilH < 0 || cfg.DilW < 0:
		return fmt.Errorf("conv: negative stride or dilation")
	case cfg.PadH < 0 || cfg.PadW < 0:
		return fmt.Errorf("conv: negative padding (%d, %d)", cfg.PadH, cfg.PadW)
	case cfg.InChan%cfg.Groups != 0 || cfg.OutChan%cfg.Groups != 0:
		return fmt.Errorf("conv: channels %d→%d not divisible by %d groups", cfg.InChan, cfg.OutChan, cfg.Groups)
	}
	return nil
}

// Conv2D is a bias-free 2D convolution with stride, zero padding, dilation
// and channel groups, operating on NCHW tensors.
type Conv2D struct {
	ConvConfig

	// W is laid out [OutChan, InChan/Groups, KH, KW].
	W *tensor.Tensor

	dev *device.Device
}

// NewConv2D creates a Conv2D initialised uniformly in ±1/sqrt(fanIn).
func NewConv2D(cfg ConvConfig, dev *device.Device) (*Conv2D, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Conv2D{
		ConvConfig: cfg,
		W:          tensor.New(cfg.OutChan, cfg.InChan/cfg.Groups, cfg.KH, cfg.KW),
		dev:        dev,
	}

	bound := 1 / math.Sqrt(float64(c.fanIn()))
	dist := dev.Uniform(-bound, bound)
	for i := range c.W.Data {
		c.W.Data[i] = dist.Rand()
	}
	return c, nil
}

func (c *Conv2D) fanIn() int {
	return (c.InChan / c.Groups) * c.KH * c.KW
}

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	outH = (inH+2*c.PadH-c.DilH*(c.KH-1)-1)/c.StrideH + 1
	outW = (inW+2*c.PadW-c.DilW*(c.KW-1)-1)/c.StrideW + 1
	return outH, outW
}

func (c *Conv2D) pointwise() bool {
	return c.KH == 1 && c.KW == 1 && c.StrideH == 1 && c.StrideW == 1 && c.PadH == 0 && c.PadW == 0
}

// Forward convolves x of shape [N, InChan, H, W].
func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	start := time.Now()
	n, ch, h, w, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Tag(), err)
	}
	if ch != c.InChan {
		return nil, &tensor.ShapeError{Op: c.Tag(), Got: x.Shape, Want: []int{n, c.InChan, h, w}}
	}
	outH, outW := c.GetOutputShape(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, &tensor.ShapeError{Op: c.Tag() + " (input smaller than kernel)", Got: x.Shape}
	}

	out := tensor.New(n, c.OutChan, outH, outW)
	if c.Groups == 1 {
		c.forwardGEMM(x, out)
	} else if err := c.forwardGrouped(x, out); err != nil {
		return nil, err
	}

	c.dev.Observe(device.Event{
		Op:      c,
		In:      x.Shape,
		Out:     out.Shape,
		MACs:    int64(n) * int64(c.OutChan*outH*outW) * int64(c.fanIn()),
		Elapsed: time.Since(start),
	})
	return out, nil
}

// forwardGEMM lowers the dense case to W × im2col(x) per sample.
func (c *Conv2D) forwardGEMM(x, out *tensor.Tensor) {
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	outH, outW := out.Shape[2], out.Shape[3]
	k := c.InChan * c.KH * c.KW
	inPlane, outPlane := c.InChan*h*w, c.OutChan*outH*outW

	weights := blas64.General{Rows: c.OutChan, Cols: k, Stride: k, Data: c.W.Data}
	var col []float64
	if !c.pointwise() {
		col = make([]float64, k*outH*outW)
	}
	for b := 0; b < n; b++ {
		src := x.Data[b*inPlane : (b+1)*inPlane]
		if c.pointwise() {
			col = src
		} else {
			c.im2col(src, h, w, outH, outW, col)
		}
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
			weights,
			blas64.General{Rows: k, Cols: outH * outW, Stride: outH * outW, Data: col},
			0,
			blas64.General{Rows: c.OutChan, Cols: outH * outW, Stride: outH * outW, Data: out.Data[b*outPlane : (b+1)*outPlane]},
		)
	}
}

// im2col writes one row per (channel, ky, kx) tap; padded taps are zero.
func (c *Conv2D) im2col(src []float64, h, w, outH, outW int, col []float64) {
	taps := c.KH * c.KW
	_ = c.dev.ParallelFor(c.InChan, func(ic int) error {
		plane := src[ic*h*w : (ic+1)*h*w]
		for ky := 0; ky < c.KH; ky++ {
			for kx := 0; kx < c.KW; kx++ {
				row := col[(ic*taps+ky*c.KW+kx)*outH*outW:][:outH*outW]
				for oy := 0; oy < outH; oy++ {
					iy := oy*c.StrideH - c.PadH + ky*c.DilH
					dst := row[oy*outW : (oy+1)*outW]
					if iy < 0 || iy >= h {
						clear(dst)
						continue
					}
					for ox := range dst {
						ix := ox*c.StrideW - c.PadW + kx*c.DilW
						if ix < 0 || ix >= w {
							dst[ox] = 0
						} else {
							dst[ox] = plane[iy*w+ix]
						}
					}
				}
			}
		}
		return nil
	})
}

// forwardGrouped handles depthwise and other grouped convolutions directly,
// one (sample, output channel) plane per task.
func (c *Conv2D) forwardGrouped(x, out *tensor.Tensor) error {
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	outH, outW := out.Shape[2], out.Shape[3]
	inG, outG := c.InChan/c.Groups, c.OutChan/c.Groups
	taps := c.KH * c.KW

	return c.dev.ParallelFor(n*c.OutChan, func(task int) error {
		b, oc := task/c.OutChan, task%c.OutChan
		g := oc / outG
		dst := out.Data[(b*c.OutChan+oc)*outH*outW:][:outH*outW]
		for j := 0; j < inG; j++ {
			ic := g*inG + j
			plane := x.Data[(b*c.InChan+ic)*h*w:][:h*w]
			kernel := c.W.Data[(oc*inG+j)*taps:][:taps]
			for ky := 0; ky < c.KH; ky++ {
				for kx := 0; kx < c.KW; kx++ {
					wv := kernel[ky*c.KW+kx]
					for oy := 0; oy < outH; oy++ {
						iy := oy*c.StrideH - c.PadH + ky*c.DilH
						if iy < 0 || iy >= h {
							continue
						}
						row := plane[iy*w : (iy+1)*w]
						orow := dst[oy*outW : (oy+1)*outW]
						for ox := range orow {
							ix := ox*c.StrideW - c.PadW + kx*c.DilW
							if ix >= 0 && ix < w {
								orow[ox] += wv * row[ix]
							}
						}
					}
				}
			}
		}
		return nil
	})
}

// Params exposes the kernel under PyTorch's name.
func (c *Conv2D) Params() []Param {
	return []Param{{Name: "weight", T: c.W}}
}

func (c *Conv2D) Tag() string {
	tag := fmt.Sprintf("Conv2D_%d_%d_%dx%d", c.InChan, c.OutChan, c.KH, c.KW)
	if c.StrideH != 1 || c.StrideW != 1 {
		tag += fmt.Sprintf("_s%d", c.StrideH)
	}
	if c.DilH != 1 || c.DilW != 1 {
		tag += fmt.Sprintf("_d%d", c.DilH)
	}
	if c.Groups != 1 {
		tag += fmt.Sprintf("_g%d", c.Groups)
	}
	return tag
}
