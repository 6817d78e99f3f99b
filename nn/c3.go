package nn

import (
	"fmt"

	"ec3_lib/core/device"
	"ec3_lib/nn/layers"
	"ec3_lib/tensor"
)

// Ratio holds the dilation rates of the three branches of a C3 module.
type Ratio [3]int

// DefaultRatio is used by the repeated residual modules of the last stage.
var DefaultRatio = Ratio{2, 4, 8}

func (r Ratio) validate() error {
	for i, d := range r {
		if d < 1 {
			return fmt.Errorf("%w: ratio[%d] = %d, must be >= 1", ErrConfig, i, d)
		}
	}
	return nil
}

// SplitChannels divides nOut into three branches. The first branch takes
// the remainder so that first + 2*rest == nOut.
func SplitChannels(nOut int) (first, rest int) {
	n := nOut / 3
	return n + (nOut - 3*n), n
}

// C3Block approximates a k×k convolution dilated by d. With d == 1 it is a
// depthwise-separable convolution. With d > 1 it runs a (2d-1)×1 then a
// 1×(2d-1) depthwise pass before the dilated depthwise and pointwise convs.
type C3Block struct {
	Conv *Sequential
}

func NewC3Block(nIn, nOut, kSize, stride, d int, dev *device.Device) (*C3Block, error) {
	if d < 1 {
		return nil, fmt.Errorf("%w: dilation %d", ErrConfig, d)
	}
	pad := ((kSize - 1) / 2) * d

	dilated, err := layers.NewConv2D(layers.ConvConfig{
		InChan: nIn, OutChan: nIn,
		KH: kSize, KW: kSize,
		StrideH: stride, StrideW: stride,
		PadH: pad, PadW: pad,
		DilH: d, DilW: d,
		Groups: nIn,
	}, dev)
	if err != nil {
		return nil, err
	}
	pointwise, err := layers.NewConv2D(layers.Square(nIn, nOut, 1, 1), dev)
	if err != nil {
		return nil, err
	}
	if d == 1 {
		return &C3Block{Conv: &Sequential{Layers: []Module{dilated, pointwise}}}, nil
	}

	k := 2*d - 1
	vertical, err := layers.NewConv2D(layers.ConvConfig{
		InChan: nIn, OutChan: nIn,
		KH: k, KW: 1,
		StrideH: stride, StrideW: stride,
		PadH:   pad - 1,
		Groups: nIn,
	}, dev)
	if err != nil {
		return nil, err
	}
	horizontal, err := layers.NewConv2D(layers.ConvConfig{
		InChan: nIn, OutChan: nIn,
		KH: 1, KW: k,
		StrideH: stride, StrideW: stride,
		PadW:   pad - 1,
		Groups: nIn,
	}, dev)
	if err != nil {
		return nil, err
	}
	return &C3Block{Conv: &Sequential{Layers: []Module{
		vertical,
		layers.NewBatchNorm2D(nIn, layers.DefaultEps, dev),
		layers.NewPReLU(nIn, dev),
		horizontal,
		layers.NewBatchNorm2D(nIn, layers.DefaultEps, dev),
		dilated,
		pointwise,
	}}}, nil
}

func (b *C3Block) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.Conv.Forward(x)
	if err != nil {
		return nil, wrap("conv", err)
	}
	return out, nil
}

func (b *C3Block) Children() []Child {
	return []Child{{"conv", b.Conv}}
}

// branches holds the reduce step and the three parallel dilated branches
// shared by DownC3Module and C3Module.
type branches struct {
	C1         *C
	D1, D2, D3 *C3Block
	dev        *device.Device
}

func newBranches(nIn, nOut, reduceK, reduceStride int, ratio Ratio, dev *device.Device) (*branches, error) {
	if err := ratio.validate(); err != nil {
		return nil, err
	}
	if nOut < 3 {
		return nil, fmt.Errorf("%w: nOut %d cannot be split into three branches", ErrConfig, nOut)
	}
	first, n := SplitChannels(nOut)

	c1, err := NewC(nIn, n, reduceK, reduceStride, dev)
	if err != nil {
		return nil, wrap("c1", err)
	}
	b := &branches{C1: c1, dev: dev}
	if b.D1, err = NewC3Block(n, first, 3, 1, ratio[0], dev); err != nil {
		return nil, wrap("d1", err)
	}
	if b.D2, err = NewC3Block(n, n, 3, 1, ratio[1], dev); err != nil {
		return nil, wrap("d2", err)
	}
	if b.D3, err = NewC3Block(n, n, 3, 1, ratio[2], dev); err != nil {
		return nil, wrap("d3", err)
	}
	return b, nil
}

// merge reduces x, runs the three branches on the reduced map concurrently
// and concatenates their outputs along channels.
func (b *branches) merge(x *tensor.Tensor) (*tensor.Tensor, error) {
	reduced, err := b.C1.Forward(x)
	if err != nil {
		return nil, wrap("c1", err)
	}

	var d1, d2, d3 *tensor.Tensor
	err = b.dev.Go(
		func() (err error) {
			if d1, err = b.D1.Forward(reduced); err != nil {
				err = wrap("d1", err)
			}
			return err
		},
		func() (err error) {
			if d2, err = b.D2.Forward(reduced); err != nil {
				err = wrap("d2", err)
			}
			return err
		},
		func() (err error) {
			if d3, err = b.D3.Forward(reduced); err != nil {
				err = wrap("d3", err)
			}
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return tensor.Concat(d1, d2, d3)
}

func (b *branches) children() []Child {
	return []Child{{"c1", b.C1}, {"d1", b.D1}, {"d2", b.D2}, {"d3", b.D3}}
}

// DownC3Module halves the spatial resolution: a strided 3×3 reduce, three
// dilated branches, concatenation, then BN and PReLU.
type DownC3Module struct {
	*branches
	BN  *layers.BatchNorm2D
	Act *layers.PReLU
}

func NewDownC3Module(nIn, nOut int, ratio Ratio, dev *device.Device) (*DownC3Module, error) {
	b, err := newBranches(nIn, nOut, 3, 2, ratio, dev)
	if err != nil {
		return nil, err
	}
	return &DownC3Module{
		branches: b,
		BN:       layers.NewBatchNorm2D(nOut, layers.EpsC3, dev),
		Act:      layers.NewPReLU(nOut, dev),
	}, nil
}

func (m *DownC3Module) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.merge(x)
	if err != nil {
		return nil, err
	}
	if out, err = m.BN.Forward(out); err != nil {
		return nil, wrap("bn", err)
	}
	if out, err = m.Act.Forward(out); err != nil {
		return nil, wrap("act", err)
	}
	return out, nil
}

func (m *DownC3Module) Children() []Child {
	return append(m.children(), Child{"bn", m.BN}, Child{"act", m.Act})
}

// C3Module keeps the spatial resolution: a 1×1 reduce, three dilated
// branches, concatenation, an optional identity shortcut, then BR.
type C3Module struct {
	*branches
	BN  *BR
	Add bool
}

// NewC3Module rejects add with nIn != nOut, since the shortcut could
// never be summed.
func NewC3Module(nIn, nOut int, add bool, ratio Ratio, dev *device.Device) (*C3Module, error) {
	if add && nIn != nOut {
		return nil, fmt.Errorf("residual module: %w", &tensor.ShapeError{
			Op: "Add", Got: []int{nIn}, Want: []int{nOut},
		})
	}
	b, err := newBranches(nIn, nOut, 1, 1, ratio, dev)
	if err != nil {
		return nil, err
	}
	return &C3Module{branches: b, BN: NewBR(nOut, dev), Add: add}, nil
}

func (m *C3Module) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.merge(x)
	if err != nil {
		return nil, err
	}
	if m.Add {
		if out, err = tensor.Add(x, out); err != nil {
			return nil, fmt.Errorf("residual: %w", err)
		}
	}
	if out, err = m.BN.Forward(out); err != nil {
		return nil, wrap("bn", err)
	}
	return out, nil
}

func (m *C3Module) Children() []Child {
	return append(m.children(), Child{"bn", m.BN})
}
