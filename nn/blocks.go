package nn

import (
	"ec3_lib/core/device"
	"ec3_lib/nn/layers"
	"ec3_lib/tensor"
)

// CBR is convolution, batch normalization and PReLU.
type CBR struct {
	Conv *layers.Conv2D
	BN   *layers.BatchNorm2D
	Act  *layers.PReLU
}

// NewCBR builds a k×k convolution with padding (k-1)/2 followed by BN and PReLU.
func NewCBR(nIn, nOut, kSize, stride int, dev *device.Device) (*CBR, error) {
	conv, err := layers.NewConv2D(layers.Square(nIn, nOut, kSize, stride), dev)
	if err != nil {
		return nil, err
	}
	return &CBR{
		Conv: conv,
		BN:   layers.NewBatchNorm2D(nOut, layers.EpsC3, dev),
		Act:  layers.NewPReLU(nOut, dev),
	}, nil
}

func (m *CBR) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.Conv.Forward(x)
	if err != nil {
		return nil, wrap("conv", err)
	}
	if out, err = m.BN.Forward(out); err != nil {
		return nil, wrap("bn", err)
	}
	if out, err = m.Act.Forward(out); err != nil {
		return nil, wrap("act", err)
	}
	return out, nil
}

func (m *CBR) Children() []Child {
	return []Child{{"conv", m.Conv}, {"bn", m.BN}, {"act", m.Act}}
}

// BR groups batch normalization and PReLU, applied to a map produced elsewhere.
type BR struct {
	BN  *layers.BatchNorm2D
	Act *layers.PReLU
}

func NewBR(nOut int, dev *device.Device) *BR {
	return &BR{
		BN:  layers.NewBatchNorm2D(nOut, layers.EpsC3, dev),
		Act: layers.NewPReLU(nOut, dev),
	}
}

func (m *BR) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.BN.Forward(x)
	if err != nil {
		return nil, wrap("bn", err)
	}
	if out, err = m.Act.Forward(out); err != nil {
		return nil, wrap("act", err)
	}
	return out, nil
}

func (m *BR) Children() []Child {
	return []Child{{"bn", m.BN}, {"act", m.Act}}
}

// CB is convolution followed by batch normalization, without activation.
type CB struct {
	Conv *layers.Conv2D
	BN   *layers.BatchNorm2D
}

func NewCB(nIn, nOut, kSize, stride int, dev *device.Device) (*CB, error) {
	conv, err := layers.NewConv2D(layers.Square(nIn, nOut, kSize, stride), dev)
	if err != nil {
		return nil, err
	}
	return &CB{Conv: conv, BN: layers.NewBatchNorm2D(nOut, layers.EpsC3, dev)}, nil
}

func (m *CB) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.Conv.Forward(x)
	if err != nil {
		return nil, wrap("conv", err)
	}
	if out, err = m.BN.Forward(out); err != nil {
		return nil, wrap("bn", err)
	}
	return out, nil
}

func (m *CB) Children() []Child {
	return []Child{{"conv", m.Conv}, {"bn", m.BN}}
}

// C is a plain convolution.
type C struct {
	Conv *layers.Conv2D
}

func NewC(nIn, nOut, kSize, stride int, dev *device.Device) (*C, error) {
	conv, err := layers.NewConv2D(layers.Square(nIn, nOut, kSize, stride), dev)
	if err != nil {
		return nil, err
	}
	return &C{Conv: conv}, nil
}

func (m *C) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.Conv.Forward(x)
	if err != nil {
		return nil, wrap("conv", err)
	}
	return out, nil
}

func (m *C) Children() []Child {
	return []Child{{"conv", m.Conv}}
}
