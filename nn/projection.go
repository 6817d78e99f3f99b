package nn

import (
	"ec3_lib/core/device"
	"ec3_lib/nn/layers"
	"ec3_lib/tensor"
)

// InputProjection downsamples the raw image by 2^samplingTimes with
// repeated 2×2 average pooling, so it can be concatenated with feature
// maps of the same resolution.
type InputProjection struct {
	Pool *ModuleList
}

func NewInputProjection(samplingTimes int, dev *device.Device) *InputProjection {
	pools := make([]Module, samplingTimes)
	for i := range pools {
		pools[i] = layers.NewAvgPool2D(2, dev)
	}
	return &InputProjection{Pool: &ModuleList{Modules: pools}}
}

func (p *InputProjection) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := p.Pool.Forward(x)
	if err != nil {
		return nil, wrap("pool", err)
	}
	return out, nil
}

func (p *InputProjection) Children() []Child {
	return []Child{{"pool", p.Pool}}
}
