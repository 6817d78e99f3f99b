package nn

import (
	"errors"
	"fmt"
	"log/slog"

	"ec3_lib/core/device"
	"ec3_lib/nn/layers"
	"ec3_lib/tensor"
)

// Channel widths of the four stages.
const (
	Basic0 = 24
	Basic1 = 48
	Basic2 = 56
	Basic3 = 24
)

// ErrConfig reports a network or module configuration that cannot be built.
var ErrConfig = errors.New("invalid configuration")

// Config holds the construction-time parameters of ExtremeC3Net.
type Config struct {
	Classes int  `json:"classes"`
	P       int  `json:"p"`
	Q       int  `json:"q"`
	Stage2  bool `json:"stage2"`
}

// DefaultSmallConfig is the configuration of the small segmentation model.
func DefaultSmallConfig() Config {
	return Config{Classes: 2, P: 1, Q: 5}
}

func (c Config) Validate() error {
	switch {
	case c.Classes <= 0:
		return fmt.Errorf("%w: classes must be positive, got %d", ErrConfig, c.Classes)
	case c.P < 0:
		return fmt.Errorf("%w: p must be non-negative, got %d", ErrConfig, c.P)
	case c.Q < 0:
		return fmt.Errorf("%w: q must be non-negative, got %d", ErrConfig, c.Q)
	}
	return nil
}

// ExtremeC3Net is the encoder/decoder segmentation network. The encoder
// reduces the input by 4 in each spatial dimension; with Stage2 the head
// upsamples back to full resolution.
type ExtremeC3Net struct {
	Config Config

	Level1     *CBR
	Sample1    *InputProjection
	Sample2    *InputProjection
	B1         *BR
	Level2_0   *DownC3Module
	Level2     *ModuleList
	B2         *BR
	Level3_0   *C3Module
	Level3     *ModuleList
	B3         *BR
	Upsample   *Sequential
	Classifier *Sequential

	dev *device.Device
}

// New builds the network with freshly initialised weights drawn from dev.
func New(cfg Config, dev *device.Device) (*ExtremeC3Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var err error
	net := &ExtremeC3Net{
		Config:  cfg,
		Sample1: NewInputProjection(1, dev),
		Sample2: NewInputProjection(2, dev),
		dev:     dev,
	}

	if net.Level1, err = NewCBR(3, Basic0, 3, 2, dev); err != nil {
		return nil, wrap("level1", err)
	}
	net.B1 = NewBR(Basic0+3, dev)
	if net.Level2_0, err = NewDownC3Module(Basic0+3, Basic1, Ratio{1, 2, 3}, dev); err != nil {
		return nil, wrap("level2_0", err)
	}

	level2 := make([]Module, cfg.P)
	for i := range level2 {
		if level2[i], err = NewC3Module(Basic1, Basic1, true, Ratio{1, 3, 4}, dev); err != nil {
			return nil, wrap(fmt.Sprintf("level2.%d", i), err)
		}
	}
	net.Level2 = &ModuleList{Modules: level2}
	net.B2 = NewBR(Basic1*2+3, dev)

	if net.Level3_0, err = NewC3Module(Basic1*2+3, Basic2, false, Ratio{1, 3, 5}, dev); err != nil {
		return nil, wrap("level3_0", err)
	}
	level3 := make([]Module, cfg.Q)
	for i := range level3 {
		if level3[i], err = NewC3Module(Basic2, Basic2, true, DefaultRatio, dev); err != nil {
			return nil, wrap(fmt.Sprintf("level3.%d", i), err)
		}
	}
	net.Level3 = &ModuleList{Modules: level3}
	net.B3 = NewBR(Basic2*2, dev)

	if net.Upsample, err = newUpsampleHead(cfg.Stage2, dev); err != nil {
		return nil, wrap("upsample", err)
	}
	cls, err := layers.NewConv2D(layers.Square(Basic3, cfg.Classes, 1, 1), dev)
	if err != nil {
		return nil, wrap("classifier", err)
	}
	net.Classifier = &Sequential{Layers: []Module{cls}}
	return net, nil
}

func newUpsampleHead(stage2 bool, dev *device.Device) (*Sequential, error) {
	proj, err := layers.NewConv2D(layers.Square(Basic2*2, Basic3, 1, 1), dev)
	if err != nil {
		return nil, err
	}
	head := []Module{proj}
	if stage2 {
		head = append(head, layers.NewUpsamplingBilinear2D(4, dev))
	}
	head = append(head,
		layers.NewBatchNorm2D(Basic3, layers.EpsC3, dev),
		layers.NewPReLU(Basic3, dev),
	)
	return &Sequential{Layers: head}, nil
}

// NewSmall builds the small model. When encFile is set, the encoder
// weights it holds are copied into the network by name; see LoadPartial.
func NewSmall(cfg Config, dev *device.Device, encFile string) (*ExtremeC3Net, error) {
	net, err := New(cfg, dev)
	if err != nil {
		return nil, err
	}
	if encFile == "" {
		return net, nil
	}
	src, err := loadCheckpoint(encFile)
	if err != nil {
		return nil, fmt.Errorf("load encoder %s: %w", encFile, err)
	}
	if _, err := net.LoadPartial(src); err != nil {
		return nil, fmt.Errorf("load encoder %s: %w", encFile, err)
	}
	slog.Info("pretrained encoder loaded", "file", encFile)
	return net, nil
}

func (n *ExtremeC3Net) Children() []Child {
	return []Child{
		{"level1", n.Level1},
		{"sample1", n.Sample1},
		{"sample2", n.Sample2},
		{"b1", n.B1},
		{"level2_0", n.Level2_0},
		{"level2", n.Level2},
		{"b2", n.B2},
		{"level3_0", n.Level3_0},
		{"level3", n.Level3},
		{"b3", n.B3},
		{"upsample", n.Upsample},
		{"classifier", n.Classifier},
	}
}

// Device returns the execution context the network was built on.
func (n *ExtremeC3Net) Device() *device.Device { return n.dev }

// Forward maps an image batch [N, 3, H, W] to class scores
// [N, Classes, H/4, W/4], or [N, Classes, H, W] with Stage2.
func (n *ExtremeC3Net) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var output0, inp1, inp2 *tensor.Tensor
	err := n.dev.Go(
		func() (err error) {
			if output0, err = n.Level1.Forward(x); err != nil {
				err = wrap("level1", err)
			}
			return err
		},
		func() (err error) {
			if inp1, err = n.Sample1.Forward(x); err != nil {
				err = wrap("sample1", err)
			}
			return err
		},
		func() (err error) {
			if inp2, err = n.Sample2.Forward(x); err != nil {
				err = wrap("sample2", err)
			}
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	output0Cat, err := n.fuse("b1", n.B1, output0, inp1)
	if err != nil {
		return nil, err
	}
	output10, err := n.Level2_0.Forward(output0Cat)
	if err != nil {
		return nil, wrap("level2_0", err)
	}
	output1, err := n.Level2.Forward(output10)
	if err != nil {
		return nil, wrap("level2", err)
	}
	output1Cat, err := n.fuse("b2", n.B2, output1, output10, inp2)
	if err != nil {
		return nil, err
	}

	output20, err := n.Level3_0.Forward(output1Cat)
	if err != nil {
		return nil, wrap("level3_0", err)
	}
	output2, err := n.Level3.Forward(output20)
	if err != nil {
		return nil, wrap("level3", err)
	}
	output2Cat, err := n.fuse("b3", n.B3, output20, output2)
	if err != nil {
		return nil, err
	}

	coarse, err := n.Upsample.Forward(output2Cat)
	if err != nil {
		return nil, wrap("upsample", err)
	}
	out, err := n.Classifier.Forward(coarse)
	if err != nil {
		return nil, wrap("classifier", err)
	}
	return out, nil
}

// fuse concatenates maps along channels and normalises the result.
func (n *ExtremeC3Net) fuse(name string, br *BR, maps ...*tensor.Tensor) (*tensor.Tensor, error) {
	cat, err := tensor.Concat(maps...)
	if err != nil {
		return nil, wrap(name, err)
	}
	out, err := br.Forward(cat)
	if err != nil {
		return nil, wrap(name, err)
	}
	return out, nil
}
