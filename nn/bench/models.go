package bench

import (
	"fmt"
	"slices"
	"strings"

	"ec3_lib/core/device"
	"ec3_lib/nn"
)

// BuiltNet holds a named network configuration and the network built from it.
type BuiltNet struct {
	Name string
	Net  *nn.ExtremeC3Net
}

// Models are the configurations benchmarked by default.
var Models = map[string]nn.Config{
	// two-class portrait segmentation, encoder output
	"small": nn.DefaultSmallConfig(),
	// same encoder with the full-resolution head
	"small-stage2": {Classes: 2, P: 1, Q: 5, Stage2: true},
	// constructor defaults, sized for the 20 Cityscapes classes
	"cityscapes": {Classes: 20, P: 5, Q: 3},
}

// ModelNames lists Models in a stable order.
func ModelNames() []string {
	names := make([]string, 0, len(Models))
	for name := range Models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build constructs the named model on dev.
func Build(name string, dev *device.Device) (BuiltNet, error) {
	cfg, ok := Models[name]
	if !ok {
		return BuiltNet{}, fmt.Errorf("unknown model %q (have %s)", name, strings.Join(ModelNames(), ", "))
	}
	net, err := nn.New(cfg, dev)
	if err != nil {
		return BuiltNet{}, fmt.Errorf("%s: %w", name, err)
	}
	return BuiltNet{Name: name, Net: net}, nil
}
