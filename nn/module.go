package nn

import (
	"fmt"
	"strconv"

	"ec3_lib/nn/layers"
	"ec3_lib/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Leaf is a module that owns tensors directly (conv, batch-norm, PReLU...).
type Leaf interface {
	Module
	Params() []layers.Param
	Tag() string
}

// Child is a named sub-module. Names form the dotted state-dict paths.
type Child struct {
	Name   string
	Module Module
}

// Container is a module built from named sub-modules.
type Container interface {
	Children() []Child
}

// Walk visits m and every descendant depth-first, in declaration order,
// with the dotted path of each.
func Walk(prefix string, m Module, fn func(path string, m Module)) {
	fn(prefix, m)
	c, ok := m.(Container)
	if !ok {
		return
	}
	for _, ch := range c.Children() {
		Walk(join(prefix, ch.Name), ch.Module, fn)
	}
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// wrap annotates err with the path of the module that produced it.
func wrap(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}

// Sequential chains multiple Modules in order. Children are named by index.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	out := x
	for i, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, wrap(strconv.Itoa(i), err)
		}
	}
	return out, nil
}

func (s *Sequential) Children() []Child {
	return indexed(s.Layers)
}

// ModuleList is an ordered list of owned modules. Applied as a whole it
// chains them like Sequential; an empty list is the identity.
type ModuleList struct {
	Modules []Module
}

func (l *ModuleList) Len() int { return len(l.Modules) }

func (l *ModuleList) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return (&Sequential{Layers: l.Modules}).Forward(x)
}

func (l *ModuleList) Children() []Child {
	return indexed(l.Modules)
}

func indexed(ms []Module) []Child {
	out := make([]Child, len(ms))
	for i, m := range ms {
		out[i] = Child{Name: strconv.Itoa(i), Module: m}
	}
	return out
}
