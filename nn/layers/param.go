package layers

import "ec3_lib/tensor"

// Param is a named tensor owned by a layer. Buffers hold running statistics
// and are serialised but not learned.
type Param struct {
	Name   string
	T      *tensor.Tensor
	Buffer bool
}
