package tensor

import "fmt"

// Concat joins NCHW tensors along the channel axis. Batch and spatial
// dimensions must agree.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("Concat: no inputs")
	}
	n, _, h, w, err := ts[0].Dims4()
	if err != nil {
		return nil, fmt.Errorf("Concat: input 0: %w", err)
	}
	total := 0
	for i, t := range ts {
		tn, tc, th, tw, err := t.Dims4()
		if err != nil {
			return nil, fmt.Errorf("Concat: input %d: %w", i, err)
		}
		if tn != n || th != h || tw != w {
			return nil, &ShapeError{Op: fmt.Sprintf("Concat input %d", i), Got: t.Shape, Want: []int{n, tc, h, w}}
		}
		total += tc
	}

	out := New(n, total, h, w)
	plane := h * w
	for b := 0; b < n; b++ {
		dst := out.Data[b*total*plane:]
		for _, t := range ts {
			c := t.Shape[1]
			copy(dst[:c*plane], t.Data[b*c*plane:(b+1)*c*plane])
			dst = dst[c*plane:]
		}
	}
	return out, nil
}
