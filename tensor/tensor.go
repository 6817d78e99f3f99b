package tensor

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// ErrShape is wrapped by every shape-related failure.
var ErrShape = errors.New("shape mismatch")

// ShapeError reports the operation and the offending shapes.
type ShapeError struct {
	Op   string
	Got  []int
	Want []int
}

func (e *ShapeError) Error() string {
	if e.Want == nil {
		return fmt.Sprintf("%s: %v: got %v", e.Op, ErrShape, e.Got)
	}
	return fmt.Sprintf("%s: %v: got %v, want %v", e.Op, ErrShape, e.Got, e.Want)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

// Tensor is a simple n-D array backed by a flat []float64.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float64, Numel(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// FromData wraps data (copied) with the given shape.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if n := Numel(shape); n != len(data) {
		return nil, &ShapeError{Op: "FromData", Got: []int{len(data)}, Want: []int{n}}
	}
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: append([]int(nil), shape...),
	}, nil
}

// Numel is the element count of shape. A zero-rank shape holds one element.
func Numel(shape []int) int {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return total
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return slices.Equal(a.Shape, b.Shape)
}

// Dims4 unpacks an NCHW shape.
func (t *Tensor) Dims4() (n, c, h, w int, err error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, &ShapeError{Op: "Dims4", Got: t.Shape}
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, &ShapeError{Op: "Add", Got: b.Shape, Want: a.Shape}
	}
	out := New(a.Shape...)
	floats.AddTo(out.Data, a.Data, b.Data)
	return out, nil
}

// Equal reports bit-identical contents and shape.
func Equal(a, b *Tensor) bool {
	return SameShape(a, b) && slices.Equal(a.Data, b.Data)
}

// offset computes the linear index for indices.
func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}
