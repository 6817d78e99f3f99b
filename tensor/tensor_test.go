package tensor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestScalarShape(t *testing.T) {
	s := New()
	require.Len(t, s.Data, 1)
	require.Empty(t, s.Shape)
}

func TestAdd(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3}, Shape: []int{3}}
	b := &Tensor{Data: []float64{4, 5, 6}, Shape: []int{3}}
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}
}

func TestAddShapeMismatch(t *testing.T) {
	_, err := Add(New(1, 2, 4, 4), New(1, 3, 4, 4))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShape))

	var se *ShapeError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "Add", se.Op)
	require.Equal(t, []int{1, 3, 4, 4}, se.Got)
}

func TestFromData(t *testing.T) {
	x, err := FromData([]float64{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 6.0, x.At(0, 1, 2))

	_, err = FromData([]float64{1, 2}, 3)
	require.ErrorIs(t, err, ErrShape)
}

func TestAtSet(t *testing.T) {
	x := New(2, 3, 4, 5)
	x.Set(7, 1, 2, 3, 4)
	require.Equal(t, 7.0, x.At(1, 2, 3, 4))
	require.Equal(t, 7.0, x.Data[len(x.Data)-1])
	require.Panics(t, func() { x.At(2, 0, 0, 0) })
}

func TestConcatChannels(t *testing.T) {
	a, _ := FromData([]float64{1, 2, 3, 4, 10, 20, 30, 40}, 2, 1, 2, 2)
	b, _ := FromData([]float64{5, 6, 7, 8, 9, 10, 11, 12, 50, 60, 70, 80, 90, 100, 110, 120}, 2, 2, 2, 2)

	out, err := Concat(a, b)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 2, 2}, out.Shape)
	want := []float64{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12,
		10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120,
	}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Fatalf("concat mismatch (-want +got):\n%s", diff)
	}
}

func TestConcatSpatialMismatch(t *testing.T) {
	_, err := Concat(New(1, 2, 4, 4), New(1, 2, 3, 4))
	require.ErrorIs(t, err, ErrShape)

	_, err = Concat(New(2, 2))
	require.ErrorIs(t, err, ErrShape)
}

func TestDictOrderAndClone(t *testing.T) {
	d := NewDict()
	d.Set("b", NewWithData([]float64{1}))
	d.Set("a", NewWithData([]float64{2}))
	d.Set("c", NewWithData([]float64{3}))
	require.Equal(t, []string{"b", "a", "c"}, Keys(d))

	c := CloneDict(d)
	c.Value("a").Data[0] = 99
	require.Equal(t, 2.0, d.Value("a").Data[0])
	require.True(t, Equal(d.Value("b"), c.Value("b")))
}
