package layers

import (
	"math"
	"math/rand"
	"testing"

	"ec3_lib/tensor"

	"github.com/stretchr/testify/require"
)

func TestAvgPool2D_PlainVsReference(t *testing.T) {
	B, C, H, W, p := 2, 2, 4, 4, 2
	x := tensor.New(B, C, H, W)
	for i := range x.Data {
		x.Data[i] = rand.Float64()
	}
	layer := NewAvgPool2D(p, testDevice())
	out, err := layer.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	// Reference: compute manually
	ref := tensor.New(B, C, H/p, W/p)
	for b := 0; b < B; b++ {
		for c := 0; c < C; c++ {
			for oh := 0; oh < H/p; oh++ {
				for ow := 0; ow < W/p; ow++ {
					sum := 0.0
					for ph := 0; ph < p; ph++ {
						for pw := 0; pw < p; pw++ {
							sum += x.At(b, c, oh*p+ph, ow*p+pw)
						}
					}
					ref.Set(sum/float64(p*p), b, c, oh, ow)
				}
			}
		}
	}
	for i := range out.Data {
		if math.Abs(out.Data[i]-ref.Data[i]) > 1e-8 {
			t.Errorf("Mismatch at %d: got %f, want %f", i, out.Data[i], ref.Data[i])
		}
	}
}

func TestAvgPool2D_Placement(t *testing.T) {
	x, _ := tensor.FromData([]float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 1, 1, 4, 4)
	out, err := NewAvgPool2D(2, testDevice()).Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	require.Equal(t, []float64{3.5, 5.5, 11.5, 13.5}, out.Data)
}

func TestAvgPool2D_OddSizesFloor(t *testing.T) {
	out, err := NewAvgPool2D(2, testDevice()).Forward(tensor.New(1, 3, 7, 5))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 3, 2}, out.Shape)

	_, err = NewAvgPool2D(2, testDevice()).Forward(tensor.New(1, 3, 1, 5))
	require.ErrorIs(t, err, tensor.ErrShape)
}

func TestAvgPool2D_NoParams(t *testing.T) {
	require.Empty(t, NewAvgPool2D(2, testDevice()).Params())
}
