package layers

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"ec3_lib/core/device"
	"ec3_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() *device.Device { return device.New(4, 7) }

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = rng.Float64()*2 - 1
	}
	return x
}

// refConv is a direct, unoptimised convolution used as ground truth.
func refConv(c *Conv2D, x *tensor.Tensor) *tensor.Tensor {
	n, _, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW := c.GetOutputShape(h, w)
	out := tensor.New(n, c.OutChan, outH, outW)
	inG, outG := c.InChan/c.Groups, c.OutChan/c.Groups
	for b := 0; b < n; b++ {
		for oc := 0; oc < c.OutChan; oc++ {
			g := oc / outG
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					sum := 0.0
					for j := 0; j < inG; j++ {
						for ky := 0; ky < c.KH; ky++ {
							for kx := 0; kx < c.KW; kx++ {
								iy := oy*c.StrideH - c.PadH + ky*c.DilH
								ix := ox*c.StrideW - c.PadW + kx*c.DilW
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								sum += c.W.At(oc, j, ky, kx) * x.At(b, g*inG+j, iy, ix)
							}
						}
					}
					out.Set(sum, b, oc, oy, ox)
				}
			}
		}
	}
	return out
}

func TestConv2D_Identity1x1(t *testing.T) {
	conv, err := NewConv2D(Square(1, 1, 1, 1), testDevice())
	require.NoError(t, err)
	conv.W.Set(1.0, 0, 0, 0, 0)

	input := tensor.New(1, 1, 3, 3)
	for i := 0; i < 9; i++ {
		input.Data[i] = float64(i + 1)
	}

	output, err := conv.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3}, output.Shape)
	for i := 0; i < 9; i++ {
		assert.Equal(t, input.Data[i], output.Data[i], "Identity conv should preserve input")
	}
}

func TestConv2D_Padded3x3(t *testing.T) {
	conv, err := NewConv2D(Square(1, 2, 3, 1), testDevice())
	require.NoError(t, err)
	for oc := 0; oc < 2; oc++ {
		for kh := 0; kh < 3; kh++ {
			for kw := 0; kw < 3; kw++ {
				conv.W.Set(float64(oc+kh+kw), oc, 0, kh, kw)
			}
		}
	}

	input := tensor.New(1, 1, 4, 4)
	for i := range input.Data {
		input.Data[i] = float64(i + 1)
	}
	output, err := conv.Forward(input)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 4, 4}, output.Shape)

	// Top-left output only sees the 2x2 corner through taps (1,1),(1,2),(2,1),(2,2).
	want := 1*2.0 + 2*3.0 + 5*3.0 + 6*4.0
	assert.Equal(t, want, output.At(0, 0, 0, 0))
	assert.Equal(t, refConv(conv, input).Data, output.Data)
}

func TestConv2D_MatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []ConvConfig{
		Square(3, 8, 3, 2),
		Square(5, 4, 1, 1),
		{InChan: 6, OutChan: 6, KH: 3, KW: 3, PadH: 2, PadW: 2, DilH: 2, DilW: 2, Groups: 6},
		{InChan: 4, OutChan: 4, KH: 5, KW: 1, PadH: 2, Groups: 4},
		{InChan: 4, OutChan: 4, KH: 1, KW: 5, PadW: 2, Groups: 4},
		{InChan: 4, OutChan: 8, KH: 3, KW: 3, PadH: 1, PadW: 1, Groups: 2},
		{InChan: 3, OutChan: 5, KH: 3, KW: 2, StrideH: 2, StrideW: 1, PadH: 1, DilW: 2},
	}
	for _, cfg := range cases {
		t.Run(fmt.Sprintf("%+v", cfg), func(t *testing.T) {
			conv, err := NewConv2D(cfg, testDevice())
			require.NoError(t, err)
			x := randomTensor(rng, 2, cfg.InChan, 9, 7)
			got, err := conv.Forward(x)
			require.NoError(t, err)
			want := refConv(conv, x)
			require.Equal(t, want.Shape, got.Shape)
			for i := range want.Data {
				require.InDelta(t, want.Data[i], got.Data[i], 1e-12, "index %d", i)
			}
		})
	}
}

func TestConv2D_OutputShape(t *testing.T) {
	conv, err := NewConv2D(Square(3, 24, 3, 2), testDevice())
	require.NoError(t, err)
	h, w := conv.GetOutputShape(224, 224)
	assert.Equal(t, 112, h)
	assert.Equal(t, 112, w)

	dil, err := NewConv2D(ConvConfig{InChan: 2, OutChan: 2, KH: 3, KW: 3, PadH: 4, PadW: 4, DilH: 4, DilW: 4, Groups: 2}, testDevice())
	require.NoError(t, err)
	h, w = dil.GetOutputShape(56, 30)
	assert.Equal(t, 56, h)
	assert.Equal(t, 30, w)
}

func TestConv2D_ChannelMismatch(t *testing.T) {
	conv, err := NewConv2D(Square(3, 4, 3, 1), testDevice())
	require.NoError(t, err)
	_, err = conv.Forward(tensor.New(1, 2, 8, 8))
	require.ErrorIs(t, err, tensor.ErrShape)

	_, err = conv.Forward(tensor.New(2, 8, 8))
	require.ErrorIs(t, err, tensor.ErrShape)
}

func TestConv2D_InvalidConfig(t *testing.T) {
	_, err := NewConv2D(ConvConfig{InChan: 3, OutChan: 4, KH: 3, KW: 3, Groups: 2}, testDevice())
	require.Error(t, err)
	_, err = NewConv2D(ConvConfig{InChan: 3, OutChan: 4}, testDevice())
	require.Error(t, err)
	_, err = NewConv2D(ConvConfig{InChan: 3, OutChan: 4, KH: 1, KW: 1, PadH: -1}, testDevice())
	require.Error(t, err)
}

func TestConv2D_InitBoundsAndSeed(t *testing.T) {
	cfg := ConvConfig{InChan: 16, OutChan: 16, KH: 3, KW: 3, PadH: 1, PadW: 1, Groups: 16}
	a, err := NewConv2D(cfg, device.New(1, 5))
	require.NoError(t, err)
	b, err := NewConv2D(cfg, device.New(1, 5))
	require.NoError(t, err)

	require.Equal(t, []int{16, 1, 3, 3}, a.W.Shape)
	require.Equal(t, a.W.Data, b.W.Data)
	bound := 1 / math.Sqrt(9)
	for _, v := range a.W.Data {
		require.LessOrEqual(t, math.Abs(v), bound)
	}
}

func TestConv2D_Params(t *testing.T) {
	conv, err := NewConv2D(Square(2, 3, 1, 1), testDevice())
	require.NoError(t, err)
	ps := conv.Params()
	require.Len(t, ps, 1)
	require.Equal(t, "weight", ps[0].Name)
	require.False(t, ps[0].Buffer)
	require.Equal(t, "Conv2D_2_3_1x1", conv.Tag())
}

func TestConv2D_ObserverSeesMACs(t *testing.T) {
	dev := device.New(1, 1)
	var events []device.Event
	dev.Observer = func(ev device.Event) { events = append(events, ev) }

	conv, err := NewConv2D(Square(4, 6, 3, 1), dev)
	require.NoError(t, err)
	_, err = conv.Forward(tensor.New(1, 4, 5, 5))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(6*5*5*4*9), events[0].MACs)
	require.Equal(t, []int{1, 6, 5, 5}, events[0].Out)
}

func BenchmarkConv2D_Plaintext(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	conv, _ := NewConv2D(Square(27, 16, 3, 2), device.New(0, 1))
	x := randomTensor(rng, 1, 27, 112, 112)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conv.Forward(x); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConv2D_Depthwise(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	conv, _ := NewConv2D(ConvConfig{InChan: 16, OutChan: 16, KH: 3, KW: 3, PadH: 2, PadW: 2, DilH: 2, DilW: 2, Groups: 16}, device.New(0, 1))
	x := randomTensor(rng, 1, 16, 56, 56)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conv.Forward(x); err != nil {
			b.Fatal(err)
		}
	}
}
