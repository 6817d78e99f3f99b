package nn

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"ec3_lib/core/device"
	"ec3_lib/tensor"
	"ec3_lib/utils"

	"github.com/stretchr/testify/require"
)

// captureLogs routes the default slog logger into a buffer for one test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

func smallNet(t *testing.T, seed uint64) *ExtremeC3Net {
	t.Helper()
	net, err := New(Config{Classes: 2, P: 1, Q: 1}, device.New(2, seed))
	require.NoError(t, err)
	return net
}

func TestLoadPartialSubset(t *testing.T) {
	logs := captureLogs(t)
	src, dst := smallNet(t, 1), smallNet(t, 2)
	before := tensor.CloneDict(dst.StateDict())

	subset := tensor.NewDict()
	for pair := src.StateDict().Oldest(); pair != nil; pair = pair.Next() {
		if strings.HasPrefix(pair.Key, "level1.") || strings.HasPrefix(pair.Key, "level2_0.") {
			subset.Set(pair.Key, pair.Value.Clone())
		}
	}
	subset.Set("encoder.fc.weight", tensor.New(4, 4))

	rep, err := dst.LoadPartial(subset)
	require.NoError(t, err)
	require.False(t, rep.Empty())
	require.Equal(t, subset.Len()-1, rep.Matched)
	require.Equal(t, before.Len(), rep.Total)
	require.Equal(t, []string{"encoder.fc.weight"}, rep.Unexpected)
	require.Len(t, rep.Missing, rep.Total-rep.Matched)
	require.InDelta(t, float64(rep.Matched)*100/float64(rep.Total), rep.Percent(), 1e-12)

	for pair := dst.StateDict().Oldest(); pair != nil; pair = pair.Next() {
		if want, ok := subset.Get(pair.Key); ok {
			require.True(t, tensor.Equal(want, pair.Value), "%s not copied", pair.Key)
			continue
		}
		old, _ := before.Get(pair.Key)
		require.True(t, tensor.Equal(old, pair.Value), "%s changed", pair.Key)
	}
	require.Contains(t, logs.String(), "% of weights copied")
}

func TestLoadPartialEmpty(t *testing.T) {
	logs := captureLogs(t)
	net := smallNet(t, 3)
	before := tensor.CloneDict(net.StateDict())

	foreign := tensor.NewDict()
	foreign.Set("features.0.weight", tensor.New(24, 3, 3, 3))
	foreign.Set("fc.bias", tensor.New(10))

	rep, err := net.LoadPartial(foreign)
	require.NoError(t, err)
	require.True(t, rep.Empty())
	require.Zero(t, rep.Percent())
	require.Len(t, rep.Unexpected, 2)

	for pair := net.StateDict().Oldest(); pair != nil; pair = pair.Next() {
		old, _ := before.Get(pair.Key)
		require.True(t, tensor.Equal(old, pair.Value), "%s changed", pair.Key)
	}
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "no overlapping weights")
}

func TestLoadPartialShapeMismatch(t *testing.T) {
	net := smallNet(t, 4)
	before := tensor.CloneDict(net.StateDict())

	src := tensor.NewDict()
	good := tensor.New(24)
	good.Data[0] = 42
	src.Set("level1.act.weight", good)
	src.Set("classifier.0.weight", tensor.New(7, 24, 1, 1))

	_, err := net.LoadPartial(src)
	require.ErrorIs(t, err, tensor.ErrShape)
	require.Contains(t, err.Error(), "classifier.0.weight")

	// validation happens before any copy
	got, _ := net.StateDict().Get("level1.act.weight")
	want, _ := before.Get("level1.act.weight")
	require.True(t, tensor.Equal(want, got))
}

func TestLoadPartialDataParallelPrefix(t *testing.T) {
	net := smallNet(t, 5)
	src := tensor.NewDict()
	w := tensor.New(24)
	for i := range w.Data {
		w.Data[i] = 0.5
	}
	src.Set("module.level1.act.weight", w)

	rep, err := net.LoadPartial(src)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Matched)
	require.Equal(t, w.Data, net.Level1.Act.Weight.Data)
}

func TestLoadStateDictStrict(t *testing.T) {
	src, dst := smallNet(t, 6), smallNet(t, 7)
	full := tensor.CloneDict(src.StateDict())

	full.Set("extra.weight", tensor.New(1))
	require.Error(t, dst.LoadStateDict(full, true))
	require.NoError(t, dst.LoadStateDict(full, false))

	x := randomInput(9, 1, 3, 32, 32)
	a, err := src.Forward(x)
	require.NoError(t, err)
	b, err := dst.Forward(x)
	require.NoError(t, err)
	require.True(t, tensor.Equal(a, b))

	full.Delete("extra.weight")
	full.Delete("classifier.0.weight")
	err = dst.LoadStateDict(full, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 missing keys")
}

func TestNewSmallWithEncoder(t *testing.T) {
	captureLogs(t)
	// an encoder trained without the upsampling head
	enc := smallNet(t, 8)
	d := tensor.NewDict()
	for pair := enc.StateDict().Oldest(); pair != nil; pair = pair.Next() {
		if !strings.HasPrefix(pair.Key, "upsample.") && !strings.HasPrefix(pair.Key, "classifier.") {
			d.Set(pair.Key, pair.Value)
		}
	}
	mw, err := utils.NewModelWeights(d, enc.Config, utils.DTypeF64)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "encoder.json")
	require.NoError(t, utils.SaveWeights(path, mw))

	cfg := Config{Classes: 2, P: 1, Q: 1, Stage2: true}
	net, err := NewSmall(cfg, device.New(2, 99), path)
	require.NoError(t, err)

	got, _ := net.StateDict().Get("level3_0.d2.conv.0.weight")
	want, _ := d.Get("level3_0.d2.conv.0.weight")
	require.True(t, tensor.Equal(want, got))

	_, err = NewSmall(cfg, device.New(2, 99), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	plain, err := NewSmall(DefaultSmallConfig(), device.New(2, 99), "")
	require.NoError(t, err)
	require.Equal(t, 5, plain.Level3.Len())
}
