package nn

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"ec3_lib/tensor"
	"ec3_lib/utils"
)

var loadCheckpoint = utils.LoadStateDictFile

// StateDict collects every parameter and buffer of m under its dotted path,
// in construction order. The tensors are shared with the module.
func StateDict(m Module) *tensor.Dict {
	d := tensor.NewDict()
	Walk("", m, func(path string, m Module) {
		leaf, ok := m.(Leaf)
		if !ok {
			return
		}
		for _, p := range leaf.Params() {
			d.Set(join(path, p.Name), p.T)
		}
	})
	return d
}

func (n *ExtremeC3Net) StateDict() *tensor.Dict { return StateDict(n) }

// LoadReport describes the outcome of a partial load.
type LoadReport struct {
	Matched    int
	Total      int
	Unexpected []string
	Missing    []string
}

// Percent is the share of model entries that were overwritten.
func (r LoadReport) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Matched) * 100 / float64(r.Total)
}

// Empty reports that no checkpoint entry matched the model.
func (r LoadReport) Empty() bool { return r.Matched == 0 }

// normalizeKey strips the prefix added by data-parallel training wrappers.
func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "module.")
}

// plan matches src against dst and validates shapes without touching dst.
func plan(dst, src *tensor.Dict) (pairs [][2]*tensor.Tensor, rep LoadReport, err error) {
	rep.Total = dst.Len()
	seen := make(map[string]bool, src.Len())
	for pair := src.Oldest(); pair != nil; pair = pair.Next() {
		key := normalizeKey(pair.Key)
		to, ok := dst.Get(key)
		if !ok {
			rep.Unexpected = append(rep.Unexpected, pair.Key)
			continue
		}
		if !slices.Equal(to.Shape, pair.Value.Shape) {
			return nil, rep, fmt.Errorf("%s: %w", key, &tensor.ShapeError{
				Op: "load", Got: pair.Value.Shape, Want: to.Shape,
			})
		}
		if !seen[key] {
			seen[key] = true
			rep.Matched++
		}
		pairs = append(pairs, [2]*tensor.Tensor{to, pair.Value})
	}
	for pair := dst.Oldest(); pair != nil; pair = pair.Next() {
		if !seen[pair.Key] {
			rep.Missing = append(rep.Missing, pair.Key)
		}
	}
	return pairs, rep, nil
}

func apply(pairs [][2]*tensor.Tensor) {
	for _, p := range pairs {
		copy(p[0].Data, p[1].Data)
	}
}

// LoadStateDict copies src into the model. With strict, any missing or
// unexpected key is an error and nothing is copied.
func (n *ExtremeC3Net) LoadStateDict(src *tensor.Dict, strict bool) error {
	pairs, rep, err := plan(n.StateDict(), src)
	if err != nil {
		return err
	}
	if strict && (len(rep.Missing) > 0 || len(rep.Unexpected) > 0) {
		return fmt.Errorf("state dict: %d missing keys %v, %d unexpected keys %v",
			len(rep.Missing), head(rep.Missing), len(rep.Unexpected), head(rep.Unexpected))
	}
	apply(pairs)
	return nil
}

// LoadPartial copies the entries of src whose names exist in the model and
// leaves the rest at their current values. A name match with a different
// shape is an error and nothing is copied.
func (n *ExtremeC3Net) LoadPartial(src *tensor.Dict) (LoadReport, error) {
	pairs, rep, err := plan(n.StateDict(), src)
	if err != nil {
		return rep, err
	}
	if rep.Empty() {
		slog.Warn("no overlapping weights between model and checkpoint, please check the file",
			"checkpoint_keys", src.Len(), "model_keys", rep.Total)
		return rep, nil
	}
	apply(pairs)
	slog.Info(fmt.Sprintf("%.2f %% of weights copied", rep.Percent()),
		"matched", rep.Matched, "total", rep.Total, "unexpected", len(rep.Unexpected))
	return rep, nil
}

func head(keys []string) []string {
	if len(keys) > 5 {
		return keys[:5]
	}
	return keys
}
