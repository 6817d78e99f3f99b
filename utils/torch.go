package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"ec3_lib/tensor"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// LoadStateDictFile reads a checkpoint, picking the format from the file
// extension: .json is the native format, anything else is a PyTorch pickle.
func LoadStateDictFile(path string) (*tensor.Dict, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		mw, err := LoadWeights(path)
		if err != nil {
			return nil, err
		}
		return mw.Dict()
	}
	return LoadTorch(path)
}

// LoadTorch reads a state dict saved with torch.save. The file may hold the
// state dict itself or a training checkpoint with it under "state_dict" or
// "model".
func LoadTorch(path string) (*tensor.Dict, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	entries, err := dictEntries(obj)
	if err != nil {
		return nil, err
	}
	for _, nested := range []string{"state_dict", "model"} {
		if v, ok := lookup(entries, nested); ok {
			if entries, err = dictEntries(v); err != nil {
				return nil, fmt.Errorf("%s: %w", nested, err)
			}
			break
		}
	}

	d := tensor.NewDict()
	for _, e := range entries {
		name, ok := e.key.(string)
		if !ok {
			return nil, fmt.Errorf("state dict key %v is not a string", e.key)
		}
		pt, ok := e.value.(*pytorch.Tensor)
		if !ok {
			continue
		}
		t, err := fromTorch(pt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.Set(name, t)
	}
	return d, nil
}

type entry struct {
	key, value any
}

func dictEntries(obj any) ([]entry, error) {
	switch d := obj.(type) {
	case *types.OrderedDict:
		out := make([]entry, 0, d.List.Len())
		for e := d.List.Front(); e != nil; e = e.Next() {
			kv := e.Value.(*types.OrderedDictEntry)
			out = append(out, entry{kv.Key, kv.Value})
		}
		return out, nil
	case *types.Dict:
		keys := d.Keys()
		out := make([]entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, entry{k, d.MustGet(k)})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a dict, got %T", obj)
	}
}

func lookup(entries []entry, key string) (any, bool) {
	for _, e := range entries {
		if k, ok := e.key.(string); ok && k == key {
			return e.value, true
		}
	}
	return nil, false
}

// storageData widens a torch storage to float64.
func storageData(s pytorch.StorageInterface) ([]float64, error) {
	switch s := s.(type) {
	case *pytorch.DoubleStorage:
		return s.Data, nil
	case *pytorch.FloatStorage:
		return widen(s.Data), nil
	case *pytorch.HalfStorage:
		return widen(s.Data), nil
	case *pytorch.BFloat16Storage:
		return widen(s.Data), nil
	case *pytorch.LongStorage:
		out := make([]float64, len(s.Data))
		for i, v := range s.Data {
			out[i] = float64(v)
		}
		return out, nil
	case *pytorch.IntStorage:
		out := make([]float64, len(s.Data))
		for i, v := range s.Data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported storage %T", s)
	}
}

func widen(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// fromTorch gathers a possibly strided view into a dense tensor.
func fromTorch(pt *pytorch.Tensor) (*tensor.Tensor, error) {
	src, err := storageData(pt.Source)
	if err != nil {
		return nil, err
	}
	t := tensor.New(pt.Size...)
	if len(t.Data) == 0 {
		return t, nil
	}

	idx := make([]int, len(pt.Size))
	for i := range t.Data {
		off := pt.StorageOffset
		for d, v := range idx {
			off += v * pt.Stride[d]
		}
		if off < 0 || off >= len(src) {
			return nil, fmt.Errorf("view %v/%v at offset %d exceeds storage of %d", pt.Size, pt.Stride, off, len(src))
		}
		t.Data[i] = src[off]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < pt.Size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return t, nil
}
