package utils

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"ec3_lib/tensor"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"
)

// WeightsVersion is written into every checkpoint produced by SaveWeights.
const WeightsVersion = "ec3/1"

// Element types a checkpoint tensor can be stored as.
const (
	DTypeF64  = "f64"
	DTypeF32  = "f32"
	DTypeF16  = "f16"
	DTypeBF16 = "bf16"
)

// WeightData is one serialised tensor. Data holds the little-endian
// elements in DType, base64 encoded.
type WeightData struct {
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Data  string `json:"data"`
}

// ModelWeights is the native checkpoint format. Tensors keep the order in
// which the model declares them.
type ModelWeights struct {
	Version string                                      `json:"version"`
	Config  json.RawMessage                             `json:"config,omitempty"`
	Tensors *orderedmap.OrderedMap[string, *WeightData] `json:"tensors"`
}

// NewModelWeights encodes every tensor of d as dtype.
func NewModelWeights(d *tensor.Dict, config any, dtype string) (*ModelWeights, error) {
	mw := &ModelWeights{
		Version: WeightsVersion,
		Tensors: orderedmap.New[string, *WeightData](),
	}
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		mw.Config = raw
	}
	for pair := d.Oldest(); pair != nil; pair = pair.Next() {
		wd, err := TensorToWeightData(pair.Value, dtype)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pair.Key, err)
		}
		mw.Tensors.Set(pair.Key, wd)
	}
	return mw, nil
}

// Dict decodes the checkpoint tensors.
func (mw *ModelWeights) Dict() (*tensor.Dict, error) {
	d := tensor.NewDict()
	if mw.Tensors == nil {
		return d, nil
	}
	for pair := mw.Tensors.Oldest(); pair != nil; pair = pair.Next() {
		t, err := WeightDataToTensor(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pair.Key, err)
		}
		d.Set(pair.Key, t)
	}
	return d, nil
}

// SaveWeights saves model weights to a JSON file
func SaveWeights(filepath string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(filepath string) (*ModelWeights, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(t *tensor.Tensor, dtype string) (*WeightData, error) {
	var buf []byte
	switch dtype {
	case DTypeF64:
		buf = make([]byte, 8*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
		}
	case DTypeF32:
		buf = make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		}
	case DTypeF16:
		buf = make([]byte, 2*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(float32(v)).Bits())
		}
	case DTypeBF16:
		buf = bfloat16.EncodeFloat32(toFloat32(t.Data))
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	return &WeightData{
		Shape: append([]int{}, t.Shape...),
		DType: dtype,
		Data:  EncodeBytes(buf),
	}, nil
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) (*tensor.Tensor, error) {
	buf, err := DecodeBytes(wd.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}

	var size int
	switch wd.DType {
	case DTypeF64:
		size = 8
	case DTypeF32:
		size = 4
	case DTypeF16, DTypeBF16:
		size = 2
	default:
		return nil, fmt.Errorf("unsupported dtype %q", wd.DType)
	}
	t := tensor.New(wd.Shape...)
	if len(buf) != size*len(t.Data) {
		return nil, fmt.Errorf("%d bytes of %s do not fill shape %v", len(buf), wd.DType, wd.Shape)
	}

	switch wd.DType {
	case DTypeF64:
		for i := range t.Data {
			t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
		}
	case DTypeF32:
		for i := range t.Data {
			t.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
		}
	case DTypeF16:
		for i := range t.Data {
			t.Data[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32())
		}
	case DTypeBF16:
		for i, v := range bfloat16.DecodeFloat32(buf) {
			t.Data[i] = float64(v)
		}
	}
	return t, nil
}

func toFloat32(data []float64) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}

// EncodeBytes encodes raw bytes to base64 string
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBytes decodes base64 string to raw bytes
func DecodeBytes(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
