// Package vision converts between images and the NCHW tensors the network
// consumes and produces.
package vision

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"ec3_lib/tensor"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalization is applied per RGB channel after scaling pixels to [0, 1].
type Normalization struct {
	Mean [3]float64
	Std  [3]float64
}

// ImageNet is the usual normalisation for backbones trained on ImageNet.
var ImageNet = Normalization{
	Mean: [3]float64{0.485, 0.456, 0.406},
	Std:  [3]float64{0.229, 0.224, 0.225},
}

// Identity leaves pixels in [0, 1].
var Identity = Normalization{Std: [3]float64{1, 1, 1}}

// LoadImage decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Resize scales img to w×h with bilinear filtering.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ToTensor resizes img to w×h and returns it as a [1, 3, h, w] tensor
// normalised with norm.
func ToTensor(img image.Image, w, h int, norm Normalization) (*tensor.Tensor, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}
	for c, s := range norm.Std {
		if s == 0 {
			return nil, fmt.Errorf("normalization std[%d] is zero", c)
		}
	}
	rgba := Resize(img, w, h)
	out := tensor.New(1, 3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := rgba.Pix[y*rgba.Stride+4*x:]
			for c := 0; c < 3; c++ {
				v := float64(px[c]) / 255
				out.Data[c*plane+y*w+x] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out, nil
}
