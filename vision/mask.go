package vision

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	"ec3_lib/tensor"

	"golang.org/x/image/draw"
)

// Labels turns class scores [1, C, H, W] into a label map. With a single
// class the score is a logit and pixels above sigmoid 0.5 get label 1;
// otherwise each pixel takes the highest scoring class.
func Labels(scores *tensor.Tensor) (*image.Gray, error) {
	n, c, h, w, err := scores.Dims4()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("labels: expected a single image, got batch of %d", n)
	}
	if c > 256 {
		return nil, fmt.Errorf("labels: %d classes do not fit in 8 bits", c)
	}

	plane := h * w
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			var label int
			if c == 1 {
				if sigmoid(scores.Data[i]) > 0.5 {
					label = 1
				}
			} else {
				best := math.Inf(-1)
				for k := 0; k < c; k++ {
					if v := scores.Data[k*plane+i]; v > best {
						best, label = v, k
					}
				}
			}
			out.Pix[y*out.Stride+x] = uint8(label)
		}
	}
	return out, nil
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Visible stretches labels in [0, classes) over the full gray range so a
// binary mask is black and white.
func Visible(labels *image.Gray, classes int) *image.Gray {
	out := image.NewGray(labels.Rect)
	step := 255
	if classes > 2 {
		step = 255 / (classes - 1)
	}
	for i, v := range labels.Pix {
		out.Pix[i] = uint8(min(int(v)*step, 255))
	}
	return out
}

// ResizeMask scales a label map with nearest-neighbour sampling, which
// never invents labels.
func ResizeMask(mask *image.Gray, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	return dst
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
