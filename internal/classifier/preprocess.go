package classifier

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Layout is the memory order of the model input tensor.
type Layout string

const (
	NHWC Layout = "nhwc"
	NCHW Layout = "nchw"
)

// Shape returns the input tensor shape for a single image.
func (l Layout) Shape(width, height int) []int {
	if l == NCHW {
		return []int{1, 3, height, width}
	}
	return []int{1, height, width, 3}
}

// Preprocess center crops img to crop of its size, scales it to the model
// input size and normalises pixels to [0,1]. It also returns the scaled
// image, which is what the model actually sees.
func Preprocess(img image.Image, width, height int, crop float64, layout Layout) ([]float32, *image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, nil, fmt.Errorf("invalid input size %dx%d", width, height)
	}
	b := img.Bounds()
	cw, ch := int(float64(b.Dx())*crop), int(float64(b.Dy())*crop)
	if cw == 0 || ch == 0 {
		return nil, nil, fmt.Errorf("image too small to crop: %dx%d", b.Dx(), b.Dy())
	}
	cropped := imaging.CropCenter(img, cw, ch)

	scaled := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), cropped, cropped.Bounds(), draw.Src, nil)

	data := make([]float32, 3*width*height)
	plane := width * height
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := scaled.PixOffset(x, y)
			px := scaled.Pix[off : off+3]
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255
				if layout == NCHW {
					data[c*plane+y*width+x] = v
				} else {
					data[(y*width+x)*3+c] = v
				}
			}
		}
	}
	return data, scaled, nil
}
