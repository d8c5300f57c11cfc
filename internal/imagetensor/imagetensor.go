// Package imagetensor decodes images and converts them into normalized float32
// model input tensors.
package imagetensor

import (
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/image/draw"

	"github.com/tphakala/pairwatch/internal/errors"
)

// Layout is the memory order of the produced tensor.
type Layout int

const (
	// LayoutNHWC is [1][H][W][3], the usual TFLite input order.
	LayoutNHWC Layout = iota
	// LayoutNCHW is [1][3][H][W].
	LayoutNCHW
)

func (l Layout) String() string {
	if l == LayoutNCHW {
		return "NCHW"
	}
	return "NHWC"
}

// Load decodes a JPEG, PNG, BMP or WebP image from path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is a user-supplied image
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryImageDecode).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	img, err := Decode(f)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryImageDecode).
			Context("path", path).
			Build()
	}
	return img, nil
}

// Decode decodes an image from r and reports the format on failure.
func Decode(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryImageDecode).
			Context("format", format).
			Build()
	}
	return img, nil
}

// Resize stretches img to size×size. No letterboxing is applied, so each
// axis scales independently by originalDim/size.
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ToTensor resizes img to size×size and returns RGB values normalized to
// [0,1] in the requested layout, together with the original dimensions.
func ToTensor(img image.Image, size int, layout Layout) (tensor []float32, width, height int) {
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()

	resized := Resize(img, size)
	plane := size * size
	tensor = make([]float32, 3*plane)

	for y := range size {
		for x := range size {
			off := resized.PixOffset(x, y)
			r := float32(resized.Pix[off]) / 255
			g := float32(resized.Pix[off+1]) / 255
			b := float32(resized.Pix[off+2]) / 255

			idx := y*size + x
			if layout == LayoutNCHW {
				tensor[idx] = r
				tensor[plane+idx] = g
				tensor[2*plane+idx] = b
			} else {
				tensor[idx*3] = r
				tensor[idx*3+1] = g
				tensor[idx*3+2] = b
			}
		}
	}
	return tensor, width, height
}
