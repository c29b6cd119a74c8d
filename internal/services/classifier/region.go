package classifier

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// maxSamplesPerSide bounds how many pixels per axis are inspected in a region.
const maxSamplesPerSide = 128

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop returns the part of img inside r, clipped to the image bounds.
func crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	return &croppedImage{src: img, rect: r}
}

type croppedImage struct {
	src  image.Image
	rect image.Rectangle
}

func (c *croppedImage) ColorModel() color.Model { return c.src.ColorModel() }
func (c *croppedImage) Bounds() image.Rectangle { return c.rect }
func (c *croppedImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(c.rect) {
		return color.Transparent
	}
	return c.src.At(x, y)
}

// sampleStep returns the pixel stride that keeps sampling under
// maxSamplesPerSide along the longer side of b.
func sampleStep(b image.Rectangle) int {
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	step := (longest + maxSamplesPerSide - 1) / maxSamplesPerSide
	if step < 1 {
		return 1
	}
	return step
}

// eachHSV calls fn with hue (degrees), saturation and value of sampled
// opaque pixels in img.
func eachHSV(img image.Image, fn func(h, s, v float64)) {
	b := img.Bounds()
	step := sampleStep(b)
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			fn(c.Hsv())
		}
	}
}
