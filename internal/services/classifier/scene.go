package classifier

import (
	"image"
)

// achromaticSaturation is the mean saturation under which a whole image is
// treated as greyscale.
const achromaticSaturation = 0.06

// Scene is the image a set of detections came from, with statistics computed
// on first use. A Scene belongs to a single Classify call.
type Scene struct {
	img        image.Image
	achromatic *bool
}

// NewScene wraps img.
func NewScene(img image.Image) *Scene {
	return &Scene{img: img}
}

// Image returns the underlying image.
func (s *Scene) Image() image.Image {
	return s.img
}

// Achromatic reports whether the image carries essentially no colour,
// such as a greyscale photo.
func (s *Scene) Achromatic() bool {
	if s.achromatic != nil {
		return *s.achromatic
	}

	var sum float64
	var n int
	eachHSV(s.img, func(_, sat, _ float64) {
		sum += sat
		n++
	})
	result := n == 0 || sum/float64(n) < achromaticSaturation
	s.achromatic = &result
	return result
}
