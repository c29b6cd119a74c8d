package classifier

import (
	"image"

	"streetcount/internal/model"
)

// LightPolicy infers the state of a traffic light from its cropped region.
type LightPolicy interface {
	Classify(region image.Image) model.TrafficLightState
}

// HueRange is an inclusive hue interval in degrees.
type HueRange struct {
	Lo, Hi float64
}

func (r HueRange) contains(h float64) bool {
	return h >= r.Lo && h <= r.Hi
}

// HSVLightClassifier picks the dominant illuminated colour of a traffic light.
//
// Pixels below MinSaturation or MinValue are treated as unlit housing and
// ignored. Every remaining pixel adds saturation*value to the band its hue
// falls into. The heaviest band wins only if its pixels cover at least
// MinLitFraction of the sampled region and its weight is at least
// DominanceRatio times the runner-up; anything else is unknown.
type HSVLightClassifier struct {
	Red            []HueRange
	Yellow         []HueRange
	Green          []HueRange
	MinSaturation  float64
	MinValue       float64
	MinLitFraction float64
	DominanceRatio float64
}

// DefaultLightClassifier returns the default bands: red 0-10 and 350-360,
// yellow 40-65, green 90-140 degrees.
func DefaultLightClassifier() HSVLightClassifier {
	return HSVLightClassifier{
		Red:            []HueRange{{0, 10}, {350, 360}},
		Yellow:         []HueRange{{40, 65}},
		Green:          []HueRange{{90, 140}},
		MinSaturation:  0.35,
		MinValue:       0.45,
		MinLitFraction: 0.02,
		DominanceRatio: 1.5,
	}
}

type band struct {
	state  model.TrafficLightState
	ranges []HueRange
	weight float64
	pixels int
}

func (c HSVLightClassifier) Classify(region image.Image) model.TrafficLightState {
	if region == nil || region.Bounds().Empty() {
		return model.LightUnknown
	}

	bands := []*band{
		{state: model.LightRed, ranges: c.Red},
		{state: model.LightYellow, ranges: c.Yellow},
		{state: model.LightGreen, ranges: c.Green},
	}

	sampled := 0
	eachHSV(region, func(h, s, v float64) {
		sampled++
		if s < c.MinSaturation || v < c.MinValue {
			return
		}
		for _, b := range bands {
			for _, r := range b.ranges {
				if r.contains(h) {
					b.weight += s * v
					b.pixels++
					return
				}
			}
		}
	})

	var best, second *band
	for _, b := range bands {
		switch {
		case best == nil || b.weight > best.weight:
			best, second = b, best
		case second == nil || b.weight > second.weight:
			second = b
		}
	}

	if sampled == 0 || best.weight == 0 {
		return model.LightUnknown
	}
	if float64(best.pixels)/float64(sampled) < c.MinLitFraction {
		return model.LightUnknown
	}
	if second.weight > 0 && (best.weight == second.weight || best.weight < second.weight*c.DominanceRatio) {
		return model.LightUnknown
	}
	return best.state
}
