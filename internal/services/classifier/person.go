package classifier

import (
	"gonum.org/v1/gonum/stat"

	"streetcount/internal/model"
)

// PersonPolicy decides whether a person detection is a physical person, as
// opposed to a statue, mannequin or photographed person. It is only consulted
// for detections already classified as person.
type PersonPolicy interface {
	IsPhysical(scene *Scene, det model.Detection) bool
}

// AcceptAllPersons counts every person detection.
type AcceptAllPersons struct{}

func (AcceptAllPersons) IsPhysical(*Scene, model.Detection) bool { return true }

// HeuristicPersonPolicy rejects person detections using two signals. A zero
// parameter disables its check.
//
// Shape: the box height/width ratio must lie in [MinAspect, MaxAspect]. Framed
// portraits, prints and billboard figures tend to produce boxes outside the
// band of a standing or sitting person. Narrowing the band rejects more
// photographed people but also more crouching, sitting or partly occluded ones.
//
// Chroma: the standard deviation of HSV saturation inside the box must be at
// least MinChromaSpread. Stone and bronze statues and plain mannequins are
// nearly monochrome, while clothing and skin vary. Raising it rejects more
// statues but also people in uniform dark clothing or poor light. The check
// is skipped when the whole scene is achromatic, otherwise every person in a
// greyscale photo would be rejected.
type HeuristicPersonPolicy struct {
	MinAspect       float64
	MaxAspect       float64
	MinChromaSpread float64
}

// DefaultPersonPolicy returns the tuned defaults.
func DefaultPersonPolicy() HeuristicPersonPolicy {
	return HeuristicPersonPolicy{
		MinAspect:       0.8,
		MaxAspect:       5.0,
		MinChromaSpread: 0.035,
	}
}

func (p HeuristicPersonPolicy) IsPhysical(scene *Scene, det model.Detection) bool {
	aspect := det.Box.Aspect()
	if p.MinAspect > 0 && aspect < p.MinAspect {
		return false
	}
	if p.MaxAspect > 0 && aspect > p.MaxAspect {
		return false
	}

	if p.MinChromaSpread <= 0 || scene.Achromatic() {
		return true
	}

	region := det.Region
	if region == nil {
		region = crop(scene.Image(), det.Box.Rect())
	}
	var saturations []float64
	eachHSV(region, func(_, s, _ float64) {
		saturations = append(saturations, s)
	})
	if len(saturations) < 2 {
		return true
	}
	return stat.StdDev(saturations, nil) >= p.MinChromaSpread
}
