// Package detect defines the vehicle detector boundary and the filters
// applied to raw detections before occupancy evaluation.
package detect

import (
	"context"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/geometry"
)

// DefaultConfidence is the minimum score a detection must carry to be
// considered at all.
const DefaultConfidence = 0.5

// PresenceCoverage is the fraction of a spot rectangle a detection must
// cover for the spot to count as occupied in that view.
const PresenceCoverage = 0.30

// Detection is one vehicle found in a frame.
type Detection struct {
	BBox       geometry.Rect `json:"bbox"`
	Confidence float64       `json:"confidence"`
	Class      string        `json:"class"`
}

// Detector finds vehicles in a frame.
type Detector interface {
	Detect(ctx context.Context, frame *capture.Frame) ([]Detection, error)
}

// FilterConfidence drops detections scoring below min.
func FilterConfidence(dets []Detection, min float64) []Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}

// FilterExclusionZones drops detections whose center lies inside a zone
// or whose box overlaps a zone by more than 30% of its own area.
func FilterExclusionZones(dets []Detection, zones []geometry.Rect) []Detection {
	if len(zones) == 0 {
		return dets
	}
	out := dets[:0:0]
	for _, d := range dets {
		if !excluded(d.BBox, zones) {
			out = append(out, d)
		}
	}
	return out
}

func excluded(box geometry.Rect, zones []geometry.Rect) bool {
	cx, cy := box.Center()
	for _, z := range zones {
		if z.Contains(cx, cy) {
			return true
		}
		if geometry.Coverage(z, box) > 0.30 {
			return true
		}
	}
	return false
}

// SpotOccupied reports whether any detection covers enough of the spot
// rectangle to count as a vehicle present.
func SpotOccupied(spot geometry.Rect, dets []Detection) bool {
	for _, d := range dets {
		if geometry.Coverage(d.BBox, spot) >= PresenceCoverage {
			return true
		}
	}
	return false
}
