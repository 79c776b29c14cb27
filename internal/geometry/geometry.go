// Package geometry provides the axis-aligned rectangle math used by spot
// ROIs, detections and proposal standardisation.
package geometry

import "github.com/openlot/parkwatch/internal/fault"

// MinSpotSide is the smallest allowed side for a spot rect, in pixels.
const MinSpotSide = 50

// Rect is an axis-aligned rectangle in frame pixel coordinates.
// The invariant X1 < X2, Y1 < Y2 is enforced by Validate, not by
// construction, because rects arrive from API payloads and detections.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (r Rect) Width() int  { return r.X2 - r.X1 }
func (r Rect) Height() int { return r.Y2 - r.Y1 }
func (r Rect) Area() int   { return r.Width() * r.Height() }

// Center returns the midpoint, truncated to integer coordinates.
func (r Rect) Center() (int, int) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// Validate checks the spot rect invariant: positive extent on both axes
// and no side shorter than MinSpotSide.
func (r Rect) Validate() error {
	if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
		return fault.Errorf(fault.KindInvalidGeometry,
			"rect has non-positive extent: (%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
	}
	if r.Width() < MinSpotSide || r.Height() < MinSpotSide {
		return fault.Errorf(fault.KindInvalidGeometry,
			"rect %dx%d is below the %dpx minimum side", r.Width(), r.Height(), MinSpotSide)
	}
	return nil
}

// Intersection returns the overlapping rect of a and b and whether the
// overlap is non-empty.
func Intersection(a, b Rect) (Rect, bool) {
	r := Rect{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return Rect{}, false
	}
	return r, true
}

// IoU computes intersection-over-union. Degenerate rects (area <= 0) and
// disjoint pairs score 0. IoU(a, a) is 1 for any non-degenerate a.
func IoU(a, b Rect) float64 {
	if a.Area() <= 0 || b.Area() <= 0 {
		return 0
	}
	inter, ok := Intersection(a, b)
	if !ok {
		return 0
	}
	union := a.Area() + b.Area() - inter.Area()
	if union <= 0 {
		return 0
	}
	return float64(inter.Area()) / float64(union)
}

// Coverage returns the fraction of roi covered by det: intersection area
// over the roi's own area. This is the presence test for occupancy, where
// a large vehicle box overhanging a small spot still counts.
func Coverage(det, roi Rect) float64 {
	if roi.Area() <= 0 {
		return 0
	}
	inter, ok := Intersection(det, roi)
	if !ok {
		return 0
	}
	return float64(inter.Area()) / float64(roi.Area())
}

// ScaleAboutCenter grows (or shrinks) r to widthPct/heightPct percent of
// its detected size, keeping the midpoint fixed. 100 means unchanged, 120
// adds a 20% margin on that axis. The margin is proportional rather than
// a fixed pixel pad because apparent vehicle size varies with camera
// geometry and distance.
func ScaleAboutCenter(r Rect, widthPct, heightPct int) Rect {
	newW := r.Width() * widthPct / 100
	newH := r.Height() * heightPct / 100
	cx, cy := r.Center()
	return Rect{
		X1: cx - newW/2,
		Y1: cy - newH/2,
		X2: cx + newW/2,
		Y2: cy + newH/2,
	}
}

// Contains reports whether the point (x, y) falls inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X1 && x <= r.X2 && y >= r.Y1 && y <= r.Y2
}
