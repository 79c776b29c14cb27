// Package stability clusters vehicle detections over time to find the
// ones that are parked rather than passing through. Auto-markup only
// proposes spots for vehicles that held still for a whole window.
package stability

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/openlot/parkwatch/internal/geometry"
)

// GroupIoU is the minimum overlap for two observations to be considered
// the same stationary vehicle.
const GroupIoU = 0.70

// StableDensity is the minimum fraction of expected samples a cluster
// must contain across its window. Guards against a vehicle that left and
// came back being scored as continuously present.
const StableDensity = 0.8

// Observation is one detection of a vehicle at a point in time.
type Observation struct {
	BBox       geometry.Rect
	Confidence float64
	SeenAt     time.Time
}

// Cluster is a group of observations judged to be one stationary
// vehicle. BBox is the position of the latest observation; MeanBBox
// averages the whole cluster, which smooths detector jitter.
type Cluster struct {
	BBox           geometry.Rect
	MeanBBox       geometry.Rect
	MeanConfidence float64
	Count          int
	FirstSeen      time.Time
	LastSeen       time.Time
}

// Span is how long the cluster has been observed.
func (c Cluster) Span() time.Duration {
	return c.LastSeen.Sub(c.FirstSeen)
}

// Tracker accumulates per-camera observations. History is bounded to
// twice the stability window; older samples can no longer influence the
// outcome.
type Tracker struct {
	window         time.Duration
	sampleInterval time.Duration

	mu      sync.Mutex
	history map[string][]Observation
}

// NewTracker creates a tracker for the given stability window and
// sampling interval.
func NewTracker(window, sampleInterval time.Duration) *Tracker {
	return &Tracker{
		window:         window,
		sampleInterval: sampleInterval,
		history:        make(map[string][]Observation),
	}
}

// AddObservations records one sampling tick's detections for a camera
// and evicts samples older than twice the window.
func (t *Tracker) AddObservations(cameraID string, at time.Time, boxes []Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := append(t.history[cameraID], boxes...)
	cutoff := at.Add(-2 * t.window)
	trimmed := hist[:0]
	for _, obs := range hist {
		if !obs.SeenAt.Before(cutoff) {
			trimmed = append(trimmed, obs)
		}
	}
	t.history[cameraID] = trimmed
}

// ObservationCount returns how many samples are held for a camera.
func (t *Tracker) ObservationCount(cameraID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history[cameraID])
}

// Clear drops a camera's history.
func (t *Tracker) Clear(cameraID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.history, cameraID)
}

// StableClusters groups the camera's history by IoU and returns the
// clusters that persisted across the full window ending at now. Grouping
// is single-link: an observation joins a cluster if it overlaps ANY
// member by GroupIoU or more, so a slowly drifting box still chains into
// one cluster.
func (t *Tracker) StableClusters(cameraID string, now time.Time) []Cluster {
	t.mu.Lock()
	hist := append([]Observation(nil), t.history[cameraID]...)
	t.mu.Unlock()

	clusters := groupByIoU(hist)

	expected := int(t.window / t.sampleInterval)
	if expected < 1 {
		expected = 1
	}

	var stable []Cluster
	for _, members := range clusters {
		c := summarize(members)
		if c.Span() < t.window {
			continue
		}
		if float64(c.Count) < StableDensity*float64(expected) {
			continue
		}
		if now.Sub(c.LastSeen) > 2*t.sampleInterval {
			// The vehicle was stable once but has since gone.
			continue
		}
		stable = append(stable, c)
	}
	return stable
}

// groupByIoU partitions observations with single-link transitive
// clustering on box overlap.
func groupByIoU(obs []Observation) [][]Observation {
	var clusters [][]Observation
	for _, o := range obs {
		joined := -1
		for i, members := range clusters {
			if overlapsAny(o.BBox, members) {
				if joined == -1 {
					clusters[i] = append(clusters[i], o)
					joined = i
				} else {
					// o bridges two clusters; merge them.
					clusters[joined] = append(clusters[joined], clusters[i]...)
					clusters[i] = nil
				}
			}
		}
		if joined == -1 {
			clusters = append(clusters, []Observation{o})
		} else {
			clusters = compact(clusters)
		}
	}
	return clusters
}

func compact(clusters [][]Observation) [][]Observation {
	out := clusters[:0]
	for _, c := range clusters {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func overlapsAny(box geometry.Rect, members []Observation) bool {
	for _, m := range members {
		if geometry.IoU(box, m.BBox) >= GroupIoU {
			return true
		}
	}
	return false
}

func summarize(members []Observation) Cluster {
	x1 := make([]float64, len(members))
	y1 := make([]float64, len(members))
	x2 := make([]float64, len(members))
	y2 := make([]float64, len(members))
	conf := make([]float64, len(members))

	c := Cluster{Count: len(members), FirstSeen: members[0].SeenAt, LastSeen: members[0].SeenAt}
	latest := members[0]
	for i, m := range members {
		x1[i] = float64(m.BBox.X1)
		y1[i] = float64(m.BBox.Y1)
		x2[i] = float64(m.BBox.X2)
		y2[i] = float64(m.BBox.Y2)
		conf[i] = m.Confidence
		if m.SeenAt.Before(c.FirstSeen) {
			c.FirstSeen = m.SeenAt
		}
		if m.SeenAt.After(c.LastSeen) {
			c.LastSeen = m.SeenAt
			latest = m
		}
	}

	c.BBox = latest.BBox
	c.MeanBBox = geometry.Rect{
		X1: int(stat.Mean(x1, nil)),
		Y1: int(stat.Mean(y1, nil)),
		X2: int(stat.Mean(x2, nil)),
		Y2: int(stat.Mean(y2, nil)),
	}
	c.MeanConfidence = stat.Mean(conf, nil)
	return c
}
