package occupancy

import (
	"context"
	"time"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/timeutil"
)

// Loop drives detection cycles: pull the latest frame per camera, run
// the detector, filter, and hand the samples to the engine. One failed
// camera or detector call never aborts a cycle; the affected spots just
// hold their state.
// FrameSource is the slice of the capture registry the loop needs.
type FrameSource interface {
	IsAlive(cameraID string) bool
	LatestFrame(cameraID string) *capture.Frame
}

type Loop struct {
	db       *store.DB
	frames   FrameSource
	detector detect.Detector
	engine   *Engine
	clock    timeutil.Clock
}

func NewLoop(db *store.DB, frames FrameSource, detector detect.Detector,
	engine *Engine, clock timeutil.Clock) *Loop {
	return &Loop{db: db, frames: frames, detector: detector, engine: engine, clock: clock}
}

// Run executes cycles until ctx ends. The interval and debounce windows
// are re-read from config each cycle, so changes apply without restart.
func (l *Loop) Run(ctx context.Context) {
	for {
		interval := l.RunOnce(ctx)
		t := l.clock.NewTimer(interval)
		select {
		case <-t.C():
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// RunOnce executes a single detection cycle and returns the interval to
// wait before the next one.
func (l *Loop) RunOnce(ctx context.Context) time.Duration {
	interval := capture.DefaultInterval

	cfg, err := l.db.GetConfig()
	if err != nil {
		monitoring.Logf("[occupancy] failed to load config: %v", err)
		return interval
	}
	if cfg.UpdateIntervalSeconds > 0 {
		interval = time.Duration(cfg.UpdateIntervalSeconds) * time.Second
	}
	l.engine.SetDebounce(
		time.Duration(cfg.OccupancyMinutes)*time.Minute,
		time.Duration(cfg.ExitDebounceSeconds)*time.Second,
	)

	spots, err := l.db.AllSpots()
	if err != nil {
		monitoring.Logf("[occupancy] failed to load spots: %v", err)
		return interval
	}
	tracked := make([]TrackedSpot, 0, len(spots))
	cameraIDs := make(map[string]bool)
	for _, s := range spots {
		tracked = append(tracked, toTracked(s))
		cameraIDs[s.CameraID] = true
		for _, v := range s.AltViews {
			cameraIDs[v.CameraID] = true
		}
	}
	l.engine.SetSpots(tracked)

	zones := l.exclusionZones(cameraIDs)
	samples := make(map[string]CameraSample, len(cameraIDs))
	for cameraID := range cameraIDs {
		samples[cameraID] = l.sampleCamera(ctx, cameraID, zones[cameraID], cfg.DetectionConfidence)
	}
	l.engine.ProcessCycle(samples)
	return interval
}

// sampleCamera produces one camera's sample. Any failure yields a dead
// sample, which the engine treats as "hold state".
func (l *Loop) sampleCamera(ctx context.Context, cameraID string,
	zones []geometry.Rect, confidence float64) CameraSample {
	if !l.frames.IsAlive(cameraID) {
		return CameraSample{}
	}
	frame := l.frames.LatestFrame(cameraID)
	if frame == nil {
		return CameraSample{}
	}
	dets, err := l.detector.Detect(ctx, frame)
	if err != nil {
		monitoring.Logf("[occupancy] detector failed for camera %s: %v", cameraID, err)
		return CameraSample{}
	}
	dets = detect.FilterConfidence(dets, confidence)
	dets = detect.FilterExclusionZones(dets, zones)
	return CameraSample{Detections: dets, Alive: true}
}

func (l *Loop) exclusionZones(cameraIDs map[string]bool) map[string][]geometry.Rect {
	zones := make(map[string][]geometry.Rect, len(cameraIDs))
	for cameraID := range cameraIDs {
		cam, err := l.db.GetCamera(cameraID)
		if err != nil {
			monitoring.Logf("[occupancy] failed to load camera %s: %v", cameraID, err)
			continue
		}
		zones[cameraID] = cam.ExclusionZones
	}
	return zones
}

func toTracked(s store.Spot) TrackedSpot {
	views := make([]View, 0, 1+len(s.AltViews))
	views = append(views, View{CameraID: s.CameraID, Rect: s.Rect})
	for _, v := range s.AltViews {
		views = append(views, View{CameraID: v.CameraID, Rect: v.Rect})
	}
	return TrackedSpot{
		ID:      s.ID,
		SpaceID: s.SpaceID,
		Label:   s.Label,
		Type:    s.Type,
		Number:  s.SpotNumber,
		Views:   views,
	}
}
