package occupancy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/timeutil"
)

type fakeFrames struct {
	alive  map[string]bool
	frames map[string]*capture.Frame
}

func (f *fakeFrames) IsAlive(cameraID string) bool            { return f.alive[cameraID] }
func (f *fakeFrames) LatestFrame(cameraID string) *capture.Frame { return f.frames[cameraID] }

type fakeDetector struct {
	detections map[string][]detect.Detection
	err        error
}

func (d *fakeDetector) Detect(_ context.Context, frame *capture.Frame) ([]detect.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.detections[frame.CameraID], nil
}

func loopFixture(t *testing.T) (*Loop, *store.DB, *fakeFrames, *fakeDetector, *Engine, *timeutil.MockClock) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus(events.DefaultQueueSize)
	t.Cleanup(bus.Close)
	engine := NewEngine(clock, bus)
	frames := &fakeFrames{alive: map[string]bool{}, frames: map[string]*capture.Frame{}}
	detector := &fakeDetector{detections: map[string][]detect.Detection{}}
	return NewLoop(db, frames, detector, engine, clock), db, frames, detector, engine, clock
}

func seedSpot(t *testing.T, db *store.DB) (*store.Camera, *store.Spot) {
	t.Helper()
	cam := &store.Camera{Name: "cam", SourceURI: "rtsp://cam/stream"}
	require.NoError(t, db.CreateCamera(cam))
	sp := &store.Space{Name: "lot"}
	require.NoError(t, db.CreateSpace(sp))
	require.NoError(t, db.AssignCamera(sp.ID, cam.ID))
	spot := &store.Spot{SpaceID: sp.ID, CameraID: cam.ID, Rect: spotRect}
	require.NoError(t, db.CreateSpot(spot))
	return cam, spot
}

func TestRunOnceDetectsVehicle(t *testing.T) {
	loop, db, frames, detector, engine, _ := loopFixture(t)
	cam, spot := seedSpot(t, db)

	cfg, err := db.GetConfig()
	require.NoError(t, err)
	cfg.OccupancyMinutes = 0
	require.NoError(t, db.UpdateConfig(cfg))

	frames.alive[cam.ID] = true
	frames.frames[cam.ID] = &capture.Frame{CameraID: cam.ID, Data: []byte{1}, Width: 640, Height: 480}
	detector.detections[cam.ID] = []detect.Detection{{BBox: spotRect, Confidence: 0.9}}

	interval := loop.RunOnce(context.Background())
	assert.Equal(t, 5*time.Second, interval)

	states := engine.SpaceStates(spot.SpaceID)
	require.Len(t, states, 1)
	assert.True(t, states[0].Occupied)
}

func TestRunOnceLowConfidenceIgnored(t *testing.T) {
	loop, db, frames, detector, engine, _ := loopFixture(t)
	cam, spot := seedSpot(t, db)

	cfg, err := db.GetConfig()
	require.NoError(t, err)
	cfg.OccupancyMinutes = 0
	require.NoError(t, db.UpdateConfig(cfg))

	frames.alive[cam.ID] = true
	frames.frames[cam.ID] = &capture.Frame{CameraID: cam.ID, Data: []byte{1}}
	detector.detections[cam.ID] = []detect.Detection{{BBox: spotRect, Confidence: 0.3}}

	loop.RunOnce(context.Background())
	states := engine.SpaceStates(spot.SpaceID)
	require.Len(t, states, 1)
	assert.False(t, states[0].Occupied)
}

func TestRunOnceExclusionZone(t *testing.T) {
	loop, db, frames, detector, engine, _ := loopFixture(t)
	cam, spot := seedSpot(t, db)

	cfg, err := db.GetConfig()
	require.NoError(t, err)
	cfg.OccupancyMinutes = 0
	require.NoError(t, db.UpdateConfig(cfg))

	// The whole spot sits inside an exclusion zone.
	cam.ExclusionZones = []geometry.Rect{{X1: 0, Y1: 0, X2: 700, Y2: 700}}
	require.NoError(t, db.UpdateCamera(cam))

	frames.alive[cam.ID] = true
	frames.frames[cam.ID] = &capture.Frame{CameraID: cam.ID, Data: []byte{1}}
	detector.detections[cam.ID] = []detect.Detection{{BBox: spotRect, Confidence: 0.9}}

	loop.RunOnce(context.Background())
	states := engine.SpaceStates(spot.SpaceID)
	require.Len(t, states, 1)
	assert.False(t, states[0].Occupied)
}

func TestRunOnceDetectorFailureHoldsState(t *testing.T) {
	loop, db, frames, detector, engine, _ := loopFixture(t)
	cam, spot := seedSpot(t, db)

	cfg, err := db.GetConfig()
	require.NoError(t, err)
	cfg.OccupancyMinutes = 0
	require.NoError(t, db.UpdateConfig(cfg))

	frames.alive[cam.ID] = true
	frames.frames[cam.ID] = &capture.Frame{CameraID: cam.ID, Data: []byte{1}}
	detector.detections[cam.ID] = []detect.Detection{{BBox: spotRect, Confidence: 0.9}}
	loop.RunOnce(context.Background())
	require.True(t, engine.SpaceStates(spot.SpaceID)[0].Occupied)

	// Detector outage: the cycle still completes and state holds.
	detector.err = errors.New("inference backend down")
	loop.RunOnce(context.Background())
	assert.True(t, engine.SpaceStates(spot.SpaceID)[0].Occupied)
}

func TestRunOnceUsesConfiguredInterval(t *testing.T) {
	loop, db, _, _, _, _ := loopFixture(t)

	cfg, err := db.GetConfig()
	require.NoError(t, err)
	cfg.UpdateIntervalSeconds = 2
	require.NoError(t, db.UpdateConfig(cfg))

	assert.Equal(t, 2*time.Second, loop.RunOnce(context.Background()))
}
