package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/discovery"
	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/occupancy"
	"github.com/openlot/parkwatch/internal/relay"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/timeutil"
)

// stubGrabber returns the same frame for every camera.
type stubGrabber struct {
	data []byte
}

func (g *stubGrabber) Grab(ctx context.Context, sourceURI string) (*capture.Frame, error) {
	return &capture.Frame{
		Data:       g.data,
		Width:      640,
		Height:     480,
		CapturedAt: time.Now(),
	}, nil
}

// stubDetector returns a fixed detection set.
type stubDetector struct {
	mu         sync.Mutex
	detections []detect.Detection
}

func (d *stubDetector) Detect(ctx context.Context, frame *capture.Frame) ([]detect.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]detect.Detection, len(d.detections))
	copy(out, d.detections)
	return out, nil
}

type fakeProcess struct {
	once sync.Once
	done chan error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan error, 1)}
}

func (p *fakeProcess) Done() <-chan error { return p.done }

func (p *fakeProcess) Stop(grace time.Duration) { p.exit(nil) }

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}

type fixture struct {
	t        *testing.T
	db       *store.DB
	clock    *timeutil.MockClock
	bus      *events.Bus
	frames   *capture.Registry
	engine   *occupancy.Engine
	detector *stubDetector
	mux      *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "parkwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus(events.DefaultQueueSize)
	frames := capture.NewRegistry(&stubGrabber{data: []byte("jpeg-bytes")}, clock, capture.DefaultInterval)
	t.Cleanup(frames.StopAll)

	detector := &stubDetector{}
	engine := occupancy.NewEngine(clock, bus)
	disc := discovery.NewOrchestrator(db, frames, detector, clock, bus, 5*time.Second)
	rel := relay.NewManager(clock, bus, "ffmpeg", func(ctx context.Context, binary string, args []string) (relay.Process, error) {
		return newFakeProcess(), nil
	})

	srv := NewServer(db, frames, engine, disc, rel, bus)
	return &fixture{
		t:        t,
		db:       db,
		clock:    clock,
		bus:      bus,
		frames:   frames,
		engine:   engine,
		detector: detector,
		mux:      srv.ServeMux(),
	}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) decode(rec *httptest.ResponseRecorder, v interface{}) {
	f.t.Helper()
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (f *fixture) createCamera(name string) store.Camera {
	f.t.Helper()
	rec := f.do("POST", "/api/cameras", map[string]string{
		"name":       name,
		"source_uri": "rtsp://example/" + name,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code)
	var cam store.Camera
	f.decode(rec, &cam)
	return cam
}

func (f *fixture) createSpace(name string) store.Space {
	f.t.Helper()
	rec := f.do("POST", "/api/spaces", map[string]string{"name": name})
	require.Equal(f.t, http.StatusCreated, rec.Code)
	var sp store.Space
	f.decode(rec, &sp)
	return sp
}

func (f *fixture) assignCamera(spaceID, cameraID string) {
	f.t.Helper()
	rec := f.do("POST", "/api/spaces/"+spaceID+"/cameras", map[string]string{"camera_id": cameraID})
	require.Equal(f.t, http.StatusOK, rec.Code)
}

// waitForFrame polls the snapshot endpoint until the capture goroutine
// has cached the camera's first frame.
func (f *fixture) waitForFrame(cameraID string) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.do("GET", "/api/cameras/"+cameraID+"/snapshot", nil).Code == http.StatusOK
	}, time.Second, 5*time.Millisecond)
}

func TestCameraLifecycle(t *testing.T) {
	f := newFixture(t)

	cam := f.createCamera("north-entrance")
	require.NotEmpty(t, cam.ID)

	var cams []store.Camera
	rec := f.do("GET", "/api/cameras", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &cams)
	require.Len(t, cams, 1)

	rec = f.do("PUT", "/api/cameras/"+cam.ID, map[string]string{"name": "north-gate"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated store.Camera
	f.decode(rec, &updated)
	assert.Equal(t, "north-gate", updated.Name)
	assert.Equal(t, cam.SourceURI, updated.SourceURI)

	f.waitForFrame(cam.ID)
	rec = f.do("GET", "/api/cameras/"+cam.ID+"/snapshot", nil)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("jpeg-bytes"), rec.Body.Bytes())

	rec = f.do("DELETE", "/api/cameras/"+cam.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do("GET", "/api/cameras/"+cam.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCameraValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do("POST", "/api/cameras", map[string]string{"name": "no-uri"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cam := f.createCamera("cam")
	rec = f.do("PUT", "/api/cameras/"+cam.ID+"/exclusion_zones", map[string]interface{}{
		"zones": []geometry.Rect{{X1: 100, Y1: 100, X2: 50, Y2: 200}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("PUT", "/api/cameras/"+cam.ID+"/exclusion_zones", map[string]interface{}{
		"zones": []geometry.Rect{{X1: 0, Y1: 0, X2: 100, Y2: 100}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated store.Camera
	f.decode(rec, &updated)
	require.Len(t, updated.ExclusionZones, 1)
}

func TestSpaceAndSpotFlow(t *testing.T) {
	f := newFixture(t)
	cam := f.createCamera("cam")
	other := f.createCamera("other")
	space := f.createSpace("Lot A")
	f.assignCamera(space.ID, cam.ID)

	rec := f.do("POST", "/api/spaces/"+space.ID+"/spots", map[string]interface{}{
		"camera_id": cam.ID,
		"label":     "A1",
		"rect":      geometry.Rect{X1: 10, Y1: 10, X2: 110, Y2: 110},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var spot store.Spot
	f.decode(rec, &spot)
	assert.Equal(t, 1, spot.SpotNumber)
	assert.Equal(t, "parking", spot.Type)

	// Spot types are parking or nopark; anything else is rejected.
	rec = f.do("POST", "/api/spaces/"+space.ID+"/spots", map[string]interface{}{
		"camera_id": cam.ID,
		"type":      "garage",
		"rect":      geometry.Rect{X1: 200, Y1: 10, X2: 300, Y2: 110},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do("PUT", "/api/spots/"+spot.ID, map[string]string{"type": "garage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do("PUT", "/api/spots/"+spot.ID, map[string]string{"type": "nopark"})
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &spot)
	assert.Equal(t, "nopark", spot.Type)
	rec = f.do("PUT", "/api/spots/"+spot.ID, map[string]string{"type": "parking"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Camera must be assigned to the space before it can carry spots.
	rec = f.do("POST", "/api/spaces/"+space.ID+"/spots", map[string]interface{}{
		"camera_id": other.ID,
		"rect":      geometry.Rect{X1: 10, Y1: 10, X2: 110, Y2: 110},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A 20px wide rectangle is below the minimum spot size.
	rec = f.do("POST", "/api/spaces/"+space.ID+"/spots", map[string]interface{}{
		"camera_id": cam.ID,
		"rect":      geometry.Rect{X1: 10, Y1: 10, X2: 30, Y2: 110},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do("PUT", "/api/spots/"+spot.ID, map[string]string{"label": "A1-renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &spot)
	assert.Equal(t, "A1-renamed", spot.Label)
	assert.Equal(t, 1, spot.SpotNumber)

	rec = f.do("DELETE", "/api/spaces/"+space.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cascade delete needs confirm=true")
	rec = f.do("DELETE", "/api/spaces/"+space.ID+"?confirm=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do("GET", "/api/spots/"+spot.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateEndpoints(t *testing.T) {
	f := newFixture(t)
	cam := f.createCamera("cam")
	space := f.createSpace("Lot A")
	f.assignCamera(space.ID, cam.ID)

	rec := f.do("POST", "/api/spaces/"+space.ID+"/spots", map[string]interface{}{
		"camera_id": cam.ID,
		"label":     "A1",
		"rect":      geometry.Rect{X1: 10, Y1: 10, X2: 110, Y2: 110},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var spot store.Spot
	f.decode(rec, &spot)

	f.engine.SetSpots([]occupancy.TrackedSpot{{
		ID: spot.ID, SpaceID: space.ID, Label: spot.Label, Type: spot.Type, Number: spot.SpotNumber,
		Views: []occupancy.View{{CameraID: cam.ID, Rect: spot.Rect}},
	}})

	rec = f.do("POST", "/api/spots/"+spot.ID+"/state", map[string]bool{"occupied": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var state occupancy.State
	f.decode(rec, &state)
	assert.True(t, state.Occupied)
	assert.Equal(t, 1, state.Sequence)

	rec = f.do("GET", "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var states []occupancy.State
	f.decode(rec, &states)
	require.Len(t, states, 1)

	rec = f.do("GET", "/api/spaces/"+space.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats occupancy.SpaceStats
	f.decode(rec, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Occupied)
	assert.Equal(t, 0, stats.Free)

	rec = f.do("POST", "/api/spots/state", map[string]interface{}{
		"updates": map[string]bool{spot.ID: false},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &states)
	require.Len(t, states, 1)
	assert.False(t, states[0].Occupied)

	rec = f.do("POST", "/api/spots/"+spot.ID+"/state", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "occupied flag is required")

	rec = f.do("POST", "/api/spots/state", map[string]interface{}{
		"updates": map[string]bool{spot.ID: true, "no-such-spot": true},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do("GET", "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg store.Config
	f.decode(rec, &cfg)
	assert.Equal(t, 5, cfg.OccupancyMinutes)
	assert.Equal(t, 0.5, cfg.DetectionConfidence)

	cfg.OccupancyMinutes = 2
	cfg.ExitDebounceSeconds = 30
	rec = f.do("PUT", "/api/config", cfg)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/api/config", nil)
	f.decode(rec, &cfg)
	assert.Equal(t, 2, cfg.OccupancyMinutes)
	assert.Equal(t, 30, cfg.ExitDebounceSeconds)

	cfg.DetectionConfidence = 1.5
	rec = f.do("PUT", "/api/config", cfg)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscoveryFlow(t *testing.T) {
	f := newFixture(t)
	cam := f.createCamera("cam")
	space := f.createSpace("Lot A")
	f.assignCamera(space.ID, cam.ID)
	f.waitForFrame(cam.ID)
	f.detector.detections = []detect.Detection{
		{BBox: geometry.Rect{X1: 100, Y1: 100, X2: 300, Y2: 400}, Confidence: 0.9, Class: "car"},
	}

	rec := f.do("POST", "/api/discovery", map[string]interface{}{
		"space_id":  space.ID,
		"camera_id": cam.ID,
		"mode":      "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("POST", "/api/discovery", map[string]interface{}{
		"space_id":  space.ID,
		"camera_id": cam.ID,
		"mode":      "single",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var session discovery.Session
	f.decode(rec, &session)
	require.NotEmpty(t, session.ID)

	require.Eventually(t, func() bool {
		rec := f.do("GET", "/api/discovery/"+session.ID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		f.decode(rec, &session)
		return session.Status == discovery.StatusCompleted
	}, time.Second, 5*time.Millisecond)
	require.Len(t, session.Proposals, 1)
	prop := session.Proposals[0]
	assert.True(t, prop.Valid)
	assert.Equal(t, geometry.Rect{X1: 80, Y1: 70, X2: 320, Y2: 430}, prop.Rect)

	rec = f.do("GET", "/api/discovery/"+session.ID+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	// A completed session cannot be cancelled.
	rec = f.do("POST", "/api/discovery/"+session.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do("POST", "/api/discovery/"+session.ID+"/apply", map[string]interface{}{
		"indices": []int{0},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result discovery.ApplyResult
	f.decode(rec, &result)
	require.Equal(t, 1, result.Applied)
	require.Len(t, result.Created, 1)
	assert.Equal(t, 1, result.Created[0].SpotNumber)
	assert.Equal(t, "discovery", result.Created[0].CreatedBy)

	var spots []store.Spot
	rec = f.do("GET", "/api/spaces/"+space.ID+"/spots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &spots)
	require.Len(t, spots, 1)

	rec = f.do("DELETE", "/api/discovery/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do("GET", "/api/discovery/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelayEndpoints(t *testing.T) {
	f := newFixture(t)
	cam := f.createCamera("cam")

	rec := f.do("GET", "/api/relay/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status relay.Status
	f.decode(rec, &status)
	assert.Equal(t, "idle", status.State)

	rec = f.do("PUT", "/api/relay/targets/studio", map[string]interface{}{
		"rtmp_url":   "rtmp://stream.example/live",
		"stream_key": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret",
		"stream key must never appear in responses")

	rec = f.do("GET", "/api/relay/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var targets []store.RelayTarget
	f.decode(rec, &targets)
	require.Len(t, targets, 1)
	assert.Equal(t, "studio", targets[0].Alias)

	rec = f.do("POST", "/api/relay/start", map[string]interface{}{
		"camera_id":    cam.ID,
		"target_alias": "studio",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &status)
	assert.Equal(t, "active", status.State)
	assert.Equal(t, cam.ID, status.CameraID)
	assert.Equal(t, "studio", status.Target)
	assert.NotContains(t, rec.Body.String(), "rtmp://",
		"push URL stays server-side")

	rec = f.do("POST", "/api/relay/start", map[string]interface{}{
		"camera_id":    cam.ID,
		"target_alias": "studio",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, "relay slot is exclusive")

	rec = f.do("POST", "/api/relay/start", map[string]interface{}{
		"camera_id":    "no-such-camera",
		"target_alias": "studio",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do("POST", "/api/relay/start", map[string]interface{}{
		"camera_id":    cam.ID,
		"target_alias": "no-such-target",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do("POST", "/api/relay/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.decode(rec, &status)
	assert.Equal(t, "idle", status.State)

	rec = f.do("POST", "/api/relay/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do("DELETE", "/api/relay/targets/studio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do("DELETE", "/api/relay/targets/studio", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/events", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.mux.ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.bus.Publish(events.Event{Type: "spot_update", Payload: map[string]string{"spot_id": "s1"}})
	f.bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not exit after bus close")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: spot_update\n")
	assert.Contains(t, body, fmt.Sprintf("data: %s\n", `{"spot_id":"s1"}`))
}
