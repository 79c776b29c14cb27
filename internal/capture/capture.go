// Package capture maintains one long-lived frame source per camera with
// last-frame caching and automatic reconnect. Capture failures are never
// surfaced to callers; staleness (IsAlive) is the only observable signal.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/timeutil"
)

// Frame is one decoded camera frame. Data holds the encoded image bytes
// (JPEG for the ffmpeg grabber); Width/Height are the frame dimensions.
type Frame struct {
	CameraID   string
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Grabber acquires a single frame from a source URI. Implementations own
// connection state; Grab blocks until a frame is decoded or ctx ends.
type Grabber interface {
	Grab(ctx context.Context, sourceURI string) (*Frame, error)
}

const (
	// DefaultInterval is the target spacing between decoded frames.
	DefaultInterval = 5 * time.Second
	// ReconnectBackoff is the fixed wait after a failed grab before the
	// unit retries.
	ReconnectBackoff = 5 * time.Second
)

// Registry runs one capture unit per camera.
type Registry struct {
	grabber  Grabber
	clock    timeutil.Clock
	interval time.Duration

	mu    sync.Mutex
	units map[string]*unit
}

type unit struct {
	cameraID  string
	sourceURI string
	cancel    context.CancelFunc
	done      chan struct{}

	frameMu   sync.Mutex
	latest    *Frame
	lastFrame time.Time
}

// NewRegistry creates a registry that decodes roughly one frame per
// interval from each started camera.
func NewRegistry(grabber Grabber, clock timeutil.Clock, interval time.Duration) *Registry {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Registry{
		grabber:  grabber,
		clock:    clock,
		interval: interval,
		units:    make(map[string]*unit),
	}
}

// Start launches an independent capture unit for the camera. It returns
// immediately; a second Start for the same camera is a no-op.
func (r *Registry) Start(cameraID, sourceURI string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[cameraID]; ok {
		monitoring.Logf("[capture] camera %s already started", cameraID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &unit{
		cameraID:  cameraID,
		sourceURI: sourceURI,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.units[cameraID] = u
	go r.run(ctx, u)
	monitoring.Logf("[capture] started camera %s", cameraID)
}

// Stop signals the camera's capture unit to end and waits for it.
func (r *Registry) Stop(cameraID string) {
	r.mu.Lock()
	u, ok := r.units[cameraID]
	if ok {
		delete(r.units, cameraID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	u.cancel()
	<-u.done
	monitoring.Logf("[capture] stopped camera %s", cameraID)
}

// StopAll stops every capture unit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	units := make([]*unit, 0, len(r.units))
	for id, u := range r.units {
		units = append(units, u)
		delete(r.units, id)
	}
	r.mu.Unlock()
	for _, u := range units {
		u.cancel()
		<-u.done
	}
}

// LatestFrame returns the most recently decoded frame for the camera, or
// nil if none has been decoded yet. Only the newest frame is retained.
func (r *Registry) LatestFrame(cameraID string) *Frame {
	r.mu.Lock()
	u, ok := r.units[cameraID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	u.frameMu.Lock()
	defer u.frameMu.Unlock()
	return u.latest
}

// IsAlive reports whether a frame was decoded within the freshness
// window (twice the capture interval).
func (r *Registry) IsAlive(cameraID string) bool {
	r.mu.Lock()
	u, ok := r.units[cameraID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	u.frameMu.Lock()
	defer u.frameMu.Unlock()
	if u.latest == nil {
		return false
	}
	return r.clock.Since(u.lastFrame) < 2*r.interval
}

// CameraIDs lists the cameras with running capture units.
func (r *Registry) CameraIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	return ids
}

// run is the capture loop: grab, cache, sleep; on failure back off and
// retry indefinitely. Errors are absorbed here by design.
func (r *Registry) run(ctx context.Context, u *unit) {
	defer close(u.done)
	for {
		frame, err := r.grabber.Grab(ctx, u.sourceURI)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.Logf("[capture] camera %s grab failed: %v (retrying in %s)",
				u.cameraID, err, ReconnectBackoff)
			if !r.wait(ctx, ReconnectBackoff) {
				return
			}
			continue
		}
		frame.CameraID = u.cameraID
		u.frameMu.Lock()
		u.latest = frame
		u.lastFrame = r.clock.Now()
		u.frameMu.Unlock()

		if !r.wait(ctx, r.interval) {
			return
		}
	}
}

// wait sleeps for d on the registry clock, returning false if ctx ended.
func (r *Registry) wait(ctx context.Context, d time.Duration) bool {
	t := r.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-ctx.Done():
		return false
	}
}
