// Package relay manages the single stream relay subprocess: one camera's
// feed pushed to an external RTMP target via ffmpeg. At most one relay
// runs at a time; exclusivity is enforced with a compare-and-swap on the
// lifecycle state, never with locks held across process operations.
package relay

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/timeutil"
)

// State is the relay lifecycle. Valid transitions: Idle -> Starting ->
// Active -> Stopping -> Idle, plus Starting -> Idle on launch failure
// and Active -> Idle when the process dies on its own.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// StopGrace is how long a relay gets to exit after SIGTERM before the
// whole process group is killed.
const StopGrace = 5 * time.Second

// Process is a running relay subprocess.
type Process interface {
	// Done yields the process exit error (nil for clean exit) exactly
	// once, then the channel is closed.
	Done() <-chan error
	// Stop terminates the process group: graceful signal first, hard
	// kill after the grace period.
	Stop(grace time.Duration)
}

// Launcher starts a relay subprocess. Swapped for a fake in tests.
type Launcher func(ctx context.Context, binary string, args []string) (Process, error)

// Status describes the relay for API consumers. Target is the stored
// target's alias; the resolved URL and stream key never leave the
// server.
type Status struct {
	State          string  `json:"state"`
	CameraID       string  `json:"camera_id,omitempty"`
	Target         string  `json:"target,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Manager owns the relay process slot.
type Manager struct {
	clock   timeutil.Clock
	bus     *events.Bus
	launch  Launcher
	binary  string
	grace   time.Duration
	state   atomic.Int32

	mu        sync.Mutex
	proc      Process
	cameraID  string
	target    string
	startedAt time.Time
}

// NewManager creates a relay manager using the given ffmpeg binary
// ("ffmpeg" if empty). A nil launcher uses the real subprocess launcher.
func NewManager(clock timeutil.Clock, bus *events.Bus, binary string, launch Launcher) *Manager {
	if binary == "" {
		binary = "ffmpeg"
	}
	if launch == nil {
		launch = launchFFmpeg
	}
	return &Manager{clock: clock, bus: bus, launch: launch, binary: binary, grace: StopGrace}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Options tune a relay start.
type Options struct {
	// Reencode transcodes instead of passing the video stream through.
	// Needed when the target rejects the camera's codec.
	Reencode bool
}

// Start claims the relay slot and launches ffmpeg pushing sourceURI to
// targetURI. targetAlias is what status reporting shows for the
// destination. A second Start while the slot is taken reports
// AlreadyActive regardless of which camera holds it.
func (m *Manager) Start(ctx context.Context, cameraID, sourceURI, targetAlias, targetURI string, opts Options) (Status, error) {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return m.StatusNow(), fault.Errorf(fault.KindAlreadyActive,
			"relay already %s for camera %s", m.State(), m.currentCamera())
	}

	proc, err := m.launch(ctx, m.binary, relayArgs(sourceURI, targetURI, opts))
	if err != nil {
		m.state.Store(int32(StateIdle))
		return m.StatusNow(), fault.Wrap(fault.KindInternal, err, "failed to launch relay")
	}

	m.mu.Lock()
	m.proc = proc
	m.cameraID = cameraID
	m.target = targetAlias
	m.startedAt = m.clock.Now()
	m.mu.Unlock()

	m.state.Store(int32(StateActive))
	m.publishState()
	monitoring.Logf("[relay] started: camera %s -> %s", cameraID, targetAlias)

	go m.watch(proc)
	return m.StatusNow(), nil
}

// watch waits for the subprocess to exit. An exit while Active means the
// process died underneath us; the slot is released so a new relay can
// start without operator intervention.
func (m *Manager) watch(proc Process) {
	err := <-proc.Done()
	if m.state.CompareAndSwap(int32(StateActive), int32(StateIdle)) {
		if err != nil {
			monitoring.Logf("[relay] process died: %v", err)
		} else {
			monitoring.Logf("[relay] process exited")
		}
		m.clearSession()
		m.publishState()
	}
}

// Stop terminates the running relay and waits for the process to go
// away. Stopping an idle relay is a conflict.
func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(int32(StateActive), int32(StateStopping)) {
		return fault.Errorf(fault.KindConflict, "no active relay to stop")
	}

	m.mu.Lock()
	proc := m.proc
	m.mu.Unlock()

	if proc != nil {
		proc.Stop(m.grace)
		<-proc.Done()
	}
	m.clearSession()
	m.state.Store(int32(StateIdle))
	m.publishState()
	monitoring.Logf("[relay] stopped")
	return nil
}

// StatusNow reports the current status snapshot.
func (m *Manager) StatusNow() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.State().String()}
	if m.cameraID != "" {
		st.CameraID = m.cameraID
		st.Target = m.target
		st.ElapsedSeconds = m.clock.Since(m.startedAt).Seconds()
	}
	return st
}

func (m *Manager) currentCamera() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraID
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	m.proc = nil
	m.cameraID = ""
	m.target = ""
	m.mu.Unlock()
}

func (m *Manager) publishState() {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: events.TypeRelayState, Payload: m.StatusNow()})
}

// relayArgs builds the ffmpeg argument list. Passthrough copy keeps CPU
// cost near zero; audio is dropped since parking feeds have none worth
// relaying.
func relayArgs(sourceURI, target string, opts Options) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(sourceURI, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", sourceURI)
	if opts.Reencode {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast")
	} else {
		args = append(args, "-c:v", "copy")
	}
	return append(args, "-an", "-f", "flv", target)
}
