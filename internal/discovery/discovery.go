// Package discovery runs auto-markup sessions: watch one camera for a
// while, find the vehicles that stay put, and propose standardized spot
// rectangles where they stood.
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/timeutil"
)

// Mode selects how long a session watches the camera.
type Mode string

const (
	// ModeSingle proposes from the detections of a single frame.
	ModeSingle Mode = "single"
	// ModeAverage takes AverageSamples samples at AverageInterval and
	// averages each stable vehicle's boxes.
	ModeAverage Mode = "average"
	// ModeDuration watches a caller-chosen window between MinDuration
	// and MaxDuration.
	ModeDuration Mode = "duration"
)

// Status is a session's lifecycle state. All transitions start from
// StatusAnalyzing; terminal states never change again.
type Status string

const (
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

const (
	// AverageSamples and AverageInterval define ModeAverage: a fixed run
	// of samples at a tighter spacing than the regular detection cycle.
	AverageSamples  = 30
	AverageInterval = time.Second
	// MinDuration and MaxDuration bound ModeDuration windows.
	MinDuration = 60 * time.Second
	MaxDuration = 600 * time.Second
	// DefaultStability is how long a vehicle must hold still to be
	// proposed as a spot, independent of how long the session watches.
	DefaultStability = 30 * time.Second
)

// Settings tunes a session. Zero fields take defaults.
type Settings struct {
	// WidthPct and HeightPct scale a detected vehicle box into the
	// proposed spot rectangle (percent, about the box center).
	WidthPct  int
	HeightPct int
	// Stability is the minimum continuous presence for a proposal.
	Stability time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.WidthPct <= 0 {
		s.WidthPct = StandardizeWidthPct
	}
	if s.HeightPct <= 0 {
		s.HeightPct = StandardizeHeightPct
	}
	if s.Stability <= 0 {
		s.Stability = DefaultStability
	}
	return s
}

// FrameSource is the slice of the capture registry a session needs.
type FrameSource interface {
	IsAlive(cameraID string) bool
	LatestFrame(cameraID string) *capture.Frame
}

type session struct {
	id       string
	spaceID  string
	cameraID string
	mode     Mode
	window   time.Duration
	interval time.Duration
	settings Settings
	status   Status
	errMsg   string

	progress       float64
	framesAnalyzed int
	proposals      []Proposal
	// applied marks proposal indices already turned into spots; the
	// proposals themselves stay frozen once the session completes.
	applied   map[int]bool
	preview   []byte
	startedAt time.Time

	cancel context.CancelFunc
}

// Session is a snapshot of a session for API consumers.
type Session struct {
	ID             string     `json:"id"`
	SpaceID        string     `json:"space_id"`
	CameraID       string     `json:"camera_id"`
	Mode           Mode       `json:"mode"`
	Status         Status     `json:"status"`
	Error          string     `json:"error,omitempty"`
	Progress       float64    `json:"progress"`
	FramesAnalyzed int        `json:"frames_analyzed"`
	VehiclesFound  int        `json:"vehicles_found"`
	Proposals      []Proposal `json:"proposals,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
}

// Orchestrator owns all discovery sessions. One camera can run at most
// one analyzing session at a time.
type Orchestrator struct {
	db       *store.DB
	frames   FrameSource
	detector detect.Detector
	clock    timeutil.Clock
	bus      *events.Bus
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewOrchestrator creates an orchestrator sampling at interval
// (capture.DefaultInterval if <= 0).
func NewOrchestrator(db *store.DB, frames FrameSource, detector detect.Detector,
	clock timeutil.Clock, bus *events.Bus, interval time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = capture.DefaultInterval
	}
	return &Orchestrator{
		db:       db,
		frames:   frames,
		detector: detector,
		clock:    clock,
		bus:      bus,
		interval: interval,
		sessions: make(map[string]*session),
	}
}

// StartAnalysis validates the request and launches a session goroutine.
// duration is only consulted for ModeDuration.
func (o *Orchestrator) StartAnalysis(spaceID, cameraID string, mode Mode,
	duration time.Duration, settings Settings) (*Session, error) {
	if _, err := o.db.GetSpace(spaceID); err != nil {
		return nil, err
	}
	if _, err := o.db.GetCamera(cameraID); err != nil {
		return nil, err
	}
	assigned, err := o.db.CameraInSpace(spaceID, cameraID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, fault.Errorf(fault.KindInvalidArgument,
			"camera %s is not assigned to space %s", cameraID, spaceID)
	}
	if !o.frames.IsAlive(cameraID) {
		return nil, fault.Errorf(fault.KindCameraUnavailable,
			"camera %s has no live frames", cameraID)
	}

	var window, interval time.Duration
	switch mode {
	case ModeSingle:
	case ModeAverage:
		window = AverageSamples * AverageInterval
		interval = AverageInterval
	case ModeDuration:
		if duration < MinDuration || duration > MaxDuration {
			return nil, fault.Errorf(fault.KindInvalidArgument,
				"duration must be between %s and %s, got %s", MinDuration, MaxDuration, duration)
		}
		window = duration
		interval = o.interval
	default:
		return nil, fault.Errorf(fault.KindInvalidArgument, "unknown analysis mode %q", mode)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.cameraID == cameraID && s.status == StatusAnalyzing {
			return nil, fault.Errorf(fault.KindAlreadyActive,
				"camera %s already has an analyzing session (%s)", cameraID, s.id)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.New().String(),
		spaceID:   spaceID,
		cameraID:  cameraID,
		mode:      mode,
		window:    window,
		interval:  interval,
		settings:  settings.withDefaults(),
		status:    StatusAnalyzing,
		startedAt: o.clock.Now(),
		cancel:    cancel,
	}
	o.sessions[s.id] = s
	go o.run(ctx, s)
	monitoring.Logf("[discovery] started %s session %s on camera %s", mode, s.id, cameraID)
	return o.snapshot(s), nil
}

// Get returns a session snapshot.
func (o *Orchestrator) Get(sessionID string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, fault.Errorf(fault.KindNotFound, "session %s not found", sessionID)
	}
	return o.snapshot(s), nil
}

// Sessions lists all known sessions, newest first.
func (o *Orchestrator) Sessions() []Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *o.snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel stops an analyzing session. The status flips to Cancelled
// immediately; the sampling goroutine notices within one tick.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return fault.Errorf(fault.KindNotFound, "session %s not found", sessionID)
	}
	if s.status != StatusAnalyzing {
		return fault.Errorf(fault.KindConflict, "session %s is %s, not analyzing", sessionID, s.status)
	}
	s.status = StatusCancelled
	s.cancel()
	monitoring.Logf("[discovery] cancelled session %s", sessionID)
	return nil
}

// Delete removes a session, cancelling it first if still analyzing.
func (o *Orchestrator) Delete(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return fault.Errorf(fault.KindNotFound, "session %s not found", sessionID)
	}
	if s.status == StatusAnalyzing {
		s.status = StatusCancelled
		s.cancel()
	}
	delete(o.sessions, sessionID)
	return nil
}

// Preview returns the JPEG of the latest frame the session sampled.
func (o *Orchestrator) Preview(sessionID string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, fault.Errorf(fault.KindNotFound, "session %s not found", sessionID)
	}
	if s.preview == nil {
		return nil, fault.Errorf(fault.KindNotFound, "session %s has no preview yet", sessionID)
	}
	return s.preview, nil
}

func (o *Orchestrator) snapshot(s *session) *Session {
	view := &Session{
		ID:             s.id,
		SpaceID:        s.spaceID,
		CameraID:       s.cameraID,
		Mode:           s.mode,
		Status:         s.status,
		Error:          s.errMsg,
		Progress:       s.progress,
		FramesAnalyzed: s.framesAnalyzed,
		StartedAt:      s.startedAt,
	}
	if s.proposals != nil {
		view.Proposals = append([]Proposal(nil), s.proposals...)
		for i := range view.Proposals {
			view.Proposals[i].Applied = s.applied[i]
			if view.Proposals[i].Valid {
				view.VehiclesFound++
			}
		}
	}
	return view
}

// complete moves an analyzing session to a terminal state. Terminal
// sessions (a cancel racing the goroutine) are left untouched.
func (o *Orchestrator) complete(s *session, status Status, errMsg string, proposals []Proposal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.status != StatusAnalyzing {
		return
	}
	s.status = status
	s.errMsg = errMsg
	s.proposals = proposals
	if status == StatusCompleted {
		s.progress = 100
	}
	monitoring.Logf("[discovery] session %s finished: %s (%d proposals)",
		s.id, status, len(proposals))
}
