package discovery

import (
	"context"
	"fmt"

	"github.com/openlot/parkwatch/internal/detect"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/stability"
)

// run is the session goroutine: sample the camera across the window,
// then turn what stayed put into proposals.
func (o *Orchestrator) run(ctx context.Context, s *session) {
	frameW, frameH := 0, 0

	if s.mode == ModeSingle {
		obs, w, h, err := o.sample(ctx, s)
		if err != nil {
			o.complete(s, StatusError, err.Error(), nil)
			return
		}
		candidates := make([]candidate, 0, len(obs))
		for _, ob := range obs {
			candidates = append(candidates, candidate{
				bbox:       ob.BBox,
				confidence: ob.Confidence,
				stability:  1,
			})
		}
		o.finish(s, candidates, w, h)
		return
	}

	// The tracker's window is the stability requirement, not the session
	// window: a long session still proposes any vehicle that held still
	// for the configured stability span.
	tracker := stability.NewTracker(s.settings.Stability, s.interval)
	deadline := s.startedAt.Add(s.window)
	ticker := o.clock.NewTicker(s.interval)
	defer ticker.Stop()

	// Sample immediately so the window's observations span the full
	// window rather than starting one tick in. A camera blip is
	// tolerated; a detector failure is remembered in case no sample
	// ever succeeds.
	sampled := 0
	var lastErr error
	if obs, w, h, err := o.sample(ctx, s); err == nil {
		sampled++
		frameW, frameH = w, h
		tracker.AddObservations(s.cameraID, s.startedAt, obs)
		o.mu.Lock()
		s.framesAnalyzed = sampled
		o.mu.Unlock()
	} else if fault.KindOf(err) != fault.KindCameraUnavailable {
		lastErr = err
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		now := o.clock.Now()
		if obs, w, h, err := o.sample(ctx, s); err == nil {
			sampled++
			frameW, frameH = w, h
			tracker.AddObservations(s.cameraID, now, obs)
		} else if fault.KindOf(err) != fault.KindCameraUnavailable {
			lastErr = err
		}

		o.mu.Lock()
		s.framesAnalyzed = sampled
		elapsed := now.Sub(s.startedAt)
		if pct := float64(elapsed) / float64(s.window) * 100; pct < 100 {
			s.progress = pct
		}
		o.mu.Unlock()

		if !now.Before(deadline) {
			if sampled == 0 {
				msg := "no frames captured during the analysis window"
				if lastErr != nil {
					msg = lastErr.Error()
				}
				o.complete(s, StatusError, msg, nil)
				return
			}
			clusters := tracker.StableClusters(s.cameraID, now)
			expected := float64(s.settings.Stability / s.interval)
			if expected < 1 {
				expected = 1
			}
			candidates := make([]candidate, 0, len(clusters))
			for _, c := range clusters {
				box := c.BBox
				if s.mode == ModeAverage || s.mode == ModeDuration {
					box = c.MeanBBox
				}
				score := float64(c.Count) / expected
				if score > 1 {
					score = 1
				}
				candidates = append(candidates, candidate{
					bbox:       box,
					confidence: c.MeanConfidence,
					stability:  score,
				})
			}
			o.finish(s, candidates, frameW, frameH)
			return
		}
	}
}

// sample grabs the camera's latest frame and returns its filtered
// detections as stability observations. A missing frame reports
// CameraUnavailable so callers can tell a camera blip from a detector
// failure.
func (o *Orchestrator) sample(ctx context.Context, s *session) (obs []stability.Observation, w, h int, err error) {
	if !o.frames.IsAlive(s.cameraID) {
		return nil, 0, 0, fault.Errorf(fault.KindCameraUnavailable,
			"no live frame from camera %s", s.cameraID)
	}
	frame := o.frames.LatestFrame(s.cameraID)
	if frame == nil {
		return nil, 0, 0, fault.Errorf(fault.KindCameraUnavailable,
			"no live frame from camera %s", s.cameraID)
	}

	o.mu.Lock()
	s.preview = frame.Data
	o.mu.Unlock()

	dets, err := o.detector.Detect(ctx, frame)
	if err != nil {
		monitoring.Logf("[discovery] session %s: detector failed: %v", s.id, err)
		return nil, frame.Width, frame.Height, fault.Wrap(fault.KindInternal, err, "detector failed")
	}
	dets = detect.FilterConfidence(dets, detect.DefaultConfidence)
	if cam, err := o.db.GetCamera(s.cameraID); err == nil {
		dets = detect.FilterExclusionZones(dets, cam.ExclusionZones)
	}

	now := o.clock.Now()
	for _, d := range dets {
		obs = append(obs, stability.Observation{BBox: d.BBox, Confidence: d.Confidence, SeenAt: now})
	}
	return obs, frame.Width, frame.Height, nil
}

type candidate struct {
	bbox       geometry.Rect
	confidence float64
	stability  float64
}

// finish builds the proposal list and completes the session. Suggested
// labels project the space's spot number counter forward without
// reserving anything; the real numbers are assigned at apply time.
func (o *Orchestrator) finish(s *session, candidates []candidate, frameW, frameH int) {
	existing, err := o.db.SpotsByCamera(s.cameraID)
	if err != nil {
		o.complete(s, StatusError, fmt.Sprintf("failed to load existing spots: %v", err), nil)
		return
	}
	space, err := o.db.GetSpace(s.spaceID)
	if err != nil {
		o.complete(s, StatusError, fmt.Sprintf("failed to load space: %v", err), nil)
		return
	}

	proposals := make([]Proposal, 0, len(candidates))
	next := space.NextSpotNumber
	for i, c := range candidates {
		p := buildProposal(i, s.cameraID, c, frameW, frameH, existing, s.settings)
		if p.Valid {
			p.SuggestedLabel = fmt.Sprintf("Spot %d", next)
			next++
		}
		proposals = append(proposals, p)
	}
	o.complete(s, StatusCompleted, "", proposals)
}
