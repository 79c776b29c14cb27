package discovery

import (
	"sort"

	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/store"
)

const (
	// StandardizeWidthPct and StandardizeHeightPct are the default
	// margins growing a detected box into the proposed spot rect.
	StandardizeWidthPct  = 120
	StandardizeHeightPct = 120

	// EdgeMargin is the minimum distance a proposal may sit from the
	// frame border. Vehicles at the very edge are usually half out of
	// view and make poor spots.
	EdgeMargin = 10

	// ExistingOverlapIoU marks a proposal as duplicating an already
	// marked spot.
	ExistingOverlapIoU = 0.5
)

// Exclusion reasons attached to invalid proposals.
const (
	ReasonOutsideFrame    = "outside_frame"
	ReasonTooCloseToEdge  = "too_close_to_edge"
	ReasonTooSmall        = "too_small"
	ReasonOverlapExisting = "overlaps_existing_spot"
)

// Proposal is one suggested spot. BBox is where the vehicle was
// detected; Rect is the standardized spot rectangle derived from it.
// Invalid proposals are kept in the list (with ExcludeReason set) so the
// operator can see everything the session found.
type Proposal struct {
	Index          int           `json:"index"`
	CameraID       string        `json:"camera_id"`
	BBox           geometry.Rect `json:"bbox"`
	Rect           geometry.Rect `json:"rect"`
	Confidence     float64       `json:"confidence"`
	StabilityScore float64       `json:"stability_score"`
	Valid          bool          `json:"valid"`
	ExcludeReason  string        `json:"exclude_reason,omitempty"`
	SuggestedLabel string        `json:"suggested_label"`
	Applied        bool          `json:"applied"`
}

func buildProposal(index int, cameraID string, c candidate, frameW, frameH int,
	existing []store.Spot, settings Settings) Proposal {
	rect := geometry.ScaleAboutCenter(c.bbox, settings.WidthPct, settings.HeightPct)
	p := Proposal{
		Index:          index,
		CameraID:       cameraID,
		BBox:           c.bbox,
		Rect:           rect,
		Confidence:     c.confidence,
		StabilityScore: c.stability,
	}
	p.ExcludeReason = validateProposal(rect, frameW, frameH, existing)
	p.Valid = p.ExcludeReason == ""
	return p
}

func validateProposal(rect geometry.Rect, frameW, frameH int, existing []store.Spot) string {
	if frameW > 0 && frameH > 0 {
		if rect.X1 < 0 || rect.Y1 < 0 || rect.X2 > frameW || rect.Y2 > frameH {
			return ReasonOutsideFrame
		}
		if rect.X1 < EdgeMargin || rect.Y1 < EdgeMargin ||
			rect.X2 > frameW-EdgeMargin || rect.Y2 > frameH-EdgeMargin {
			return ReasonTooCloseToEdge
		}
	}
	if rect.Width() < geometry.MinSpotSide || rect.Height() < geometry.MinSpotSide {
		return ReasonTooSmall
	}
	for _, spot := range existing {
		if geometry.IoU(rect, spot.Rect) >= ExistingOverlapIoU {
			return ReasonOverlapExisting
		}
	}
	return ""
}

// ApplyResult reports what ApplyProposals created.
type ApplyResult struct {
	Created []store.Spot `json:"created"`
	Applied int          `json:"applied"`
}

// ApplyProposals turns the selected proposals of a completed session
// into real spots. Indices are applied in ascending order; each spot
// reserves its number and inserts in its own transaction, so a failure
// partway keeps the spots already created and reports how far it got.
//
// With autoNumber the label is derived from the reserved spot number in
// the same transaction, prefixed by labelPrefix ("Spot " when empty).
// Without it, labelPrefix (or the session's suggested label) is used
// verbatim.
func (o *Orchestrator) ApplyProposals(sessionID string, indices []int, labelPrefix string, autoNumber bool) (*ApplyResult, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil, fault.Errorf(fault.KindNotFound, "session %s not found", sessionID)
	}
	if s.status != StatusCompleted {
		o.mu.Unlock()
		return nil, fault.Errorf(fault.KindConflict,
			"session %s is %s; only completed sessions can be applied", sessionID, s.status)
	}

	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	var picked []Proposal
	for _, idx := range sorted {
		if idx < 0 || idx >= len(s.proposals) {
			o.mu.Unlock()
			return nil, fault.Errorf(fault.KindInvalidArgument,
				"proposal index %d out of range", idx)
		}
		p := s.proposals[idx]
		if !p.Valid {
			o.mu.Unlock()
			return nil, fault.Errorf(fault.KindInvalidArgument,
				"proposal %d is invalid (%s)", idx, p.ExcludeReason)
		}
		if s.applied[idx] {
			o.mu.Unlock()
			return nil, fault.Errorf(fault.KindConflict, "proposal %d already applied", idx)
		}
		picked = append(picked, p)
	}
	spaceID, cameraID := s.spaceID, s.cameraID
	o.mu.Unlock()

	prefix := labelPrefix
	if prefix == "" {
		prefix = "Spot "
	}

	result := &ApplyResult{}
	for _, p := range picked {
		label := p.SuggestedLabel
		if !autoNumber && labelPrefix != "" {
			label = labelPrefix
		}
		spot := &store.Spot{
			SpaceID:   spaceID,
			CameraID:  cameraID,
			Label:     label,
			Type:      store.SpotTypeParking,
			Rect:      p.Rect,
			CreatedBy: "discovery",
		}
		var err error
		if autoNumber {
			err = o.db.CreateSpotAutoLabel(spot, prefix)
		} else {
			err = o.db.CreateSpot(spot)
		}
		if err != nil {
			monitoring.Logf("[discovery] apply stopped at proposal %d: %v", p.Index, err)
			return result, err
		}
		o.mu.Lock()
		if s.applied == nil {
			s.applied = make(map[int]bool)
		}
		s.applied[p.Index] = true
		o.mu.Unlock()
		result.Created = append(result.Created, *spot)
		result.Applied++
		if o.bus != nil {
			o.bus.Publish(events.Event{Type: events.TypeSpotCreated, Payload: *spot})
		}
	}
	monitoring.Logf("[discovery] session %s applied %d proposals", sessionID, result.Applied)
	return result, nil
}
