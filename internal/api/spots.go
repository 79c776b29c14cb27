package api

import (
	"encoding/json"
	"net/http"

	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/store"
)

type spotRequest struct {
	CameraID string            `json:"camera_id"`
	Label    string            `json:"label"`
	Type     string            `json:"type"`
	Rect     *geometry.Rect    `json:"rect"`
	AltViews []store.SpotView  `json:"alt_views"`
}

func (s *Server) listSpots(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("id")
	if _, err := s.db.GetSpace(spaceID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	spots, err := s.db.SpotsBySpace(spaceID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if spots == nil {
		spots = []store.Spot{}
	}
	httputil.WriteJSONOK(w, spots)
}

func (s *Server) createSpot(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("id")
	if _, err := s.db.GetSpace(spaceID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	var req spotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.CameraID == "" || req.Rect == nil {
		httputil.BadRequest(w, "camera_id and rect are required")
		return
	}
	if req.Type != "" && !store.ValidSpotType(req.Type) {
		httputil.BadRequest(w, "type must be parking or nopark")
		return
	}
	assigned, err := s.db.CameraInSpace(spaceID, req.CameraID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if !assigned {
		httputil.BadRequest(w, "camera is not assigned to this space")
		return
	}
	spot := &store.Spot{
		SpaceID:  spaceID,
		CameraID: req.CameraID,
		Label:    req.Label,
		Type:     req.Type,
		Rect:     *req.Rect,
		AltViews: req.AltViews,
	}
	if err := s.db.CreateSpot(spot); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, spot)
}

func (s *Server) getSpot(w http.ResponseWriter, r *http.Request) {
	spot, err := s.db.GetSpot(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, spot)
}

func (s *Server) updateSpot(w http.ResponseWriter, r *http.Request) {
	spot, err := s.db.GetSpot(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	var req spotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.Label != "" {
		spot.Label = req.Label
	}
	if req.Type != "" {
		if !store.ValidSpotType(req.Type) {
			httputil.BadRequest(w, "type must be parking or nopark")
			return
		}
		spot.Type = req.Type
	}
	if req.CameraID != "" {
		spot.CameraID = req.CameraID
	}
	if req.Rect != nil {
		spot.Rect = *req.Rect
	}
	if req.AltViews != nil {
		spot.AltViews = req.AltViews
	}
	if err := s.db.UpdateSpot(spot); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, spot)
}

func (s *Server) deleteSpot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.db.DeleteSpot(id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": id})
}
