package api

import (
	"encoding/json"
	"net/http"

	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/occupancy"
	"github.com/openlot/parkwatch/internal/store"
)

func (s *Server) allState(w http.ResponseWriter, r *http.Request) {
	states := s.engine.States()
	if states == nil {
		states = []occupancy.State{}
	}
	httputil.WriteJSONOK(w, states)
}

func (s *Server) spaceState(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("id")
	if _, err := s.db.GetSpace(spaceID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	states := s.engine.SpaceStates(spaceID)
	if states == nil {
		states = []occupancy.State{}
	}
	httputil.WriteJSONOK(w, states)
}

func (s *Server) spaceStats(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("id")
	if _, err := s.db.GetSpace(spaceID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Stats(spaceID))
}

func (s *Server) setSpotState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Occupied *bool `json:"occupied"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Occupied == nil {
		httputil.BadRequest(w, "body must carry an occupied flag")
		return
	}
	state, err := s.engine.SetSpotState(r.PathValue("id"), *req.Occupied)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, state)
}

func (s *Server) setSpotStates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates map[string]bool `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Updates) == 0 {
		httputil.BadRequest(w, "body must carry a non-empty updates map")
		return
	}
	states, err := s.engine.SetSpotStates(req.Updates)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, states)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.db.GetConfig()
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.db.GetConfig()
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	var req store.Config
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.OccupancyMinutes < 0 || req.ExitDebounceSeconds < 0 ||
		req.UpdateIntervalSeconds < 0 ||
		req.DetectionConfidence < 0 || req.DetectionConfidence > 1 {
		httputil.BadRequest(w, "config values out of range")
		return
	}
	*cfg = req
	if err := s.db.UpdateConfig(cfg); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, cfg)
}
