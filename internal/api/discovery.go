package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openlot/parkwatch/internal/discovery"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/httputil"
)

func (s *Server) startDiscovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceID           string `json:"space_id"`
		CameraID          string `json:"camera_id"`
		Mode              string `json:"mode"`
		DurationSeconds   int    `json:"duration_seconds"`
		StandardWidthPct  int    `json:"standard_width_pct"`
		StandardHeightPct int    `json:"standard_height_pct"`
		StabilitySeconds  int    `json:"stability_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.SpaceID == "" || req.CameraID == "" || req.Mode == "" {
		httputil.BadRequest(w, "space_id, camera_id and mode are required")
		return
	}
	session, err := s.discovery.StartAnalysis(req.SpaceID, req.CameraID,
		discovery.Mode(req.Mode), time.Duration(req.DurationSeconds)*time.Second,
		discovery.Settings{
			WidthPct:  req.StandardWidthPct,
			HeightPct: req.StandardHeightPct,
			Stability: time.Duration(req.StabilitySeconds) * time.Second,
		})
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (s *Server) listDiscovery(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.discovery.Sessions())
}

func (s *Server) getDiscovery(w http.ResponseWriter, r *http.Request) {
	session, err := s.discovery.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, session)
}

func (s *Server) cancelDiscovery(w http.ResponseWriter, r *http.Request) {
	if err := s.discovery.Cancel(r.PathValue("id")); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	session, err := s.discovery.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, session)
}

func (s *Server) deleteDiscovery(w http.ResponseWriter, r *http.Request) {
	if err := s.discovery.Delete(r.PathValue("id")); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": r.PathValue("id")})
}

func (s *Server) discoveryPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.discovery.Preview(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(preview)
}

func (s *Server) applyDiscovery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Indices     []int  `json:"indices"`
		LabelPrefix string `json:"label_prefix"`
		AutoNumber  bool   `json:"auto_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if len(req.Indices) == 0 {
		httputil.BadRequest(w, "indices must not be empty")
		return
	}
	result, err := s.discovery.ApplyProposals(r.PathValue("id"), req.Indices, req.LabelPrefix, req.AutoNumber)
	if err != nil {
		// A partial apply still created spots; report them with the error.
		if result != nil && result.Applied > 0 {
			httputil.WriteJSON(w, httputil.StatusForKind(fault.KindOf(err)), map[string]interface{}{
				"error":   err.Error(),
				"applied": result.Applied,
				"created": result.Created,
			})
			return
		}
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}
