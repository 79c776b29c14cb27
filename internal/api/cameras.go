package api

import (
	"encoding/json"
	"net/http"

	"github.com/openlot/parkwatch/internal/geometry"
	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/store"
)

type cameraRequest struct {
	Name      string `json:"name"`
	SourceURI string `json:"source_uri"`
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.db.ListCameras()
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if cams == nil {
		cams = []store.Camera{}
	}
	httputil.WriteJSONOK(w, cams)
}

func (s *Server) createCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.Name == "" || req.SourceURI == "" {
		httputil.BadRequest(w, "name and source_uri are required")
		return
	}
	cam := &store.Camera{Name: req.Name, SourceURI: req.SourceURI}
	if err := s.db.CreateCamera(cam); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	s.frames.Start(cam.ID, cam.SourceURI)
	httputil.WriteJSON(w, http.StatusCreated, cam)
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.db.GetCamera(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, cam)
}

func (s *Server) updateCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.db.GetCamera(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.Name != "" {
		cam.Name = req.Name
	}
	restart := req.SourceURI != "" && req.SourceURI != cam.SourceURI
	if req.SourceURI != "" {
		cam.SourceURI = req.SourceURI
	}
	if err := s.db.UpdateCamera(cam); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if restart {
		s.frames.Stop(cam.ID)
		s.frames.Start(cam.ID, cam.SourceURI)
	}
	httputil.WriteJSONOK(w, cam)
}

func (s *Server) deleteCamera(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.db.DeleteCamera(id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	s.frames.Stop(id)
	httputil.WriteJSONOK(w, map[string]string{"deleted": id})
}

// cameraSnapshot serves the camera's most recent frame as JPEG.
func (s *Server) cameraSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.GetCamera(id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	frame := s.frames.LatestFrame(id)
	if frame == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame.Data)
}

func (s *Server) updateExclusionZones(w http.ResponseWriter, r *http.Request) {
	cam, err := s.db.GetCamera(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	var req struct {
		Zones []geometry.Rect `json:"zones"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	for _, z := range req.Zones {
		if z.X1 >= z.X2 || z.Y1 >= z.Y2 {
			httputil.BadRequest(w, "exclusion zone has non-positive extent")
			return
		}
	}
	cam.ExclusionZones = req.Zones
	if err := s.db.UpdateCamera(cam); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, cam)
}
