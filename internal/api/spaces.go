package api

import (
	"encoding/json"
	"net/http"

	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/store"
)

func (s *Server) listSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.db.ListSpaces()
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if spaces == nil {
		spaces = []store.Space{}
	}
	httputil.WriteJSONOK(w, spaces)
}

func (s *Server) createSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	sp := &store.Space{Name: req.Name}
	if err := s.db.CreateSpace(sp); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sp)
}

// spaceDetail is a space with its assigned cameras.
type spaceDetail struct {
	store.Space
	Cameras []store.Camera `json:"cameras"`
}

func (s *Server) getSpace(w http.ResponseWriter, r *http.Request) {
	sp, err := s.db.GetSpace(r.PathValue("id"))
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	cams, err := s.db.SpaceCameras(sp.ID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if cams == nil {
		cams = []store.Camera{}
	}
	httputil.WriteJSONOK(w, spaceDetail{Space: *sp, Cameras: cams})
}

func (s *Server) renameSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	id := r.PathValue("id")
	if err := s.db.RenameSpace(id, req.Name); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	sp, err := s.db.GetSpace(id)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, sp)
}

// deleteSpace removes a space and all of its spots. The caller must pass
// confirm=true; the cascade is not recoverable.
func (s *Server) deleteSpace(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		httputil.BadRequest(w, "deleting a space removes all its spots; pass confirm=true")
		return
	}
	id := r.PathValue("id")
	if err := s.db.DeleteSpace(id); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": id})
}

func (s *Server) assignCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID string `json:"camera_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.CameraID == "" {
		httputil.BadRequest(w, "camera_id is required")
		return
	}
	if err := s.db.AssignCamera(r.PathValue("id"), req.CameraID); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"assigned": req.CameraID})
}

func (s *Server) unassignCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.db.UnassignCamera(r.PathValue("id"), r.PathValue("cameraID")); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"unassigned": r.PathValue("cameraID")})
}
