package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/relay"
	"github.com/openlot/parkwatch/internal/store"
)

func (s *Server) startRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID    string `json:"camera_id"`
		TargetAlias string `json:"target_alias"`
		Reencode    bool   `json:"reencode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.CameraID == "" || req.TargetAlias == "" {
		httputil.BadRequest(w, "camera_id and target_alias are required")
		return
	}
	cam, err := s.db.GetCamera(req.CameraID)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	target, err := s.db.GetRelayTarget(req.TargetAlias)
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	// The relay outlives the request, so it must not inherit r.Context().
	status, err := s.relay.Start(context.Background(), cam.ID, cam.SourceURI,
		target.Alias, target.URI(), relay.Options{Reencode: req.Reencode})
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, status)
}

func (s *Server) listRelayTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.db.ListRelayTargets()
	if err != nil {
		httputil.WriteFault(w, err)
		return
	}
	if targets == nil {
		targets = []store.RelayTarget{}
	}
	httputil.WriteJSONOK(w, targets)
}

func (s *Server) saveRelayTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RTMPURL   string `json:"rtmp_url"`
		StreamKey string `json:"stream_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.RTMPURL == "" {
		httputil.BadRequest(w, "rtmp_url is required")
		return
	}
	target := &store.RelayTarget{
		Alias:     r.PathValue("alias"),
		RTMPURL:   req.RTMPURL,
		StreamKey: req.StreamKey,
	}
	if err := s.db.SaveRelayTarget(target); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, target)
}

func (s *Server) deleteRelayTarget(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	if err := s.db.DeleteRelayTarget(alias); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": alias})
}

func (s *Server) stopRelay(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.Stop(); err != nil {
		httputil.WriteFault(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.relay.StatusNow())
}

func (s *Server) relayStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.relay.StatusNow())
}
