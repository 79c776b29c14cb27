// Package api exposes the HTTP surface: markup CRUD, occupancy reads and
// overrides, discovery sessions, the relay and the SSE event stream.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/discovery"
	"github.com/openlot/parkwatch/internal/events"
	"github.com/openlot/parkwatch/internal/httputil"
	"github.com/openlot/parkwatch/internal/monitoring"
	"github.com/openlot/parkwatch/internal/occupancy"
	"github.com/openlot/parkwatch/internal/relay"
	"github.com/openlot/parkwatch/internal/store"
	"github.com/openlot/parkwatch/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	db        *store.DB
	frames    *capture.Registry
	engine    *occupancy.Engine
	discovery *discovery.Orchestrator
	relay     *relay.Manager
	bus       *events.Bus
}

func NewServer(db *store.DB, frames *capture.Registry, engine *occupancy.Engine,
	disc *discovery.Orchestrator, rel *relay.Manager, bus *events.Bus) *Server {
	return &Server{
		db:        db,
		frames:    frames,
		engine:    engine,
		discovery: disc,
		relay:     rel,
		bus:       bus,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cameras", s.listCameras)
	mux.HandleFunc("POST /api/cameras", s.createCamera)
	mux.HandleFunc("GET /api/cameras/{id}", s.getCamera)
	mux.HandleFunc("PUT /api/cameras/{id}", s.updateCamera)
	mux.HandleFunc("DELETE /api/cameras/{id}", s.deleteCamera)
	mux.HandleFunc("GET /api/cameras/{id}/snapshot", s.cameraSnapshot)
	mux.HandleFunc("PUT /api/cameras/{id}/exclusion_zones", s.updateExclusionZones)

	mux.HandleFunc("GET /api/spaces", s.listSpaces)
	mux.HandleFunc("POST /api/spaces", s.createSpace)
	mux.HandleFunc("GET /api/spaces/{id}", s.getSpace)
	mux.HandleFunc("PUT /api/spaces/{id}", s.renameSpace)
	mux.HandleFunc("DELETE /api/spaces/{id}", s.deleteSpace)
	mux.HandleFunc("POST /api/spaces/{id}/cameras", s.assignCamera)
	mux.HandleFunc("DELETE /api/spaces/{id}/cameras/{cameraID}", s.unassignCamera)
	mux.HandleFunc("GET /api/spaces/{id}/spots", s.listSpots)
	mux.HandleFunc("POST /api/spaces/{id}/spots", s.createSpot)
	mux.HandleFunc("GET /api/spaces/{id}/state", s.spaceState)
	mux.HandleFunc("GET /api/spaces/{id}/stats", s.spaceStats)

	mux.HandleFunc("GET /api/spots/{id}", s.getSpot)
	mux.HandleFunc("PUT /api/spots/{id}", s.updateSpot)
	mux.HandleFunc("DELETE /api/spots/{id}", s.deleteSpot)
	mux.HandleFunc("POST /api/spots/{id}/state", s.setSpotState)
	mux.HandleFunc("POST /api/spots/state", s.setSpotStates)
	mux.HandleFunc("GET /api/state", s.allState)

	mux.HandleFunc("GET /api/config", s.getConfig)
	mux.HandleFunc("PUT /api/config", s.updateConfig)

	mux.HandleFunc("POST /api/discovery", s.startDiscovery)
	mux.HandleFunc("GET /api/discovery", s.listDiscovery)
	mux.HandleFunc("GET /api/discovery/{id}", s.getDiscovery)
	mux.HandleFunc("POST /api/discovery/{id}/cancel", s.cancelDiscovery)
	mux.HandleFunc("DELETE /api/discovery/{id}", s.deleteDiscovery)
	mux.HandleFunc("GET /api/discovery/{id}/preview", s.discoveryPreview)
	mux.HandleFunc("POST /api/discovery/{id}/apply", s.applyDiscovery)

	mux.HandleFunc("POST /api/relay/start", s.startRelay)
	mux.HandleFunc("POST /api/relay/stop", s.stopRelay)
	mux.HandleFunc("GET /api/relay/status", s.relayStatus)
	mux.HandleFunc("GET /api/relay/targets", s.listRelayTargets)
	mux.HandleFunc("PUT /api/relay/targets/{alias}", s.saveRelayTarget)
	mux.HandleFunc("DELETE /api/relay/targets/{alias}", s.deleteRelayTarget)

	mux.HandleFunc("GET /api/events", s.streamEvents)
	mux.HandleFunc("GET /api/version", s.versionInfo)

	return mux
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
