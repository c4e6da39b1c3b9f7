package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/handlers/health"
)

// setupRoutes configures the health endpoints and one route per location
func (s *Server) setupRoutes(router *mux.Router, locations []location) {
	// Add monitoring middleware if monitoring is enabled
	if s.config.Monitoring.Enabled {
		router.Use(monitoring.HTTPMiddleware)
	}

	healthHandler := health.NewHandler(s.logger, s.config.LogHealthRequests)
	healthHandler.SetShutdownStateHandler(s.shutdownStateHandler)
	healthHandler.SetRequestTracker(s.requestStartHandler, s.requestEndHandler)
	healthHandler.SetBuildInfo(s.buildInfo)

	// Health and version endpoints - before middleware to avoid authentication
	healthRouter := router.NewRoute().Subrouter()
	healthRouter.Use(s.loggingMiddleware)
	healthRouter.HandleFunc("/health", healthHandler.Health).Methods("GET")
	healthRouter.HandleFunc("/version", healthHandler.Version).Methods("GET")

	// Location routes - order matters: tracking assigns the request id used by everything after it
	locationRouter := router.NewRoute().Subrouter()
	locationRouter.Use(s.requestTrackingMiddleware)
	locationRouter.Use(s.corsMiddleware)

	for _, loc := range locations {
		var route *mux.Route
		if strings.HasSuffix(loc.config.Path, "/") {
			route = locationRouter.PathPrefix(loc.config.Path)
		} else {
			route = locationRouter.Path(loc.config.Path)
		}

		route.Handler(s.engine.Handler(loc.pipeline))
		if len(loc.config.Methods) > 0 {
			methods := append([]string{http.MethodOptions}, loc.config.Methods...)
			route.Methods(methods...)
		}
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorWriter.WriteGenericError(w, http.StatusNotFound, "NotFound", fmt.Sprintf("no location matches %s", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorWriter.WriteGenericError(w, http.StatusMethodNotAllowed, "MethodNotAllowed",
			fmt.Sprintf("%s is not allowed on %s", r.Method, r.URL.Path))
	})
}
