package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"fsminer/internal/handlers"
	"fsminer/internal/middleware"
)

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Probes and version
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Roots
	api.HandleFunc("/roots", h.ListRoots).Methods("GET")
	api.HandleFunc("/roots", h.AddRoot).Methods("POST")
	api.HandleFunc("/roots", h.RemoveRoot).Methods("DELETE")

	// Throttle
	api.HandleFunc("/throttle", h.GetThrottle).Methods("GET")
	api.HandleFunc("/throttle", h.SetThrottle).Methods("PUT")

	// Engine
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/recrawl", h.TriggerRecrawl).Methods("POST")
	api.HandleFunc("/resources", h.GetResource).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/events", h.ServeEvents).Methods("GET")

	return r
}

// wrapHandler applies the metrics and logging middleware.
func wrapHandler(r *mux.Router, logHealthChecks bool) http.Handler {
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = logHealthChecks
	return middleware.Logger(loggingConfig)(r)
}
