package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP routes. gatherer backs /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.metrics.instrument)

	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	api.Handle("/logout-all", h.requireAccessToken(http.HandlerFunc(h.logoutAll))).Methods(http.MethodPost)
	api.Handle("/me", h.requireAccessToken(http.HandlerFunc(h.me))).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	return r
}
