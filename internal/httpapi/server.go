// Package httpapi exposes the wire-format HTTP surface described in spec
// §6: /limiting, /redlist, /redrules, /version. Routing is gorilla/mux,
// matching the router used by the other services in the pack.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajiwo/redlimit/internal/limiter"
	"github.com/ajiwo/redlimit/internal/rules"
)

// AppInfo is returned from GET /version.
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server wires the routes to their handlers.
type Server struct {
	Limiter   *limiter.Service
	Resolver  *rules.Resolver
	Backend   BackendAdder
	Info      AppInfo
	Logger    *zap.Logger
	Namespace string

	router *mux.Router
}

// BackendAdder is the subset of the backend client used by the admin
// endpoints (POST /redlist, POST /redrules) to push a new dynamic entry.
type BackendAdder interface {
	RedlistAdd(ctx context.Context, ns string, entries map[string]int64) error
	RedrulesAdd(ctx context.Context, ns, scope, path string, quantity, ttlMs int64) error
	PoolStats() map[string]int64
}

// NewServer builds the mux.Router with all routes and middleware attached.
func NewServer(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.Logger))

	r.HandleFunc("/limiting", s.postLimiting).Methods(http.MethodPost)
	r.HandleFunc("/redlist", s.getRedlist).Methods(http.MethodGet)
	r.HandleFunc("/redlist", s.postRedlist).Methods(http.MethodPost)
	r.HandleFunc("/redrules", s.getRedrules).Methods(http.MethodGet)
	r.HandleFunc("/redrules", s.postRedrules).Methods(http.MethodPost)
	r.HandleFunc("/version", s.version).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return r
}

// Router returns the wired router, building it if necessary.
func (s *Server) Router() *mux.Router {
	if s.router == nil {
		return NewServer(s)
	}
	return s.router
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
