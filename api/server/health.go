package server

import (
	"net/http"
)

// Version info reported by /status.
var (
	NodeVersion = "v0.1.0-dev"
	APIVersion  = "v1"
)

// StatusResponse represents the JSON structure for /status.
type StatusResponse struct {
	Status     string      `json:"status"`
	Uptime     int64       `json:"uptime_seconds"`
	Version    string      `json:"version"`
	APIVersion string      `json:"api_version"`
	Metrics    NodeMetrics `json:"metrics"`
}

// LivenessResponse for /health/liveness
type LivenessResponse struct {
	Alive bool `json:"alive"`
}

// ReadinessResponse for /health/readiness
type ReadinessResponse struct {
	Ready  bool `json:"ready"`
	Store  bool `json:"store"`
	Ledger bool `json:"ledger"`
}

// NodeHealthResponse is the response type for /nodehealth.
type NodeHealthResponse struct {
	Status  string      `json:"status"`
	Metrics NodeMetrics `json:"metrics"`
}

// nodeStatus derives a one-word status from metrics.
func nodeStatus(m NodeMetrics) string {
	switch {
	case !m.StoreOK:
		return "store_unavailable"
	case !m.LedgerOK:
		return "ledger_unavailable"
	default:
		return "healthy"
	}
}

// HandleLiveness reports that the process is serving.
func (s *Server) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Alive: true})
}

// HandleReadiness reports whether the store and ledger are reachable.
func (s *Server) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Store: s.storeOK(), Ledger: s.ledgerOK(r.Context())}
	resp.Ready = resp.Store && resp.Ledger
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// HandleStatus responds to /status with node status and version.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	metrics := s.GetNodeMetrics(r.Context())
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:     nodeStatus(metrics),
		Uptime:     metrics.UptimeSeconds,
		Version:    NodeVersion,
		APIVersion: APIVersion,
		Metrics:    metrics,
	})
}

// HandleNodeHealth responds to /nodehealth (summary health for the CLI).
func (s *Server) HandleNodeHealth(w http.ResponseWriter, r *http.Request) {
	metrics := s.GetNodeMetrics(r.Context())
	writeJSON(w, http.StatusOK, NodeHealthResponse{Status: nodeStatus(metrics), Metrics: metrics})
}
