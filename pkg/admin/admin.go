// Package admin is the Prefix Manager's read-only HTTP surface:
// liveness, Prometheus metrics, and a debug dump of the Origin Table's
// current winning state. It never accepts writes — the request
// stream and direct API in pkg/manager are the only mutation path.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/ryandielhenn/prefixmgr/internal/telemetry"
	"github.com/ryandielhenn/prefixmgr/pkg/origin"
)

// PrefixSource returns the current winning prefix entries. Bound to
// *manager.Manager.GetPrefixes at wiring time in cmd/server.
type PrefixSource func() ([]origin.PrefixEntry, error)

// Server wires the admin endpoints onto an http.ServeMux.
type Server struct {
	prefixes PrefixSource
}

// New returns a Server. prefixes is called fresh on every /prefixes
// request; it does not cache.
func New(prefixes PrefixSource) *Server {
	return &Server{prefixes: prefixes}
}

// Mux builds the admin mux: /healthz, /metrics, /prefixes.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Healthz)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/prefixes", telemetry.Instrument("prefixes", http.HandlerFunc(s.Prefixes)))
	return mux
}

// Healthz returns 200 OK once the Manager has been wired in; admin.New
// is only called after Manager.Start succeeds, so reachability of this
// handler already implies liveness.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type prefixesResponse struct {
	Count   int                   `json:"count"`
	Entries []origin.PrefixEntry `json:"entries"`
}

// Prefixes dumps the Origin Table's current winning entries. Debug-only:
// it carries no pagination or filtering.
func (s *Server) Prefixes(w http.ResponseWriter, req *http.Request) {
	entries, err := s.prefixes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := json.Marshal(prefixesResponse{Count: len(entries), Entries: entries})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
