// Package endpoints serves the scheduler's admin HTTP surface: health,
// rendered metrics, and the current cluster membership.
package endpoints

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/common/stats"
)

// BackendsSource renders the current membership as JSON, typically
// cluster.(*MembershipTracker).RenderBackends.
type BackendsSource func(pretty bool) []byte

func NewAdminServer(addr string, stat stats.StatsReceiver, backends BackendsSource) *AdminServer {
	return &AdminServer{
		Addr:     addr,
		Stats:    stat,
		Backends: backends,
	}
}

type AdminServer struct {
	Addr     string
	Stats    stats.StatsReceiver
	Backends BackendsSource
}

func (s *AdminServer) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", helpHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	if s.Backends != nil {
		mux.HandleFunc("/admin/backends.json", s.backendsHandler)
	}
	log.Info("Serving http & stats on ", s.Addr)
	return http.ListenAndServe(s.Addr, mux)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/admin/backends.json'", 501)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}

func (s *AdminServer) backendsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := w.Write(s.Backends(pretty)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}

type StatScope string

// MakeStatsReceiver builds the default receiver for a server scope. An
// empty scope leaves instrument names unprefixed.
func MakeStatsReceiver(scope StatScope) stats.StatsReceiver {
	s := stats.DefaultStatsReceiver()
	if scope == "" {
		return s
	}
	return s.Scope(string(scope))
}
