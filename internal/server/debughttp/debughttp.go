// Package debughttp exposes a small read-only operational surface
// (/healthz, /stats) alongside the DTL's raw TCP port. It is not part
// of the DTL wire protocol (spec.md §6 defines TCP opcodes only); it
// adapts the teacher's HTTP routing idiom
// (lipandr-go-microsrv-distib-log/internal/server/http.go's
// mux.NewRouter()/HandleFunc(...).Methods(...)) from a produce/consume
// JSON API to an operator-facing status endpoint.
package debughttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openvstorage/dtl/internal/registry"
)

// Stats is the /stats response shape.
type Stats struct {
	Namespaces  int    `json:"namespaces"`
	FileBacked  bool   `json:"file_backed"`
	ListenAddr  string `json:"listen_addr,omitempty"`
}

// Server wraps an *http.Server exposing the debug surface.
type Server struct {
	http *http.Server
	reg  *registry.Registry
}

// New builds the debug HTTP server bound to addr, reporting on reg's
// state. listenAddr is included verbatim in /stats for operator
// convenience (e.g. the DTL TCP port actually bound).
func New(addr string, reg *registry.Registry, listenAddr string) *Server {
	s := &Server{reg: reg}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		s.handleStats(w, req, listenAddr)
	}).Methods(http.MethodGet)
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// ListenAndServe runs the debug HTTP server until it is closed.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Close shuts the debug HTTP server down.
func (s *Server) Close() error {
	return s.http.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, listenAddr string) {
	stats := Stats{
		Namespaces: s.reg.Len(),
		FileBacked: s.reg.IsFileBacked(),
		ListenAddr: listenAddr,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
