// Package ctlserver exposes the camera over HTTP: property introspection,
// staged remote configuration, and live stats. Property changes never touch
// a running pipeline; they accumulate in a staged configuration the host
// applies on the next start.
package ctlserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	rpicam "github.com/aDifferentJT/rpi-cam-control"
)

// StatsSource reports camera counters; *rpicam.Camera satisfies it.
type StatsSource interface {
	Stats() rpicam.Stats
}

// Config holds the control server configuration.
type Config struct {
	Host string
	Port int

	// Initial is the configuration the staged copy starts from, normally
	// the running camera's.
	Initial rpicam.Config

	// Source feeds GET /stats. Optional; without it the endpoint returns
	// zeroed counters.
	Source StatsSource
}

// Server is the HTTP control server.
type Server struct {
	server *http.Server
	source StatsSource
	defs   []propertyDef

	mu     sync.Mutex
	staged rpicam.Config
}

// New creates the control server. Call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		source: cfg.Source,
		defs:   propertyDefs(),
		staged: cfg.Initial,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/properties", s.handleProperties)
	mux.HandleFunc("/set_property", s.handleSetProperty)
	mux.HandleFunc("/stats", s.handleStats)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	return s
}

// Start serves until Stop. It blocks, like http.Server.ListenAndServe.
func (s *Server) Start() error {
	slog.Info("ctlserver: listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop shuts the server down, draining in-flight requests briefly.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

// Handler returns the route table, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Staged returns the configuration accumulated through set_property calls,
// to be applied on the camera's next start.
func (s *Server) Staged() rpicam.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "rpi-cam-control",
	})
}

func (s *Server) handleProperties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	staged := s.staged
	s.mu.Unlock()
	defaults := rpicam.DefaultConfig()

	props := make([]Property, 0, len(s.defs))
	for _, d := range s.defs {
		props = append(props, Property{
			Name:    d.name,
			Type:    d.typ,
			Value:   d.get(staged),
			Default: d.get(defaults),
			Min:     d.min,
			Max:     d.max,
			Enum:    d.enum,
		})
	}
	json.NewEncoder(w).Encode(props)
}

func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var def *propertyDef
	for i := range s.defs {
		if s.defs[i].name == req.Name {
			def = &s.defs[i]
			break
		}
	}
	if def == nil {
		http.Error(w, fmt.Sprintf("unknown property %q", req.Name), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := s.staged
	if err := def.set(&candidate, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := candidate.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.staged = candidate

	slog.Info("ctlserver: property staged", "name", req.Name, "value", req.Value)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "staged",
		"name":   req.Name,
		"value":  def.get(s.staged),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var st rpicam.Stats
	if s.source != nil {
		st = s.source.Stats()
	}
	json.NewEncoder(w).Encode(st)
}
