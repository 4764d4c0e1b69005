package server

import (
	"bathguard/internal/advisor"
	"bathguard/internal/controller"
	"bathguard/internal/models"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ControllerSource gives the server access to the running automations
type ControllerSource interface {
	Controller(name string) (*controller.Controller, bool)
	Controllers() []*controller.Controller
}

// EventHistory serves past shower events
type EventHistory interface {
	GetRecentEvents(ctx context.Context, automation string, limit int) ([]models.Event, error)
}

// suggestionHistory is how many recent events /thresholds learns from
const suggestionHistory = 500

// Server represents the HTTP status API
type Server struct {
	controllers   ControllerSource
	events        EventHistory
	assessor      *advisor.MoldRiskAssessor
	advisor       *advisor.VentilationAdvisor
	minConfidence float64
	mux           *http.ServeMux
	httpServer    *http.Server
}

// NewServer creates a new HTTP server. events may be nil, which disables /events.
func NewServer(controllers ControllerSource, events EventHistory) *Server {
	s := &Server{
		controllers:   controllers,
		events:        events,
		assessor:      advisor.NewMoldRiskAssessor(),
		advisor:       advisor.NewVentilationAdvisor(),
		minConfidence: 0.7,
		mux:           http.NewServeMux(),
	}

	// Register routes
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/risk", s.handleRisk)
	s.mux.HandleFunc("/ventilation", s.handleVentilation)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/thresholds", s.handleThresholds)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

// SetMinConfidence sets the confidence /thresholds requires before suggesting
func (s *Server) SetMinConfidence(v float64) {
	s.minConfidence = v
}

// Handler exposes the route table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"time":        time.Now().UTC().String(),
		"automations": len(s.controllers.Controllers()),
	})
}

// handleStatus returns one automation's status, or all of them
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("automation"); name != "" {
		c, ok := s.controllers.Controller(name)
		if !ok {
			http.Error(w, fmt.Sprintf("Unknown automation %q", name), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, c.GetStatus())
		return
	}

	statuses := make([]models.Status, 0)
	for _, c := range s.controllers.Controllers() {
		statuses = append(statuses, c.GetStatus())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(statuses),
		"automations": statuses,
	})
}

// controllerFor resolves the optional automation parameter. It returns nil
// without error when the parameter is absent, and false once it has written an
// error response.
func (s *Server) controllerFor(w http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	name := r.URL.Query().Get("automation")
	if name == "" {
		return nil, true
	}
	c, ok := s.controllers.Controller(name)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown automation %q", name), http.StatusNotFound)
		return nil, false
	}
	return c, true
}

// handleRisk assesses mold risk for arbitrary readings, through the named
// automation's controller when automation is given
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	assess := s.assessor.Assess
	if c != nil {
		assess = c.AssessRisk
	}

	q := r.URL.Query()
	temp, err := requiredFloat(q.Get("temperature"), "temperature")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	humidity, err := requiredFloat(q.Get("humidity"), "humidity")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var surface *float64
	if v := q.Get("surface"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid surface temperature: "+err.Error(), http.StatusBadRequest)
			return
		}
		surface = &f
	}

	risk, err := assess(temp, humidity, surface)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, risk)
}

// handleVentilation compares indoor and outdoor air and ranks the advice against mold risk
func (s *Server) handleVentilation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	recommend, assess := s.advisor.Recommend, s.assessor.Assess
	if c != nil {
		recommend, assess = c.RecommendVentilation, c.AssessRisk
	}

	q := r.URL.Query()
	params := []string{"indoor_temp", "indoor_humidity", "outdoor_temp", "outdoor_humidity"}
	values := make([]float64, len(params))
	for i, name := range params {
		v, err := requiredFloat(q.Get(name), name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		values[i] = v
	}

	rec, err := recommend(values[0], values[1], values[2], values[3])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	risk, err := assess(values[0], values[1], nil)
	if err != nil {
		log.Printf("Ventilation priority without mold risk: %v", err)
		risk = nil
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendation": rec,
		"priority":       advisor.Prioritize(rec, risk),
	})
}

// handleThresholds suggests thresholds for an automation from its recent events
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "Event history not available", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("automation") == "" {
		http.Error(w, "automation is required", http.StatusBadRequest)
		return
	}
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	events, err := s.events.GetRecentEvents(r.Context(), c.Name(), suggestionHistory)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cfg := c.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"automation": cfg.Name,
		"current": models.Thresholds{
			HumidityHigh: cfg.HumidityHigh,
			HumidityLow:  cfg.HumidityLow,
		},
		"min_confidence": s.minConfidence,
		"suggestion":     c.SuggestThresholds(events, s.minConfidence),
	})
}

// handleEvents returns recent shower events for an automation
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "Event history not available", http.StatusServiceUnavailable)
		return
	}

	name := r.URL.Query().Get("automation")
	if name == "" {
		http.Error(w, "automation is required", http.StatusBadRequest)
		return
	}

	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	events, err := s.events.GetRecentEvents(r.Context(), name, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"automation": name,
		"count":      len(events),
		"events":     events,
	})
}

func requiredFloat(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

// writeJSON encodes before writing the header so an unencodable value
// becomes a 500 instead of an empty 200
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
