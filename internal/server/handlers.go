package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/analytics"
	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 100
	defaultAlertLimit = 50
	defaultTopN       = 5
	defaultWindow     = 5 * time.Minute
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status          string  `json:"status"`
	Locations       int     `json:"locations"`
	EventsGenerated int64   `json:"eventsGenerated"`
	AlertsRaised    int64   `json:"alertsRaised"`
	EventsBuffered  int     `json:"eventsBuffered"`
	AlertsBuffered  int     `json:"alertsBuffered"`
	StreamClients   int     `json:"streamClients"`
	AlertStore      bool    `json:"alertStore"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
}

type analyticsResponse struct {
	Window       string                         `json:"window"`
	Events       int                            `json:"events"`
	VehicleTypes map[string]int                 `json:"vehicleTypes"`
	TopCongested []analytics.LocationCongestion `json:"topCongested"`
	AlertTypes   map[string]int                 `json:"alertTypes"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	events, alerts := s.sim.State.Counters()
	resp := healthResponse{
		Status:          "ok",
		Locations:       s.sim.Roster.Len(),
		EventsGenerated: events,
		AlertsRaised:    alerts,
		EventsBuffered:  s.sim.State.Events.Len(),
		AlertsBuffered:  s.sim.State.Alerts.Len(),
		AlertStore:      s.sim.Repository != nil,
		UptimeSeconds:   s.now().Sub(s.started).Seconds(),
	}
	if s.hub != nil {
		resp.StreamClients = s.hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sim.Roster.All())
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	location, ok := s.sim.Roster.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown location "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, location)
}

func (s *Server) handleNearestLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "lat must be a number")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "lon must be a number")
		return
	}

	location, ok := s.sim.Roster.Nearest(lat, lon)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no locations")
		return
	}
	s.writeJSON(w, http.StatusOK, location)
}

// handleEvents returns the buffered events in the window, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	window, ok := s.windowParam(w, r, 0)
	if !ok {
		return
	}
	limit, ok := s.limitParam(w, r, defaultEventLimit)
	if !ok {
		return
	}

	events := analytics.Window(s.sim.State.Events.Snapshot(), s.now(), window)
	out := make([]models.TrafficEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestEvent(w http.ResponseWriter, _ *http.Request) {
	event, ok := s.sim.State.Events.Latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no events yet")
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	window, ok := s.windowParam(w, r, defaultWindow)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, analytics.Summarize(s.sim.State.Events.Snapshot(), s.now(), window))
}

func (s *Server) handleMap(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, analytics.LatestPerLocation(s.sim.State.Events.Snapshot()))
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	window, ok := s.windowParam(w, r, 0)
	if !ok {
		return
	}
	events := analytics.Window(s.sim.State.Events.Snapshot(), s.now(), window)
	s.writeJSON(w, http.StatusOK, analyticsResponse{
		Window:       window.String(),
		Events:       len(events),
		VehicleTypes: analytics.VehicleTypeCounts(events),
		TopCongested: analytics.TopCongested(events, defaultTopN),
		AlertTypes:   analytics.AlertTypeCounts(s.sim.State.Alerts.Snapshot()),
	})
}

// handleAlerts lists recent alerts from memory, or from the alert table (latest 100 by
// default) with source=store.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	// zero lets the repository apply its own default
	limit, ok := s.limitParam(w, r, 0)
	if !ok {
		return
	}

	switch r.URL.Query().Get("source") {
	case "", "memory":
		if limit == 0 {
			limit = defaultAlertLimit
		}
		s.writeJSON(w, http.StatusOK, s.sim.State.Alerts.Recent(limit))
	case "store":
		if s.sim.Repository == nil {
			s.writeError(w, http.StatusServiceUnavailable, "alert store is not connected")
			return
		}
		alerts, err := s.sim.Repository.GetRecent(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to read stored alerts", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to read stored alerts")
			return
		}
		if alerts == nil {
			alerts = []*models.StoredAlert{}
		}
		s.writeJSON(w, http.StatusOK, alerts)
	default:
		s.writeError(w, http.StatusBadRequest, "source must be memory or store")
	}
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.sim.State.Reset()
	s.logger.Info("live state reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) windowParam(w http.ResponseWriter, r *http.Request, fallback time.Duration) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return fallback, true
	}
	window, err := analytics.ParseWindow(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return window, true
}

func (s *Server) limitParam(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
