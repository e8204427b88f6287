// Package api exposes the panel's local HTTP surface: live state snapshots
// for the display frontend and command endpoints that forward to the tracker.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/archive"
	"rfid-door-panel/internal/channel"
	"rfid-door-panel/internal/movement"
	"rfid-door-panel/internal/notify"
	"rfid-door-panel/internal/state"
	"rfid-door-panel/internal/timefmt"
	"rfid-door-panel/internal/types"
)

// Commander is the outbound command surface of the event channel
type Commander interface {
	IsConnected() bool
	RequestStatus()
	RequestStatistics()
	RequestRecords(filter *channel.RecordFilter)
	ConfigureRFIDPower(power int)
	ConfigureSensorRange(location string, distance int)
	AddManualRecord(tag, direction string)
	ClearRecords()
}

// Remote is the slow-path command surface of the tracker's REST API
type Remote interface {
	Reboot(ctx context.Context) error
	ClearHistory(ctx context.Context) error
}

// Dependencies wires the server to the rest of the panel
type Dependencies struct {
	Store         *state.Store
	Movement      *movement.Correlator
	Channel       Commander
	Remote        Remote
	Notifications *notify.Center
	Archive       *archive.Archive

	// Token guards the command endpoints when non-empty; reads stay open.
	Token string
}

// Server is the panel's HTTP server
type Server struct {
	deps       Dependencies
	router     *mux.Router
	httpServer *http.Server
	logger     *logrus.Entry
}

// NewServer creates the HTTP server listening on addr
func NewServer(addr string, deps Dependencies, logger *logrus.Logger) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.WithField("component", "api"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogging)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/records", s.handleRecords).Methods("GET")
	api.HandleFunc("/archive", s.handleArchive).Methods("GET")
	api.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	api.HandleFunc("/notifications/{id}", s.handleDismissNotification).Methods("DELETE")

	commands := api.PathPrefix("/commands").Subrouter()
	commands.Use(s.requireToken)
	commands.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	commands.HandleFunc("/rfid-power", s.handleRFIDPower).Methods("POST")
	commands.HandleFunc("/sensor-range", s.handleSensorRange).Methods("POST")
	commands.HandleFunc("/manual-record", s.handleManualRecord).Methods("POST")
	commands.HandleFunc("/clear-records", s.handleClearRecords).Methods("POST")

	system := api.PathPrefix("/system").Subrouter()
	system.Use(s.requireToken)
	system.HandleFunc("/reboot", s.handleReboot).Methods("POST")
}

// Start begins serving in the background
func (s *Server) Start() error {
	ln := s.httpServer.Addr
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
	s.logger.WithField("addr", ln).Info("HTTP server started")
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// requireToken rejects command requests without the configured bearer token.
// An empty token leaves the endpoints open, which suits a panel bound to
// localhost.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.deps.Token {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"connected": s.deps.Channel.IsConnected(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"live":     s.deps.Store.Snapshot(),
		"movement": s.deps.Movement.Snapshot(),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records := s.deps.Store.Records()
	// Feed order and timestamp order can disagree under jitter; order by the
	// parsed instant at the boundary, newest first.
	sort.SliceStable(records, func(i, j int) bool {
		return timefmt.Compare(records[i].ReadDate, records[j].ReadDate) > 0
	})
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		s.writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	records, err := s.deps.Archive.Recent(queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": s.deps.Notifications.Active(),
	})
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	s.deps.Notifications.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.requireChannel(w) {
		return
	}
	s.deps.Channel.RequestStatus()
	s.deps.Channel.RequestStatistics()
	s.deps.Channel.RequestRecords(nil)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleRFIDPower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Power int `json:"power"`
	}
	if !s.decodeBody(w, r, &req) || !s.requireChannel(w) {
		return
	}
	if req.Power <= 0 {
		s.writeError(w, http.StatusBadRequest, "power must be positive")
		return
	}
	s.deps.Channel.ConfigureRFIDPower(req.Power)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleSensorRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location string `json:"location"`
		Distance int    `json:"distance"`
	}
	if !s.decodeBody(w, r, &req) || !s.requireChannel(w) {
		return
	}
	if !types.IsValidLocation(req.Location) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown sensor location %q", req.Location))
		return
	}
	if req.Distance <= 0 {
		s.writeError(w, http.StatusBadRequest, "distance must be positive")
		return
	}
	s.deps.Channel.ConfigureSensorRange(req.Location, req.Distance)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleManualRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RFIDTag   string `json:"rfid_tag"`
		Direction string `json:"direction"`
	}
	if !s.decodeBody(w, r, &req) || !s.requireChannel(w) {
		return
	}
	if req.RFIDTag == "" {
		s.writeError(w, http.StatusBadRequest, "rfid_tag is required")
		return
	}
	direction := types.NormalizeDirection(req.Direction)
	if !types.IsValidDirection(direction) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown direction %q", req.Direction))
		return
	}
	s.deps.Channel.AddManualRecord(req.RFIDTag, direction)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleClearRecords(w http.ResponseWriter, r *http.Request) {
	if !s.requireChannel(w) {
		return
	}
	s.deps.Channel.ClearRecords()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remote == nil {
		s.writeError(w, http.StatusServiceUnavailable, "remote command API not configured")
		return
	}
	if err := s.deps.Remote.Reboot(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

func (s *Server) requireChannel(w http.ResponseWriter) bool {
	if !s.deps.Channel.IsConnected() {
		s.writeError(w, http.StatusServiceUnavailable, "event channel disconnected")
		return false
	}
	return true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
