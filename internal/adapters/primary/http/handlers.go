package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// MemoryStatsResponse is returned by GET /api/memory/stats
type MemoryStatsResponse struct {
	Stats         entities.MemoryStats  `json:"stats"`
	Limits        entities.MemoryLimits `json:"limits"`
	LimitExceeded bool                  `json:"limit_exceeded"`
}

// ContextTokensRequest is the body of PUT /api/memory/context-tokens
type ContextTokensRequest struct {
	Tokens *int `json:"tokens"`
}

// GCResponse is returned by POST /api/memory/gc
type GCResponse struct {
	Aggressive bool                 `json:"aggressive"`
	Reclaimed  int                  `json:"reclaimed"`
	Stats      entities.MemoryStats `json:"stats"`
}

// handleHealth reports process health; unhealthy answers 503
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.manager.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSONStatus(w, status, health)
}

// handleStats returns the combined memory, cache and runtime report
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.manager.Report())
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.MemoryManager().Stats()
	s.writeJSON(w, MemoryStatsResponse{
		Stats:         stats,
		Limits:        s.manager.MemoryManager().Limits(),
		LimitExceeded: stats.ContextLimitExceeded,
	})
}

func (s *Server) handleGetMemoryLimits(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.manager.MemoryManager().Limits())
}

// handleUpdateMemoryLimits applies the body over the current limits, so
// omitted fields keep their value
func (s *Server) handleUpdateMemoryLimits(w http.ResponseWriter, r *http.Request) {
	memory := s.manager.MemoryManager()

	limits := memory.Limits()
	if err := decodeJSON(w, r, &limits); err != nil {
		s.handleError(w, err, http.StatusBadRequest)
		return
	}

	if err := memory.UpdateLimits(limits); err != nil {
		s.handleError(w, err, statusForUpdate(err))
		return
	}

	updated := memory.Limits()
	s.notify(ports.EventTypeLimits, updated)
	s.writeJSON(w, updated)
}

func (s *Server) handleUpdateContextTokens(w http.ResponseWriter, r *http.Request) {
	var req ContextTokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleError(w, err, http.StatusBadRequest)
		return
	}
	if req.Tokens == nil {
		s.handleError(w, errors.New("tokens is required"), http.StatusBadRequest)
		return
	}

	memory := s.manager.MemoryManager()
	memory.UpdateContextTokens(*req.Tokens)

	stats := memory.Stats()
	s.writeJSON(w, MemoryStatsResponse{
		Stats:         stats,
		Limits:        memory.Limits(),
		LimitExceeded: stats.ContextLimitExceeded,
	})
}

// handleForceGC runs a collection; ?aggressive=true clears every cache
func (s *Server) handleForceGC(w http.ResponseWriter, r *http.Request) {
	aggressive := false
	if raw := r.URL.Query().Get("aggressive"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.handleError(w, fmt.Errorf("invalid aggressive value %q", raw), http.StatusBadRequest)
			return
		}
		aggressive = parsed
	}

	memory := s.manager.MemoryManager()
	reclaimed := memory.ForceGC(aggressive)

	response := GCResponse{
		Aggressive: aggressive,
		Reclaimed:  reclaimed,
		Stats:      memory.Stats(),
	}
	s.notify(ports.EventTypeGC, response)
	s.writeJSON(w, response)
}

func (s *Server) handleListCaches(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.manager.CacheStats())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, c.Stats())
}

func (s *Server) handleGetCacheConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCache(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, c.Config())
}

// cachePolicyUpdate is the subset of CacheConfig a client may change.
// Snapshot settings (persist, cache_file, compression) only come from the
// configuration files.
type cachePolicyUpdate struct {
	MaxEntries          *int    `json:"max_entries"`
	TTLSeconds          *uint64 `json:"ttl_seconds"`
	Enabled             *bool   `json:"enabled"`
	CleanupIntervalSecs *uint32 `json:"cleanup_interval_secs"`
}

func (u cachePolicyUpdate) applyTo(config *entities.CacheConfig) {
	if u.MaxEntries != nil {
		config.MaxEntries = *u.MaxEntries
	}
	if u.TTLSeconds != nil {
		config.TTLSeconds = *u.TTLSeconds
	}
	if u.Enabled != nil {
		config.Enabled = *u.Enabled
	}
	if u.CleanupIntervalSecs != nil {
		config.CleanupIntervalSecs = *u.CleanupIntervalSecs
	}
}

// handleUpdateCacheConfig applies the body over the current policy
func (s *Server) handleUpdateCacheConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCache(w, r)
	if !ok {
		return
	}

	var update cachePolicyUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		s.handleError(w, err, http.StatusBadRequest)
		return
	}

	config := c.Config()
	update.applyTo(&config)

	if err := c.UpdateConfig(config); err != nil {
		s.handleError(w, err, statusForUpdate(err))
		return
	}

	s.writeJSON(w, c.Config())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCache(w, r)
	if !ok {
		return
	}

	c.Clear()

	stats := c.Stats()
	s.notify(ports.EventTypeCacheCleared, stats)
	s.writeJSON(w, stats)
}

// lookupCache resolves the {name} route variable, answering 404 when unknown
func (s *Server) lookupCache(w http.ResponseWriter, r *http.Request) (ports.ManagedCache, bool) {
	name := mux.Vars(r)["name"]
	c, ok := s.manager.Cache(name)
	if !ok {
		s.handleError(w, fmt.Errorf("unknown cache %q", name), http.StatusNotFound)
		return nil, false
	}
	return c, true
}

// notify pushes an event to websocket clients when the server is running
func (s *Server) notify(eventType string, data interface{}) {
	_ = s.Broadcast(ports.UpdateEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// decodeJSON decodes a bounded body and rejects unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func statusForUpdate(err error) int {
	if errors.Is(err, entities.ErrInvalidConfig) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handleError writes a JSON error. Client errors carry the cause; server
// errors are sanitized.
func (s *Server) handleError(w http.ResponseWriter, err error, status int) {
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "Internal server error"
		s.logger.Error("HTTP error", slog.Int("status", status), slog.String("error", err.Error()))
	} else {
		s.logger.Debug("HTTP client error", slog.Int("status", status), slog.String("error", err.Error()))
	}

	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Time:    time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		s.logger.Error("Failed to encode error response", slog.String("error", encodeErr.Error()))
	}
}

// writeJSON writes a 200 JSON response
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.handleError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("Failed to write JSON response", slog.String("error", err.Error()))
	}
}
