// Package api serves a running simulation over HTTP.
// GET endpoints are public (read-only observation).
// POST /api/v1/actions requires the action key; POST /api/v1/snapshot
// requires the admin key.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/engine"
	"github.com/talgya/agora/internal/persistence"
	"github.com/talgya/agora/internal/simerr"
)

const (
	maxBody          = 1 << 20
	defaultListLimit = 200
)

// Options configures a Server. Queue, DB and Snapshots are optional;
// endpoints needing a missing one answer 503.
type Options struct {
	Addr        string
	AdminKey    string // bearer token for POST /snapshot; empty disables it
	ActionKey   string // bearer token for POST /actions; empty disables it
	RateLimit   int    // actions queued per client per window
	RateWindow  time.Duration
	CORSOrigins []string

	Queue     *engine.QueueSource
	DB        *persistence.DB
	Snapshots *persistence.Snapshotter
}

// Server serves the simulation state over HTTP.
type Server struct {
	sim      *engine.Simulation
	opts     Options
	decoder  *action.Decoder
	hub      *Hub
	quota    *Quota
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a server and registers its stream hub as a summary sink
// of sim.
func New(sim *engine.Simulation, opts Options, logger *slog.Logger) (*Server, error) {
	dec, err := action.NewDecoder()
	if err != nil {
		return nil, err
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	s := &Server{
		sim:     sim,
		opts:    opts,
		decoder: dec,
		hub:     NewHub(logger),
		quota:   NewQuota(opts.RateLimit, opts.RateWindow),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.allowedOrigin,
	}
	sim.OnSummary(s.hub.Publish)
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.handleAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}/observation", s.handleObservation)
	mux.HandleFunc("GET /api/v1/agents/{id}/inbox", s.handleInbox)
	mux.HandleFunc("GET /api/v1/agents/{id}/events", s.handleAgentEvents)
	mux.HandleFunc("GET /api/v1/locations", s.handleLocations)
	mux.HandleFunc("GET /api/v1/groups", s.handleGroups)
	mux.HandleFunc("GET /api/v1/contracts", s.handleContracts)
	mux.HandleFunc("GET /api/v1/proposals", s.handleProposals)
	mux.HandleFunc("GET /api/v1/trades", s.handleTrades)
	mux.HandleFunc("GET /api/v1/ledger", s.handleLedger)
	mux.HandleFunc("GET /api/v1/prices", s.handlePrices)
	mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/metrics/history", s.handleMetricsHistory)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.Handle("GET /debug/vars", expvar.Handler())

	// Control endpoints.
	mux.HandleFunc("POST /api/v1/actions", s.requireKey(s.opts.ActionKey, "action", s.handleActions))
	mux.HandleFunc("POST /api/v1/snapshot", s.requireKey(s.opts.AdminKey, "admin", s.handleSnapshot))

	return s.corsMiddleware(mux)
}

// Serve listens on opts.Addr until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.quota.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API starting", "addr", s.opts.Addr,
			"admin_auth", s.opts.AdminKey != "", "action_auth", s.opts.ActionKey != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// corsMiddleware adds CORS headers for allowed origins. Localhost dev
// servers are always allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, dev := range []string{"http://localhost:", "http://127.0.0.1:"} {
		if strings.HasPrefix(origin, dev) {
			return true
		}
	}
	for _, o := range s.opts.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// requireKey wraps a handler to require a bearer token. An empty key
// disables the endpoint.
func (s *Server) requireKey(key, name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			writeError(w, http.StatusForbidden, "disabled", name+" endpoints disabled (no "+name+" key set)")
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != key {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last := s.sim.Last()
	cfg := s.sim.Config()
	status := map[string]any{
		"name":           "agora",
		"run_id":         s.sim.ID,
		"seed":           cfg.Seed,
		"tick":           s.sim.Tick(),
		"population":     last.Metrics.Population,
		"locations":      len(s.sim.Locations()),
		"gini":           last.Metrics.Wealth.Gini,
		"stream_clients": s.hub.Clients(),
	}
	if s.opts.Queue != nil {
		status["queued_actions"] = s.opts.Queue.Pending()
	}
	if item, share, ok := s.sim.EmergingCurrency(); ok {
		status["currency"] = map[string]any{"item": item, "share": share}
	}
	if err := s.sim.Err(); err != nil {
		status["error"] = err.Error()
	}
	writeJSON(w, status)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	archetype := r.URL.Query().Get("archetype")

	type agentSummary struct {
		ID         agents.AgentID `json:"id"`
		Name       string         `json:"name"`
		Archetype  string         `json:"archetype"`
		LocationID string         `json:"location_id"`
		Food       float64        `json:"food"`
		Shelter    float64        `json:"shelter"`
		Reputation float64        `json:"reputation"`
		Load       float64        `json:"load"`
	}

	result := []agentSummary{}
	for _, a := range s.sim.Agents() {
		if location != "" && a.LocationID != location {
			continue
		}
		if archetype != "" && a.Archetype != archetype {
			continue
		}
		result = append(result, agentSummary{
			ID:         a.ID,
			Name:       a.Name,
			Archetype:  a.Archetype,
			LocationID: a.LocationID,
			Food:       a.Needs.Food,
			Shelter:    a.Needs.Shelter,
			Reputation: a.Needs.Reputation,
			Load:       a.Load(),
		})
	}
	writeJSON(w, result)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	a, err := s.sim.Agent(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	obs, err := s.sim.Observe(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, obs)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	since, ok := queryUint(w, r, "since")
	if !ok {
		return
	}
	if !s.sim.HasAgent(id) {
		writeErr(w, simerr.NotFound("agent %d", id))
		return
	}
	writeJSON(w, s.sim.Inbox(id, since))
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(w, r)
	if !ok {
		return
	}
	if !s.requireDB(w) {
		return
	}
	events, err := s.opts.DB.AgentEvents(s.sim.ID, uint64(id))
	if err != nil {
		s.logger.Error("agent events query failed", "agent", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}
	writeJSON(w, nonNil(events))
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sim.Locations())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	groups := s.sim.Groups()
	out := groups[:0]
	for _, g := range groups {
		if all || !g.Dissolved {
			out = append(out, g)
		}
	}
	writeJSON(w, nonNil(out))
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	contracts := s.sim.Contracts()
	out := contracts[:0]
	for _, c := range contracts {
		if status == "" || string(c.Status) == status {
			out = append(out, c)
		}
	}
	writeJSON(w, nonNil(out))
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	props := s.sim.GovernanceProposals()
	out := props[:0]
	for _, p := range props {
		if status == "" || string(p.Status) == status {
			out = append(out, p)
		}
	}
	writeJSON(w, nonNil(out))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	props := s.sim.TradeProposals()
	out := props[:0]
	for _, p := range props {
		if status == "" || string(p.Status) == status {
			out = append(out, p)
		}
	}
	writeJSON(w, nonNil(out))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	since, ok := queryUint(w, r, "since")
	if !ok {
		return
	}
	writeJSON(w, nonNil(s.sim.Ledger(since)))
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"quotes": nonNil(s.sim.Prices())}
	if item, share, ok := s.sim.EmergingCurrency(); ok {
		resp["currency"] = map[string]any{"item": item, "share": share}
	}
	writeJSON(w, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	last := s.sim.Last()
	writeJSON(w, map[string]any{
		"tick":    last.Tick,
		"metrics": last.Metrics,
		"mass":    last.Mass,
	})
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	since, ok := queryUint(w, r, "since")
	if !ok || !s.requireDB(w) {
		return
	}
	rows, err := s.opts.DB.MetricsHistory(s.sim.ID, since)
	if err != nil {
		s.logger.Error("metrics history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}
	writeJSON(w, nonNil(rows))
}

// handleEvents returns the last tick's events, or with ?limit= the most
// recent recorded events of the run, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if r.URL.Query().Has("limit") {
		limit, ok := queryUint(w, r, "limit")
		if !ok || !s.requireDB(w) {
			return
		}
		events, err := s.opts.DB.RecentEvents(s.sim.ID, int(min(limit, 10*defaultListLimit)))
		if err != nil {
			s.logger.Error("events query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "query failed")
			return
		}
		out := events[:0]
		for _, e := range events {
			if category == "" || e.Category == category {
				out = append(out, e)
			}
		}
		writeJSON(w, nonNil(out))
		return
	}

	last := s.sim.Last()
	out := []engine.Event{}
	for _, e := range last.Events {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	runs, err := s.opts.DB.Runs(defaultListLimit)
	if err != nil {
		s.logger.Error("runs query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "query failed")
		return
	}
	writeJSON(w, nonNil(runs))
}

// handleActions queues one action, or a JSON array of actions, for the
// next tick. A batch is all or nothing at the decoding stage; queueing
// stops at the first agent that already has an action waiting.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "run is not accepting remote actions")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "read body: "+err.Error())
		return
	}

	var batch []action.Action
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		batch, err = s.decoder.DecodeBatch(body)
	} else {
		var a action.Action
		a, err = s.decoder.Decode(body)
		batch = []action.Action{a}
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	for _, a := range batch {
		if err := s.sim.Validate(a); err != nil {
			writeErr(w, err)
			return
		}
	}
	if ok, wait := s.quota.Take(clientAddr(r), len(batch)); !ok {
		w.Header().Set("Retry-After", retryAfter(wait))
		writeError(w, http.StatusTooManyRequests, "rate_limited",
			fmt.Sprintf("%d actions exceed the submission quota", len(batch)))
		return
	}
	queued := 0
	for _, a := range batch {
		if err := s.opts.Queue.Submit(a); err != nil {
			writeJSONStatus(w, http.StatusConflict, map[string]any{"queued": queued, "error": simerr.Code(err), "message": err.Error()})
			return
		}
		queued++
	}
	s.logger.Debug("actions queued", "count", queued, "tick", s.sim.Tick()+1)
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"queued": queued, "tick": s.sim.Tick() + 1})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "snapshots not configured")
		return
	}
	path, err := s.opts.Snapshots.Save()
	if err != nil {
		s.logger.Error("snapshot save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "snapshot failed")
		return
	}
	writeJSON(w, map[string]any{
		"tick":    s.sim.Tick(),
		"path":    path,
		"message": "snapshot saved",
	})
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.opts.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "database not available")
		return false
	}
	return true
}

func agentID(w http.ResponseWriter, r *http.Request) (agents.AgentID, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid agent id")
		return 0, false
	}
	return agents.AgentID(id), true
}

func queryUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid "+name)
		return 0, false
	}
	return v, true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, simerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, simerr.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, simerr.ErrValidation):
		return http.StatusBadRequest
	case simerr.Recoverable(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), simerr.Code(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
