package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("JSON encode failed")
	}
}

// writeError maps domain error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBusinessRule), errors.Is(err, domain.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type startAnalysisRequest struct {
	Market  string `json:"market"`
	AssetID string `json:"asset_id"`
	Query   string `json:"query,omitempty"`
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req startAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	market := domain.Market(req.Market)
	if market != domain.MarketStock && market != domain.MarketCrypto {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "market must be stock or crypto"})
		return
	}

	sessionID, err := s.coord.StartAnalysis(market, req.AssetID, req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

type approveRequest struct {
	Quantity float64 `json:"quantity,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if err := s.coord.ApproveSession(chi.URLParam(r, "id"), req.Quantity); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type rejectRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if err := s.coord.RejectSession(chi.URLParam(r, "id"), req.Feedback); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.CancelSession(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type alertActionRequest struct {
	Action string             `json:"action"`
	Data   map[string]float64 `json:"data,omitempty"`
}

func (s *Server) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	err := s.coord.HandleAlertAction(r.Context(), chi.URLParam(r, "id"), domain.AlertAction(req.Action), req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.State(r.Context()).PendingAlerts)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.State(r.Context()))
}

type pauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "paused by user"
	}
	s.coord.Pause(req.Reason)
	s.writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.coord.Mode())})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.coord.Resume()
	s.writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.coord.Mode())})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.Positions.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	trades, err := s.store.Trades.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	watched, err := s.store.Watchlist.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, watched)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.Sessions.ListRecent(r.Context(), 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// handleHealth reports process vitals and a quick ping of every database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	dbs := make(map[string]string, len(s.databases))
	for _, db := range s.databases {
		if err := db.QuickCheck(ctx); err != nil {
			dbs[db.Name()] = err.Error()
			healthy = false
		} else {
			dbs[db.Name()] = "ok"
		}
	}

	system := map[string]float64{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		system["cpu_pct"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_pct"] = vm.UsedPercent
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":     state,
		"mode":       s.coord.Mode(),
		"databases":  dbs,
		"system":     system,
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeHTTP(w, r)
}
