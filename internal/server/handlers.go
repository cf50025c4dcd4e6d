package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/pipeline"
	"veilleur/internal/runlock"
	"veilleur/internal/sources"
)

type startRequest struct {
	Mode    string   `json:"mode"`
	Domains []string `json:"domains,omitempty"`
	Topics  []string `json:"topics,omitempty"`
}

type startResponse struct {
	RunID string `json:"run_id"`
	Mode  string `json:"mode"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handlePipelineStart(w http.ResponseWriter, r *http.Request) {
	// An empty body is a plain SCRAPE run.
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("corps de requête invalide : %v", err))
		return
	}

	mode, err := parseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if mode == core.ModeTopic && len(req.Topics) == 0 {
		respondError(w, http.StatusBadRequest, "le mode TOPIC exige au moins un sujet")
		return
	}

	runID, err := s.deps.Manager.Start(pipeline.RunOptions{
		Mode:    mode,
		Domains: req.Domains,
		Topics:  req.Topics,
	})
	if err != nil {
		if errors.Is(err, runlock.ErrPipelineBusy) {
			respondError(w, http.StatusConflict, "une exécution est déjà en cours")
			return
		}
		logger.Error("Pipeline start failed", err)
		respondError(w, http.StatusInternalServerError, "démarrage impossible")
		return
	}
	respondJSON(w, http.StatusAccepted, startResponse{RunID: runID, Mode: string(mode)})
}

func (s *Server) handlePipelineStop(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Manager.Stop() {
		respondError(w, http.StatusConflict, "aucune exécution en cours")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stopping": true})
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Manager.Status())
}

func (s *Server) handlePipelineLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	logs := s.deps.Manager.Logs(limit, offset)
	respondJSON(w, http.StatusOK, map[string]any{
		"events": logs,
		"count":  len(logs),
	})
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Health.Report(r.Context())
	if err != nil {
		logger.Error("Health report failed", err)
		respondError(w, http.StatusInternalServerError, "rapport de santé indisponible")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	domains, err := s.deps.Health.Blacklisted(r.Context())
	if err != nil {
		logger.Error("Blacklist read failed", err)
		respondError(w, http.StatusInternalServerError, "liste noire indisponible")
		return
	}
	if domains == nil {
		domains = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) handleUnblacklist(w http.ResponseWriter, r *http.Request) {
	domain := sources.NormalizeDomain(chi.URLParam(r, "domain"))
	if domain == "" {
		respondError(w, http.StatusBadRequest, "domaine manquant")
		return
	}

	blacklisted, err := s.deps.Health.IsBlacklisted(r.Context(), domain)
	if err != nil {
		logger.Error("Blacklist lookup failed", err, "domain", domain)
		respondError(w, http.StatusInternalServerError, "liste noire indisponible")
		return
	}
	if !blacklisted {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s n'est pas sur liste noire", domain))
		return
	}
	if err := s.deps.Health.Unblacklist(r.Context(), domain); err != nil {
		logger.Error("Unblacklist failed", err, "domain", domain)
		respondError(w, http.StatusInternalServerError, "retrait de la liste noire impossible")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"domain": domain, "unblacklisted": true})
}

type discoverRequest struct {
	Domain string `json:"domain"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.deps.Discoverer == nil {
		respondError(w, http.StatusServiceUnavailable, "découverte automatique désactivée")
		return
	}

	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("corps de requête invalide : %v", err))
		return
	}
	if req.Domain == "" {
		respondError(w, http.StatusBadRequest, "domaine manquant")
		return
	}
	if req.Reason == "" {
		req.Reason = "demande opérateur"
	}

	found, err := s.deps.Discoverer.Discover(r.Context(), sources.NormalizeDomain(req.Domain), req.Reason)
	if err != nil {
		logger.Error("Discovery failed", err, "domain", req.Domain)
		respondError(w, http.StatusInternalServerError, "découverte échouée")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"replaced": req.Domain,
		"sources":  found,
		"count":    len(found),
	})
}

func parseMode(raw string) (core.RunMode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(core.ModeScrape):
		return core.ModeScrape, nil
	case string(core.ModeTopic):
		return core.ModeTopic, nil
	case string(core.ModeSimulation):
		return core.ModeSimulation, nil
	}
	return "", fmt.Errorf("mode inconnu %q (SCRAPE, TOPIC ou SIMULATION)", raw)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Response encoding failed", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}
