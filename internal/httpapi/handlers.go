package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type limitRequest struct {
	Scope string `json:"scope"`
	Path  string `json:"path"`
	ID    string `json:"id"`
}

type limitResponse struct {
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"`
	Retry     int64 `json:"retry"`
}

func (s *Server) postLimiting(w http.ResponseWriter, r *http.Request) {
	var input limitRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if input.Scope == "" || input.Path == "" || input.ID == "" {
		respondError(w, http.StatusBadRequest, "scope, path, and id are required")
		return
	}

	resp := s.Limiter.Handle(r.Context(), input.Scope, input.Path, input.ID)

	if lc := requestLogFrom(r); lc != nil {
		lc.Set("scope", input.Scope)
		lc.Set("limit_path", input.Path)
		lc.Set("id", input.ID)
		lc.Set("limited", resp.Retry > 0)
	}

	respondResult(w, limitResponse{
		Limit:     resp.Limit,
		Remaining: resp.Remaining,
		Reset:     resp.Reset,
		Retry:     resp.Retry,
	})
}

func (s *Server) getRedlist(w http.ResponseWriter, r *http.Request) {
	respondResult(w, s.Resolver.Redlist(nowMillis()))
}

func (s *Server) postRedlist(w http.ResponseWriter, r *http.Request) {
	var input map[string]int64
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := s.Backend.RedlistAdd(r.Context(), s.namespace(), input); err != nil {
		s.logError("redlist_add error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondResult(w, "ok")
}

func (s *Server) getRedrules(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Resolver.Redrules(nowMillis())
	out := make(map[string][2]int64, len(snapshot))
	for key, entry := range snapshot {
		out[key] = [2]int64{entry.Quantity, entry.Expiry}
	}
	respondResult(w, out)
}

type redrulesRequest struct {
	Scope string             `json:"scope"`
	Rules map[string][2]int64 `json:"rules"`
}

func (s *Server) postRedrules(w http.ResponseWriter, r *http.Request) {
	var input redrulesRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if input.Scope == "" {
		respondError(w, http.StatusBadRequest, "scope is required")
		return
	}

	for path, quantityTTL := range input.Rules {
		if err := s.Backend.RedrulesAdd(r.Context(), s.namespace(), input.Scope, path, quantityTTL[0], quantityTTL[1]); err != nil {
			s.logError("redrules_add error", err)
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	respondResult(w, "ok")
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	if lc := requestLogFrom(r); lc != nil {
		for k, v := range s.Backend.PoolStats() {
			lc.Set(k, v)
		}
	}
	respondResult(w, s.Info)
}

func (s *Server) namespace() string {
	return s.Namespace
}

func (s *Server) logError(msg string, err error) {
	if s.Logger != nil {
		s.Logger.Error(msg, zap.Error(err))
	}
}

func respondResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
