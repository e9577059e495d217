package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"courtwatch/fingerprint"
	"courtwatch/pkg/courtcase"
)

// cinoRegex mirrors the storage key rules so a bad identifier is
// rejected before it reaches the registry or the bucket.
var cinoRegex = regexp.MustCompile(`^[a-zA-Z0-9]{1,32}$`)

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListCases(r.Context())
	if err != nil {
		s.logger.Error("Failed to list cases", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	if records == nil {
		records = []*courtcase.CaseRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAddCase(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req struct {
		Cino string `json:"cino"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cino := strings.ToUpper(strings.TrimSpace(req.Cino))
	if !cinoRegex.MatchString(cino) {
		s.writeError(w, http.StatusBadRequest, "invalid cino")
		return
	}

	if existing, err := s.store.LoadCase(r.Context(), cino); err == nil && existing != nil {
		s.writeError(w, http.StatusConflict, "case already monitored")
		return
	} else if err != nil && !s.isNotFound(err) {
		s.logger.Error("Failed to check existing case", "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	// Verify against the registry before committing to monitor it.
	snap, err := s.fetcher.FetchCase(r.Context(), cino)
	if err != nil {
		if s.isCaseAbsent != nil && s.isCaseAbsent(err) {
			s.writeError(w, http.StatusNotFound, "case not found in registry")
			return
		}
		s.logger.Error("Case verification failed", "cino", cino, "error", err)
		s.writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}

	now := time.Now().UTC()
	rec := &courtcase.CaseRecord{
		Cino:          cino,
		Snapshot:      snap,
		Fingerprint:   fingerprint.Compute(snap),
		AddedAt:       now,
		LastCheckedAt: now,
	}
	if err := s.store.SaveCase(r.Context(), rec); err != nil {
		s.logger.Error("Failed to save case", "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save case")
		return
	}

	s.logger.Info("Case added", "cino", cino, "ip", ip)
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	cino := strings.ToUpper(r.PathValue("cino"))
	if !cinoRegex.MatchString(cino) {
		s.writeError(w, http.StatusBadRequest, "invalid cino")
		return
	}

	rec, err := s.store.LoadCase(r.Context(), cino)
	if err != nil {
		if s.isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "case not monitored")
			return
		}
		s.logger.Error("Failed to load case", "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	cino := strings.ToUpper(r.PathValue("cino"))
	if !cinoRegex.MatchString(cino) {
		s.writeError(w, http.StatusBadRequest, "invalid cino")
		return
	}

	if err := s.store.DeleteCase(r.Context(), cino); err != nil {
		s.logger.Error("Failed to delete case", "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete case")
		return
	}

	s.logger.Info("Case removed", "cino", cino, "ip", ip)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
