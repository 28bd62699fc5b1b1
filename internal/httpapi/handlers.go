package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/overlay"
	"github.com/MimeLyc/live-caption-translator/pkg/icron"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type attachPageRequest struct {
	URL      string `json:"url"`
	Snapshot string `json:"snapshot"`
}

type attachPageResponse struct {
	PageID    string    `json:"page_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.manager.StatusSnapshot())
	case http.MethodPost:
		var req attachPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		page, err := s.manager.Attach(req.URL, req.Snapshot)
		if err != nil {
			if overlay.IsErrorType(err, overlay.ErrSession) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, attachPageResponse{
			PageID:    page.ID,
			URL:       page.URL,
			CreatedAt: page.CreatedAt,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePageRoutes(w http.ResponseWriter, r *http.Request) {
	pageID, action, ok := parsePageRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handlePage(w, r, pageID)
	case "events":
		s.handlePageEvents(w, r, pageID)
	case "patches":
		s.handlePagePatches(w, r, pageID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func parsePageRoute(path string) (pageID string, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/pages/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return rawID, "", true
	}
	return rawID, parts[1], true
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, pageID string) {
	switch r.Method {
	case http.MethodGet:
		page, ok := s.manager.Get(pageID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown page")
			return
		}
		writeJSON(w, http.StatusOK, page.Status())
	case http.MethodDelete:
		if err := s.manager.Detach(pageID); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type pageEventsRequest struct {
	Events []overlay.Event `json:"events"`
}

func (s *Server) handlePageEvents(w http.ResponseWriter, r *http.Request, pageID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page, ok := s.manager.Get(pageID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown page")
		return
	}

	var req pageEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events is required")
		return
	}

	writeJSON(w, http.StatusOK, page.ApplyEvents(req.Events))
}

type statusResponse struct {
	Pages    []overlay.PageStatus `json:"pages"`
	Schedule *scheduleStatus      `json:"schedule,omitempty"`
}

type scheduleStatus struct {
	Expression string     `json:"expression"`
	Next       time.Time  `json:"next"`
	Last       *time.Time `json:"last,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := statusResponse{
		Pages: s.manager.StatusSnapshot(),
	}
	if expr, ok := s.manager.ReportSchedule(); ok {
		if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
			schedule := &scheduleStatus{
				Expression: expr,
				Next:       info.Next,
			}
			if !info.Last.IsZero() {
				last := info.Last
				schedule.Last = &last
			}
			resp.Schedule = schedule
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history store is not configured")
		return
	}

	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
