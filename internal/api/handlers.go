package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

var siteURLPattern = regexp.MustCompile(`^https?://.+`)

type createSiteRequest struct {
	URL string `json:"url"`
}

type siteDTO struct {
	crawler.Site
	StatusLabel string `json:"status_label"`
}

func (s *Server) scrapeAll(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Planner.Plan(r.Context(), crawler.TriggerPlan)
	if err != nil {
		s.logger.Error("plan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to initiate scraping")
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) scrapeSite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	task, err := s.deps.Planner.Single(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		s.logger.Error("enqueue site failed", zap.Int64("site_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to initiate scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": task.ID, "site_id": task.SiteID})
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.deps.Sites.ListSites(r.Context())
	if err != nil {
		s.logger.Error("list sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}
	out := make([]siteDTO, 0, len(sites))
	for _, site := range sites {
		out = append(out, siteDTO{Site: site, StatusLabel: site.Status.Label()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

func (s *Server) createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	url := strings.TrimSpace(req.URL)
	if !siteURLPattern.MatchString(url) {
		writeError(w, http.StatusBadRequest, "Invalid URL format.")
		return
	}
	site, err := s.deps.Sites.CreateSite(r.Context(), url)
	if err != nil {
		if errors.Is(err, crawler.ErrDuplicateSite) {
			writeError(w, http.StatusConflict, "URL already exists.")
			return
		}
		s.logger.Error("create site failed", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create site")
		return
	}
	writeJSON(w, http.StatusCreated, siteDTO{Site: site, StatusLabel: site.Status.Label()})
}

func (s *Server) deleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Sites.DeleteSite(r.Context(), id); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "site not found")
			return
		}
		s.logger.Error("delete site failed", zap.Int64("site_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete site")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := crawler.EventFilter{City: strings.TrimSpace(r.URL.Query().Get("city"))}
	events, err := s.deps.Events.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []crawler.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Events.SoftDeleteEvent(r.Context(), id); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.logger.Error("delete event failed", zap.Int64("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) latestProgress(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress feed unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": s.deps.Progress.Latest()})
}

// streamProgress relays progress events as server-sent events until the
// client disconnects or the feed closes.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress feed unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, cancel := s.deps.Progress.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, string(evt.Status), evt); err != nil {
				s.logger.Debug("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
