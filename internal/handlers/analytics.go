package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alexprut/radiocms/internal/analytics"
	"github.com/alexprut/radiocms/internal/models"
)

// Report endpoints. Every GET here answers 200 with the full expected key
// set even when the store is down; the engine owns the zero-shape fallback,
// so these handlers never branch on availability.

func (h *Handlers) AnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	o := h.engine.Overview(r.Context(), r.URL.Query().Get("timeframe"))
	h.json(w, http.StatusOK, o)
}

func (h *Handlers) AnalyticsUsers(w http.ResponseWriter, r *http.Request) {
	users := h.engine.Users(r.Context(), r.URL.Query().Get("timeframe"))
	h.json(w, http.StatusOK, users)
}

func (h *Handlers) AnalyticsLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := h.engine.Logs(r.Context(), analytics.LogsParams{
		Timeframe:  q.Get("timeframe"),
		FileID:     q.Get("fileId"),
		UserID:     q.Get("userId"),
		Status:     q.Get("status"),
		EntityType: q.Get("entityType"),
		Page:       intParam(q.Get("page")),
		Limit:      intParam(q.Get("limit")),
	})
	h.json(w, http.StatusOK, page)
}

func (h *Handlers) AnalyticsFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := h.engine.Files(r.Context(), analytics.FilesParams{
		Timeframe:  q.Get("timeframe"),
		EntityType: q.Get("entityType"),
		Search:     q.Get("search"),
		Page:       intParam(q.Get("page")),
		Limit:      intParam(q.Get("limit")),
	})
	h.json(w, http.StatusOK, page)
}

func (h *Handlers) AnalyticsProjects(w http.ResponseWriter, r *http.Request) {
	rollups := h.engine.ProjectRollups(r.Context(), r.URL.Query().Get("timeframe"))
	h.json(w, http.StatusOK, rollups)
}

func (h *Handlers) AnalyticsEpisodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rollups := h.engine.EpisodeRollups(r.Context(), q.Get("timeframe"), q.Get("projectId"))
	h.json(w, http.StatusOK, rollups)
}

func (h *Handlers) AnalyticsScripts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rollups := h.engine.ScriptRollups(r.Context(), q.Get("timeframe"), q.Get("projectId"))
	h.json(w, http.StatusOK, rollups)
}

// TrackDownload appends one event for a transfer that happened outside the
// download endpoint (a CDN hit, a manual hand-off). Unknown file ids are a
// client error, not a degraded-mode case, so they get a 404.
func (h *Handlers) TrackDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	var req models.TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		http.Error(w, "missing fileId", http.StatusBadRequest)
		return
	}

	f, err := h.db.GetFile(ctx, req.FileID)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	size := f.Size
	if req.Size != nil && *req.Size >= 0 {
		size = *req.Size
	}
	var duration int64
	if req.DurationMs != nil && *req.DurationMs >= 0 {
		duration = *req.DurationMs
	}
	status := req.Status
	switch status {
	case models.StatusCompleted, models.StatusFailed, models.StatusPartial:
	default:
		status = models.StatusCompleted
	}

	var user *models.User
	if r.Header.Get("X-User-ID") != "" {
		if user, err = h.currentUser(ctx, r); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	ev := models.DownloadEvent{
		FileID:       f.ID,
		Filename:     f.Filename,
		IPAddress:    clientIP(r),
		Size:         size,
		DurationMs:   duration,
		Status:       status,
		EntityType:   f.EntityType,
		EntityID:     f.EntityID,
		ReferrerPage: r.Referer(),
	}
	applyUser(&ev, user)

	// Tracking is an explicit append, so it is synchronous: the caller gets
	// the stored event back or an error.
	if err := h.db.InsertDownloadEvent(ctx, &ev); err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:      "tracked",
		FileID:    f.ID,
		UserID:    ev.UserID,
		Timestamp: time.Now(),
	})

	h.json(w, http.StatusCreated, ev)
}

func intParam(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
