package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alexprut/radiocms/internal/analytics"
	"github.com/alexprut/radiocms/internal/cache"
	"github.com/alexprut/radiocms/internal/config"
	"github.com/alexprut/radiocms/internal/database"
	"github.com/alexprut/radiocms/internal/models"
	"github.com/alexprut/radiocms/internal/queue"
	"github.com/alexprut/radiocms/internal/search"
)

type Handlers struct {
	cfg       *config.Config
	db        *database.PostgresDB
	engine    *analytics.Engine
	respCache cache.ResponseCache
	redis     *cache.RedisClient
	search    *search.ElasticsearchClient
	queue     *queue.RabbitMQ
	startAt   time.Time
	requests  int64
}

// NewHandlers wires the HTTP layer. db, redis, search, and queue are all
// optional; engine and respCache are always present.
func NewHandlers(
	cfg *config.Config,
	db *database.PostgresDB,
	engine *analytics.Engine,
	respCache cache.ResponseCache,
	redis *cache.RedisClient,
	search *search.ElasticsearchClient,
	queue *queue.RabbitMQ,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		db:        db,
		engine:    engine,
		respCache: respCache,
		redis:     redis,
		search:    search,
		queue:     queue,
		startAt:   time.Now(),
	}
}

// Router creates the HTTP router
func (h *Handlers) Router() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/ready", h.Ready)

	// Analytics reports
	mux.HandleFunc("GET /api/analytics/overview", h.AnalyticsOverview)
	mux.HandleFunc("GET /api/analytics/users", h.AnalyticsUsers)
	mux.HandleFunc("GET /api/analytics/logs", h.AnalyticsLogs)
	mux.HandleFunc("GET /api/analytics/files", h.AnalyticsFiles)
	mux.HandleFunc("GET /api/analytics/projects", h.AnalyticsProjects)
	mux.HandleFunc("GET /api/analytics/episodes", h.AnalyticsEpisodes)
	mux.HandleFunc("GET /api/analytics/scripts", h.AnalyticsScripts)
	mux.HandleFunc("POST /api/analytics/track", h.TrackDownload)

	// Entity catalog
	mux.HandleFunc("POST /api/projects", h.CreateProject)
	mux.HandleFunc("GET /api/projects", h.ListProjects)
	mux.HandleFunc("GET /api/projects/{id}", h.GetProject)
	mux.HandleFunc("POST /api/projects/{id}/episodes", h.CreateEpisode)
	mux.HandleFunc("GET /api/projects/{id}/episodes", h.ListEpisodes)
	mux.HandleFunc("POST /api/projects/{id}/scripts", h.CreateScript)
	mux.HandleFunc("GET /api/projects/{id}/scripts", h.ListScripts)

	// Files
	mux.HandleFunc("POST /api/files", h.rateLimit(h.UploadFile))
	mux.HandleFunc("GET /api/files", h.ListFiles)
	mux.HandleFunc("GET /api/files/{id}", h.GetFile)
	mux.HandleFunc("GET /api/files/{id}/download", h.DownloadFile)
	mux.HandleFunc("DELETE /api/files/{id}", h.DeleteFile)

	// Search
	mux.HandleFunc("GET /api/search", h.Search)

	return h.middleware(mux)
}

func (h *Handlers) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&h.requests, 1)

		// Log request
		start := time.Now()
		log.Printf("[%s] %s %s", shortID(h.cfg.InstanceID), r.Method, r.URL.Path)

		// Set headers
		w.Header().Set("X-Instance-ID", h.cfg.InstanceID)
		w.Header().Set("X-Protocol", r.Proto)

		next.ServeHTTP(w, r)

		log.Printf("[%s] %s %s took %v", shortID(h.cfg.InstanceID), r.Method, r.URL.Path, time.Since(start))
	})
}

func (h *Handlers) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.redis != nil {
			// Use client IP for rate limiting
			key := "upload:" + r.RemoteAddr
			allowed, remaining, err := h.redis.CheckRateLimit(r.Context(), key, 10, time.Minute)
			if err != nil {
				log.Printf("Rate limit check error: %v", err)
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next(w, r)
	}
}

// ============== Health Endpoints ==============

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"instance_id": h.cfg.InstanceID,
		"protocol":    r.Proto,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]interface{}{}

	// PostgreSQL is optional by design: analytics degrades to zero shapes,
	// so a missing store never fails readiness either.
	if h.db == nil {
		checks["postgresql"] = map[string]interface{}{"healthy": false, "error": "not configured"}
	} else if err := h.db.Health(ctx); err != nil {
		checks["postgresql"] = map[string]interface{}{"healthy": false, "error": err.Error()}
	} else {
		checks["postgresql"] = map[string]interface{}{"healthy": true}
	}

	if h.redis != nil {
		if err := h.redis.Health(ctx); err != nil {
			checks["redis"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			checks["redis"] = map[string]interface{}{"healthy": true}
		}
	} else {
		checks["redis"] = map[string]interface{}{"healthy": false, "error": "not configured"}
	}

	if h.search != nil {
		if err := h.search.Health(ctx); err != nil {
			checks["elasticsearch"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			checks["elasticsearch"] = map[string]interface{}{"healthy": true}
		}
	}

	if h.queue != nil {
		if err := h.queue.Health(ctx); err != nil {
			checks["rabbitmq"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			rmqCheck := map[string]interface{}{"healthy": true}
			if messages, consumers, err := h.queue.GetQueueStats(queue.QueueDownloads); err == nil {
				rmqCheck["downloads_backlog"] = messages
				rmqCheck["downloads_consumers"] = consumers
			}
			checks["rabbitmq"] = rmqCheck
		}
	}

	h.json(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ============== Project operations ==============

func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		http.Error(w, "missing title", http.StatusBadRequest)
		return
	}

	user, err := h.currentUser(ctx, r)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p := &models.Project{
		Title:       req.Title,
		Description: req.Description,
		Status:      "active",
		CreatedBy:   user.ID,
	}
	if err := h.db.CreateProject(ctx, p); err != nil {
		log.Printf("Create project error: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:       "created",
		EntityType: models.EntityProject,
		EntityID:   p.ID,
		UserID:     user.ID,
	})

	h.json(w, http.StatusCreated, p)
}

func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	projects, err := h.db.Projects(r.Context())
	if err != nil {
		log.Printf("List projects error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	h.json(w, http.StatusOK, projects)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	p, err := h.db.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.json(w, http.StatusOK, p)
}

// ============== Episode / Script operations ==============

func (h *Handlers) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	projectID := r.PathValue("id")
	if _, err := h.db.GetProject(ctx, projectID); err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	var req struct {
		Title         string `json:"title"`
		EpisodeNumber int    `json:"episode_number"`
		DurationSecs  int    `json:"duration_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		http.Error(w, "missing title", http.StatusBadRequest)
		return
	}

	e := &models.Episode{
		ProjectID:     projectID,
		Title:         req.Title,
		EpisodeNumber: req.EpisodeNumber,
		DurationSecs:  req.DurationSecs,
		Status:        "draft",
	}
	if err := h.db.CreateEpisode(ctx, e); err != nil {
		log.Printf("Create episode error: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:       "created",
		EntityType: models.EntityEpisode,
		EntityID:   e.ID,
	})

	h.json(w, http.StatusCreated, e)
}

func (h *Handlers) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	episodes, err := h.db.Episodes(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Printf("List episodes error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if episodes == nil {
		episodes = []models.Episode{}
	}
	h.json(w, http.StatusOK, episodes)
}

func (h *Handlers) CreateScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	projectID := r.PathValue("id")
	if _, err := h.db.GetProject(ctx, projectID); err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	var req struct {
		Title   string `json:"title"`
		Version int    `json:"version"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		http.Error(w, "missing title", http.StatusBadRequest)
		return
	}
	if req.Version <= 0 {
		req.Version = 1
	}

	s := &models.Script{
		ProjectID: projectID,
		Title:     req.Title,
		Version:   req.Version,
		Content:   req.Content,
		Status:    "draft",
	}
	if err := h.db.CreateScript(ctx, s); err != nil {
		log.Printf("Create script error: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:       "created",
		EntityType: models.EntityScript,
		EntityID:   s.ID,
	})

	h.json(w, http.StatusCreated, s)
}

func (h *Handlers) ListScripts(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	scripts, err := h.db.Scripts(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Printf("List scripts error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if scripts == nil {
		scripts = []models.Script{}
	}
	h.json(w, http.StatusOK, scripts)
}

// ============== File operations ==============

func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	// Parse multipart form
	if err := r.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	entityType := r.FormValue("entity_type")
	entityID := r.FormValue("entity_id")
	switch entityType {
	case models.EntityProject, models.EntityEpisode, models.EntityScript:
	default:
		http.Error(w, "invalid entity_type", http.StatusBadRequest)
		return
	}
	if entityID == "" {
		http.Error(w, "missing entity_id", http.StatusBadRequest)
		return
	}

	user, err := h.currentUser(ctx, r)
	if err != nil {
		log.Printf("Resolve user error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Use distributed lock to prevent duplicate concurrent uploads
	if h.redis != nil {
		lockKey := "upload:" + header.Filename + ":" + user.ID
		acquired, err := h.redis.AcquireLock(ctx, lockKey, 30*time.Second)
		if err != nil || !acquired {
			http.Error(w, "upload in progress", http.StatusConflict)
			return
		}
		defer h.redis.ReleaseLock(ctx, lockKey)
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0755); err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	storedName := uuid.New().String()
	filePath := filepath.Join(h.cfg.UploadDir, storedName)

	dst, err := os.Create(filePath)
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	// Copy and calculate checksum
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hasher), file)
	if err != nil {
		os.Remove(filePath)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	f := &models.File{
		Filename:     storedName,
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         size,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
		EntityType:   entityType,
		EntityID:     entityID,
		UploadedBy:   user.ID,
		Path:         filePath,
		IsActive:     true,
	}

	if err := h.db.CreateFile(ctx, f); err != nil {
		os.Remove(filePath)
		log.Printf("DB error: %v", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	// Index in Elasticsearch
	if h.search != nil {
		if err := h.search.IndexFile(ctx, f); err != nil {
			log.Printf("ES index error: %v", err)
		}
	}

	// Queue waveform/loudness processing for audio uploads
	if h.queue != nil && strings.HasPrefix(f.ContentType, "audio/") {
		h.queue.PublishAudioJob(ctx, f.ID, f.Path, f.ContentType)
	}

	if h.queue != nil {
		h.queue.PublishNotification(ctx, user.ID, "file uploaded", map[string]interface{}{
			"file_id":       f.ID,
			"original_name": f.OriginalName,
		})
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:       "uploaded",
		EntityType: entityType,
		EntityID:   entityID,
		FileID:     f.ID,
		UserID:     user.ID,
	})

	h.json(w, http.StatusCreated, f)
}

func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, _ := strconv.Atoi(l); v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, _ := strconv.Atoi(o); v > 0 {
			offset = v
		}
	}

	files, err := h.db.ListFiles(r.Context(), limit, offset)
	if err != nil {
		log.Printf("List files error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []models.File{}
	}
	h.json(w, http.StatusOK, files)
}

func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	f, err := h.db.GetFile(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.json(w, http.StatusOK, f)
}

func (h *Handlers) DownloadFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	f, err := h.db.GetFile(ctx, r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	// Anonymous downloads are recorded with the sentinel identity, not a row.
	var user *models.User
	if r.Header.Get("X-User-ID") != "" {
		if user, err = h.currentUser(ctx, r); err != nil {
			log.Printf("Resolve user error: %v", err)
			user = nil
		}
	}

	start := time.Now()
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.OriginalName))
	http.ServeFile(w, r, f.Path)

	// The event append happens after the transfer so logging latency never
	// delays the bytes the client is waiting on.
	ev := models.DownloadEvent{
		FileID:       f.ID,
		Filename:     f.Filename,
		IPAddress:    clientIP(r),
		Size:         f.Size,
		DurationMs:   time.Since(start).Milliseconds(),
		Status:       models.StatusCompleted,
		EntityType:   f.EntityType,
		EntityID:     f.EntityID,
		ReferrerPage: r.Referer(),
	}
	applyUser(&ev, user)
	go h.recordDownload(ev)
}

func (h *Handlers) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.db == nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	f, err := h.db.GetFile(ctx, r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	// Soft delete: the artifact disappears from the catalog but the download
	// audit trail stays.
	if err := h.db.DeactivateFile(ctx, f.ID); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	os.Remove(f.Path)

	if h.search != nil {
		h.search.DeleteFile(ctx, f.ID)
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:       "deleted",
		EntityType: f.EntityType,
		EntityID:   f.EntityID,
		FileID:     f.ID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// ============== Search ==============

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing query parameter 'q'", http.StatusBadRequest)
		return
	}

	if h.search == nil {
		http.Error(w, "search not available", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, _ := strconv.Atoi(l); v > 0 && v <= 100 {
			limit = v
		}
	}

	result, err := h.search.Search(ctx, query, r.URL.Query().Get("entityType"), limit, 0)
	if err != nil {
		log.Printf("Search error: %v", err)
		http.Error(w, "search error", http.StatusInternalServerError)
		return
	}

	h.json(w, http.StatusOK, result)
}

// ============== Helpers ==============

// currentUser resolves the identity headers to a user row (simplified - no
// auth for demo). A missing header maps to the shared anonymous account.
func (h *Handlers) currentUser(ctx context.Context, r *http.Request) (*models.User, error) {
	if h.db == nil {
		return nil, nil
	}
	username := r.Header.Get("X-User-ID")
	if username == "" {
		username = models.AnonymousUserID
	}

	role := r.Header.Get("X-User-Role")
	if role == "" {
		role = "member"
	}
	name := r.Header.Get("X-User-Name")
	if name == "" {
		name = username
	}

	return h.db.GetOrCreateUser(ctx, username, username+"@example.com", name, role)
}

// invalidate drops cached analytics responses on this instance and tells the
// rest of the cluster to do the same.
func (h *Handlers) invalidate(ctx context.Context, event models.CatalogEvent) {
	if h.respCache != nil {
		h.respCache.InvalidatePrefix("analytics:")
	}
	if h.redis != nil {
		if err := h.redis.PublishCatalogEvent(ctx, event); err != nil {
			log.Printf("Publish catalog event error: %v", err)
		}
	}
}

// recordDownload appends the event after the response is on the wire. The
// broker path is preferred; a direct insert covers broker outages.
func (h *Handlers) recordDownload(ev models.DownloadEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if h.queue != nil {
		if err := h.queue.PublishDownloadEvent(ctx, ev); err == nil {
			h.invalidate(ctx, models.CatalogEvent{
				Type:   "downloaded",
				FileID: ev.FileID,
				UserID: ev.UserID,
			})
			return
		} else {
			log.Printf("Queue download event error, inserting directly: %v", err)
		}
	}

	if h.db != nil {
		if err := h.db.InsertDownloadEvent(ctx, &ev); err != nil {
			log.Printf("Insert download event error: %v", err)
			return
		}
	}

	h.invalidate(ctx, models.CatalogEvent{
		Type:   "downloaded",
		FileID: ev.FileID,
		UserID: ev.UserID,
	})
}

func (h *Handlers) json(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.Split(fwd, ",")[0]
	}
	return r.RemoteAddr
}

func applyUser(ev *models.DownloadEvent, user *models.User) {
	if user == nil {
		ev.UserID = models.AnonymousUserID
		return
	}
	ev.UserID = user.ID
	ev.UserEmail = user.Email
	ev.UserName = user.Name
	ev.UserRole = user.Role
}
