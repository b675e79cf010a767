package models

import (
	"time"
)

// Entity types a file can belong to.
const (
	EntityProject = "project"
	EntityEpisode = "episode"
	EntityScript  = "script"
)

// Download event statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPartial   = "partial"
)

// AnonymousUserID is the sentinel recorded for downloads with no identity.
const AnonymousUserID = "anonymous"

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is a radio production (a show or season of work).
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Episode belongs to a project.
type Episode struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Title         string    `json:"title"`
	EpisodeNumber int       `json:"episode_number"`
	DurationSecs  int       `json:"duration_seconds,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Script belongs to a project.
type Script struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Version   int       `json:"version"`
	Content   string    `json:"content,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// File is a stored artifact owned by a project, episode, or script.
// DownloadCount and LastAccessedAt are advisory denormalizations of the
// download_events table and may lag the true values.
type File struct {
	ID             string     `json:"id"`
	Filename       string     `json:"filename"`
	OriginalName   string     `json:"original_name"`
	ContentType    string     `json:"content_type"`
	Size           int64      `json:"size"`
	Checksum       string     `json:"checksum"`
	EntityType     string     `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	UploadedBy     string     `json:"uploaded_by"`
	Path           string     `json:"-"` // Internal path, not exposed
	DownloadCount  int64      `json:"download_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DownloadEvent is one logged attempt to retrieve a file. Rows are
// append-only: written once, never updated.
type DownloadEvent struct {
	ID           string    `json:"id"`
	FileID       string    `json:"fileId"`
	Filename     string    `json:"filename"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail"`
	UserName     string    `json:"userName"`
	UserRole     string    `json:"userRole"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	Size         int64     `json:"downloadSize"`
	DurationMs   int64     `json:"downloadDuration"`
	Status       string    `json:"status"`
	EntityType   string    `json:"entityType"`
	EntityID     string    `json:"entityId"`
	ReferrerPage string    `json:"referrerPage,omitempty"`
	CreatedAt    time.Time `json:"downloadedAt"`
}

// TrackRequest is the body of the manual tracking endpoint. Size defaults
// to the file's recorded size, status to "completed".
type TrackRequest struct {
	FileID     string `json:"fileId"`
	Size       *int64 `json:"downloadSize,omitempty"`
	DurationMs *int64 `json:"downloadDuration,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ============== Analytics report shapes ==============
//
// Field names here are part of the dashboard contract; every field is always
// present so charts never branch on missing keys.

// Overview is the top-level dashboard report.
type Overview struct {
	Timeframe         string        `json:"timeframe"`
	TotalDownloads    int64         `json:"totalDownloads"`
	UniqueDownloaders int64         `json:"uniqueDownloaders"`
	TotalBytes        int64         `json:"totalDataDownloaded"`
	PopularFiles      []PopularFile `json:"popularFiles"`
	DownloadsByDay    []DayCount    `json:"downloadsByDay"`
	DownloadsByType   []TypeCount   `json:"downloadsByType"`
	DownloadsByHour   []HourCount   `json:"downloadsByHour"` // always 24 entries
}

// PopularFile is one row of the top-downloads ranking.
type PopularFile struct {
	FileID        string `json:"fileId"`
	Filename      string `json:"filename"`
	OriginalName  string `json:"originalName"`
	EntityType    string `json:"entityType"`
	DownloadCount int64  `json:"downloadCount"`
	TotalBytes    int64  `json:"totalSize"`
}

// DayCount is one day of download activity.
type DayCount struct {
	Date        string `json:"date"` // YYYY-MM-DD
	Count       int64  `json:"count"`
	UniqueUsers int64  `json:"uniqueUsers"`
	TotalBytes  int64  `json:"totalSize"`
}

// TypeCount groups downloads by owning entity type.
type TypeCount struct {
	EntityType string `json:"entityType"`
	Count      int64  `json:"count"`
	TotalBytes int64  `json:"totalSize"`
}

// HourCount is one hour (0-23) of the fixed-length hour series.
type HourCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// UserDownloads is one row of the per-user report.
type UserDownloads struct {
	UserID        string     `json:"userId"`
	UserEmail     string     `json:"userEmail"`
	UserName      string     `json:"userName"`
	UserRole      string     `json:"userRole"`
	DownloadCount int64      `json:"downloadCount"`
	TotalBytes    int64      `json:"totalSize"`
	LastDownload  *time.Time `json:"lastDownload"`
}

// FileStat is one row of the per-file report.
type FileStat struct {
	FileID            string     `json:"fileId"`
	Filename          string     `json:"filename"`
	OriginalName      string     `json:"originalName"`
	EntityType        string     `json:"entityType"`
	DownloadCount     int64      `json:"downloadCount"`
	TotalBytes        int64      `json:"totalDataDownloaded"`
	UniqueDownloaders int64      `json:"uniqueDownloaders"`
	LastDownload      *time.Time `json:"lastDownload"`
}

// Rollup summarizes descendant files' downloads at the project, episode, or
// script level.
type Rollup struct {
	ID                string     `json:"id"`
	Title             string     `json:"name"`
	DownloadCount     int64      `json:"downloadCount"`
	TotalBytes        int64      `json:"totalDataDownloaded"`
	UniqueDownloaders int64      `json:"uniqueDownloaders"`
	FileCount         int64      `json:"fileCount"`
	LastDownload      *time.Time `json:"lastDownload"`
}

// Pagination describes the slice of a paginated report.
type Pagination struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"hasMore"`
}

// LogsPage is the paginated download-log report.
type LogsPage struct {
	Logs       []DownloadEvent `json:"logs"`
	Pagination Pagination      `json:"pagination"`
}

// FileStatsPage is the paginated per-file report.
type FileStatsPage struct {
	Files      []FileStat `json:"files"`
	Pagination Pagination `json:"pagination"`
}

// CatalogEvent is broadcast over Redis pub/sub so every instance can drop
// its cached analytics responses after a write.
type CatalogEvent struct {
	Type       string    `json:"type"` // created, uploaded, downloaded, tracked
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	FileID     string    `json:"file_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Job represents a background job for RabbitMQ
type Job struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // log_download, process_audio, notify
	FileID    string                 `json:"file_id,omitempty"`
	Event     *DownloadEvent         `json:"event,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SearchResult represents an Elasticsearch search result
type SearchResult struct {
	Files  []File `json:"files"`
	Total  int64  `json:"total"`
	TookMs int64  `json:"took_ms"`
	Query  string `json:"query"`
}
