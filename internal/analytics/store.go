package analytics

import (
	"context"
	"time"

	"github.com/alexprut/radiocms/internal/models"
)

// EntityRef identifies one owner of files in the catalog hierarchy.
type EntityRef struct {
	Type string
	ID   string
}

// RollupEvent is the minimal projection of a download event the engine needs
// to aggregate entity rollups: who, how much, which file, when.
type RollupEvent struct {
	UserID string
	FileID string
	Size   int64
	At     time.Time
}

// LogFilter scopes the flat download-log report.
type LogFilter struct {
	Since      time.Time
	FileID     string
	UserID     string
	Status     string
	EntityType string
	Limit      int
	Offset     int
}

// FileStatsFilter scopes the per-file report.
type FileStatsFilter struct {
	Since      time.Time
	EntityType string
	Search     string
	Limit      int
	Offset     int
}

// Store is the read surface the engine aggregates over: the append-only
// download-event log plus the entity catalog. The engine treats it as an
// external system of record; every method error degrades to a zero-value
// result rather than reaching the caller.
type Store interface {
	// Connected probes store availability. A non-nil error puts the engine
	// in degraded mode for the current report.
	Connected(ctx context.Context) error

	CountDownloads(ctx context.Context, since time.Time) (int64, error)
	UniqueDownloaders(ctx context.Context, since time.Time) (int64, error)
	TotalBytes(ctx context.Context, since time.Time) (int64, error)
	DownloadsByDay(ctx context.Context, since time.Time) ([]models.DayCount, error)
	// DownloadsByHour may be sparse; the engine zero-fills to 24 entries.
	DownloadsByHour(ctx context.Context, since time.Time) ([]models.HourCount, error)
	DownloadsByType(ctx context.Context, since time.Time) ([]models.TypeCount, error)
	PopularFiles(ctx context.Context, since time.Time, limit int) ([]models.PopularFile, error)

	UserDownloads(ctx context.Context, since time.Time) ([]models.UserDownloads, error)
	DownloadLogs(ctx context.Context, f LogFilter) ([]models.DownloadEvent, int64, error)
	FileStats(ctx context.Context, f FileStatsFilter) ([]models.FileStat, int64, error)

	// Catalog reads for rollup traversal. An empty projectID means all.
	Projects(ctx context.Context) ([]models.Project, error)
	Episodes(ctx context.Context, projectID string) ([]models.Episode, error)
	Scripts(ctx context.Context, projectID string) ([]models.Script, error)

	// EntityDownloads returns every event in the window whose file is owned
	// by any of the given refs. Each event appears exactly once regardless of
	// how many refs are passed.
	EntityDownloads(ctx context.Context, refs []EntityRef, since time.Time) ([]RollupEvent, error)
	CountFiles(ctx context.Context, refs []EntityRef) (int64, error)
}
