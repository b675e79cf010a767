package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/alexprut/radiocms/internal/cache"
	"github.com/alexprut/radiocms/internal/models"
)

const (
	defaultLogsLimit  = 50
	maxLogsLimit      = 200
	defaultFilesLimit = 20
	maxFilesLimit     = 100
	popularFilesLimit = 10
)

// Engine computes every analytics report. All reports are read-only and
// idempotent: same inputs plus an unchanged event log give the same output.
// A nil or unreachable store degrades each report to its zero-value shape;
// errors never propagate past the report boundary.
type Engine struct {
	store Store
	cache cache.ResponseCache

	now func() time.Time // test hook
}

// NewEngine wires the engine to its store and response cache. Either may be
// nil: a nil store means permanent degraded mode, a nil cache disables
// memoization.
func NewEngine(store Store, rc cache.ResponseCache) *Engine {
	return &Engine{store: store, cache: rc, now: time.Now}
}

// available reports whether the store can be queried right now.
func (e *Engine) available(ctx context.Context) bool {
	if e.store == nil {
		return false
	}
	if err := e.store.Connected(ctx); err != nil {
		log.Printf("analytics: store unreachable, serving zero shapes: %v", err)
		return false
	}
	return true
}

func (e *Engine) cacheGet(key string) (interface{}, bool) {
	if e.cache == nil {
		return nil, false
	}
	return e.cache.Get(key)
}

func (e *Engine) cacheSet(key string, value interface{}) {
	if e.cache != nil {
		e.cache.Set(key, value)
	}
}

// ============== Overview ==============

// Overview is the top-level dashboard report: window scalars, the top-10
// file ranking, and the by-day / by-type / by-hour series.
func (e *Engine) Overview(ctx context.Context, rawTimeframe string) models.Overview {
	tf := ParseTimeframe(rawTimeframe, Timeframe7d)
	key := "analytics:overview:" + tf.String()
	if v, ok := e.cacheGet(key); ok {
		if o, ok := v.(models.Overview); ok {
			return o
		}
	}

	o := e.computeOverview(ctx, tf)
	e.cacheSet(key, o)
	return o
}

func (e *Engine) computeOverview(ctx context.Context, tf Timeframe) models.Overview {
	o := zeroOverview(tf)
	if !e.available(ctx) {
		return o
	}

	since := tf.Start(e.now())

	// The sub-metrics are independent, so they run concurrently. Each one
	// fails on its own: an error leaves its field at the zero value and never
	// takes down the rest of the report.
	var wg sync.WaitGroup
	run := func(metric string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Printf("analytics: overview %s (%s): %v", metric, tf, err)
			}
		}()
	}

	run("totalDownloads", func() error {
		n, err := e.store.CountDownloads(ctx, since)
		if err != nil {
			return err
		}
		o.TotalDownloads = n
		return nil
	})
	run("uniqueDownloaders", func() error {
		n, err := e.store.UniqueDownloaders(ctx, since)
		if err != nil {
			return err
		}
		o.UniqueDownloaders = n
		return nil
	})
	run("totalDataDownloaded", func() error {
		n, err := e.store.TotalBytes(ctx, since)
		if err != nil {
			return err
		}
		o.TotalBytes = n
		return nil
	})
	run("popularFiles", func() error {
		rows, err := e.store.PopularFiles(ctx, since, popularFilesLimit)
		if err != nil {
			return err
		}
		if rows != nil {
			o.PopularFiles = rows
		}
		return nil
	})
	run("downloadsByDay", func() error {
		rows, err := e.store.DownloadsByDay(ctx, since)
		if err != nil {
			return err
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
		if rows != nil {
			o.DownloadsByDay = rows
		}
		return nil
	})
	run("downloadsByType", func() error {
		rows, err := e.store.DownloadsByType(ctx, since)
		if err != nil {
			return err
		}
		if rows != nil {
			o.DownloadsByType = rows
		}
		return nil
	})
	run("downloadsByHour", func() error {
		rows, err := e.store.DownloadsByHour(ctx, since)
		if err != nil {
			return err
		}
		// The store may return a sparse series; charts need all 24 hours.
		for _, row := range rows {
			if row.Hour >= 0 && row.Hour < 24 {
				o.DownloadsByHour[row.Hour].Count = row.Count
			}
		}
		return nil
	})

	wg.Wait()
	return o
}

// ============== User downloads ==============

// Users reports per-user download activity, busiest users first.
func (e *Engine) Users(ctx context.Context, rawTimeframe string) []models.UserDownloads {
	tf := ParseTimeframe(rawTimeframe, Timeframe7d)
	key := "analytics:users:" + tf.String()
	if v, ok := e.cacheGet(key); ok {
		if rows, ok := v.([]models.UserDownloads); ok {
			return rows
		}
	}

	rows := zeroUsers()
	if e.available(ctx) {
		got, err := e.store.UserDownloads(ctx, tf.Start(e.now()))
		if err != nil {
			log.Printf("analytics: users (%s): %v", tf, err)
		} else if got != nil {
			sort.SliceStable(got, func(i, j int) bool {
				if got[i].DownloadCount != got[j].DownloadCount {
					return got[i].DownloadCount > got[j].DownloadCount
				}
				return got[i].UserID < got[j].UserID
			})
			rows = got
		}
	}

	e.cacheSet(key, rows)
	return rows
}

// ============== Download logs ==============

// LogsParams scopes the flat event-log report.
type LogsParams struct {
	Timeframe  string
	FileID     string
	UserID     string
	Status     string
	EntityType string
	Page       int
	Limit      int
}

// Logs returns per-event detail, newest first, paginated.
func (e *Engine) Logs(ctx context.Context, p LogsParams) models.LogsPage {
	tf := ParseTimeframe(p.Timeframe, Timeframe7d)
	page, limit := normalizePage(p.Page, p.Limit, defaultLogsLimit, maxLogsLimit)

	key := fmt.Sprintf("analytics:logs:%s:%s:%s:%s:%s:%d:%d",
		tf, p.FileID, p.UserID, p.Status, p.EntityType, page, limit)
	if v, ok := e.cacheGet(key); ok {
		if lp, ok := v.(models.LogsPage); ok {
			return lp
		}
	}

	result := zeroLogs(page, limit)
	if e.available(ctx) {
		offset := (page - 1) * limit
		rows, total, err := e.store.DownloadLogs(ctx, LogFilter{
			Since:      tf.Start(e.now()),
			FileID:     p.FileID,
			UserID:     p.UserID,
			Status:     p.Status,
			EntityType: p.EntityType,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			log.Printf("analytics: logs (%s): %v", tf, err)
		} else {
			if rows != nil {
				result.Logs = rows
			}
			result.Pagination = paginate(page, limit, offset, len(rows), total)
		}
	}

	e.cacheSet(key, result)
	return result
}

// ============== File stats ==============

// FilesParams scopes the per-file report.
type FilesParams struct {
	Timeframe  string
	EntityType string
	Search     string
	Page       int
	Limit      int
}

// Files reports per-file download totals, most downloaded first, paginated.
func (e *Engine) Files(ctx context.Context, p FilesParams) models.FileStatsPage {
	tf := ParseTimeframe(p.Timeframe, Timeframe30d)
	page, limit := normalizePage(p.Page, p.Limit, defaultFilesLimit, maxFilesLimit)

	key := fmt.Sprintf("analytics:files:%s:%s:%s:%d:%d", tf, p.EntityType, p.Search, page, limit)
	if v, ok := e.cacheGet(key); ok {
		if fp, ok := v.(models.FileStatsPage); ok {
			return fp
		}
	}

	result := zeroFileStats(page, limit)
	if e.available(ctx) {
		offset := (page - 1) * limit
		rows, total, err := e.store.FileStats(ctx, FileStatsFilter{
			Since:      tf.Start(e.now()),
			EntityType: p.EntityType,
			Search:     p.Search,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			log.Printf("analytics: files (%s): %v", tf, err)
		} else {
			if rows != nil {
				result.Files = rows
			}
			result.Pagination = paginate(page, limit, offset, len(rows), total)
		}
	}

	e.cacheSet(key, result)
	return result
}

// ============== Helpers ==============

func normalizePage(page, limit, def, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return page, limit
}

func paginate(page, limit, offset, returned int, total int64) models.Pagination {
	return models.Pagination{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: int64(offset+returned) < total,
	}
}
