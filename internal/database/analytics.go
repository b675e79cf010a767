package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alexprut/radiocms/internal/analytics"
	"github.com/alexprut/radiocms/internal/models"
)

// Aggregation queries backing the analytics engine. PostgresDB implements
// analytics.Store; grouping and summing happen in SQL, shaping (hour series
// zero-fill, rollup user dedup, pagination math) happens in the engine.

func (db *PostgresDB) CountDownloads(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM download_events WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (db *PostgresDB) UniqueDownloaders(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM download_events WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (db *PostgresDB) TotalBytes(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(download_size), 0) FROM download_events WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (db *PostgresDB) DownloadsByDay(ctx context.Context, since time.Time) ([]models.DayCount, error) {
	query := `SELECT to_char(created_at, 'YYYY-MM-DD') AS day,
	                 COUNT(*),
	                 COUNT(DISTINCT user_id),
	                 COALESCE(SUM(download_size), 0)
	          FROM download_events
	          WHERE created_at >= $1
	          GROUP BY day
	          ORDER BY day`
	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.DayCount
	for rows.Next() {
		var d models.DayCount
		if err := rows.Scan(&d.Date, &d.Count, &d.UniqueUsers, &d.TotalBytes); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (db *PostgresDB) DownloadsByHour(ctx context.Context, since time.Time) ([]models.HourCount, error) {
	query := `SELECT EXTRACT(HOUR FROM created_at)::int AS hour, COUNT(*)
	          FROM download_events
	          WHERE created_at >= $1
	          GROUP BY hour
	          ORDER BY hour`
	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []models.HourCount
	for rows.Next() {
		var h models.HourCount
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, err
		}
		hours = append(hours, h)
	}
	return hours, rows.Err()
}

func (db *PostgresDB) DownloadsByType(ctx context.Context, since time.Time) ([]models.TypeCount, error) {
	query := `SELECT entity_type, COUNT(*), COALESCE(SUM(download_size), 0)
	          FROM download_events
	          WHERE created_at >= $1
	          GROUP BY entity_type
	          ORDER BY COUNT(*) DESC, entity_type`
	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []models.TypeCount
	for rows.Next() {
		var t models.TypeCount
		if err := rows.Scan(&t.EntityType, &t.Count, &t.TotalBytes); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (db *PostgresDB) PopularFiles(ctx context.Context, since time.Time, limit int) ([]models.PopularFile, error) {
	query := `SELECT f.id, f.filename, f.original_name, f.entity_type,
	                 COUNT(e.id), COALESCE(SUM(e.download_size), 0)
	          FROM download_events e
	          JOIN files f ON f.id = e.file_id
	          WHERE e.created_at >= $1
	          GROUP BY f.id, f.filename, f.original_name, f.entity_type
	          ORDER BY COUNT(e.id) DESC, f.id
	          LIMIT $2`
	rows, err := db.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.PopularFile
	for rows.Next() {
		var f models.PopularFile
		if err := rows.Scan(&f.FileID, &f.Filename, &f.OriginalName, &f.EntityType, &f.DownloadCount, &f.TotalBytes); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (db *PostgresDB) UserDownloads(ctx context.Context, since time.Time) ([]models.UserDownloads, error) {
	// The identity columns are denormalized snapshots; MAX picks the most
	// recent lexical value, which is stable enough for a report row.
	query := `SELECT user_id, MAX(user_email), MAX(user_name), MAX(user_role),
	                 COUNT(*), COALESCE(SUM(download_size), 0), MAX(created_at)
	          FROM download_events
	          WHERE created_at >= $1
	          GROUP BY user_id
	          ORDER BY COUNT(*) DESC, user_id`
	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.UserDownloads
	for rows.Next() {
		var u models.UserDownloads
		if err := rows.Scan(&u.UserID, &u.UserEmail, &u.UserName, &u.UserRole,
			&u.DownloadCount, &u.TotalBytes, &u.LastDownload); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PostgresDB) DownloadLogs(ctx context.Context, f analytics.LogFilter) ([]models.DownloadEvent, int64, error) {
	where := []string{"e.created_at >= $1"}
	args := []interface{}{f.Since}

	add := func(clause, value string) {
		if value != "" {
			args = append(args, value)
			where = append(where, fmt.Sprintf(clause, len(args)))
		}
	}
	add("e.file_id = $%d", f.FileID)
	add("e.user_id = $%d", f.UserID)
	add("e.status = $%d", f.Status)
	add("e.entity_type = $%d", f.EntityType)

	cond := strings.Join(where, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM download_events e WHERE ` + cond
	if err := db.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT e.id, e.file_id, COALESCE(fl.filename, ''), e.user_id, e.user_email,
	                             e.user_name, e.user_role, e.ip_address, e.download_size,
	                             e.download_duration_ms, e.status, e.entity_type, e.entity_id,
	                             e.referrer_page, e.created_at
	                      FROM download_events e
	                      LEFT JOIN files fl ON fl.id = e.file_id
	                      WHERE %s
	                      ORDER BY e.created_at DESC, e.id
	                      LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []models.DownloadEvent
	for rows.Next() {
		var ev models.DownloadEvent
		if err := rows.Scan(&ev.ID, &ev.FileID, &ev.Filename, &ev.UserID, &ev.UserEmail,
			&ev.UserName, &ev.UserRole, &ev.IPAddress, &ev.Size, &ev.DurationMs,
			&ev.Status, &ev.EntityType, &ev.EntityID, &ev.ReferrerPage, &ev.CreatedAt); err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// fileStatsCond renders the files-table filters with placeholders starting
// at startIdx, so the same condition works for both the count query (no
// window bound) and the stats query (window bound at $1).
func fileStatsCond(f analytics.FileStatsFilter, startIdx int) (string, []interface{}) {
	where := []string{"f.is_active"}
	var args []interface{}

	if f.EntityType != "" {
		args = append(args, f.EntityType)
		where = append(where, fmt.Sprintf("f.entity_type = $%d", startIdx+len(args)-1))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		idx := startIdx + len(args) - 1
		where = append(where, fmt.Sprintf("(f.filename ILIKE $%d OR f.original_name ILIKE $%d)", idx, idx))
	}
	return strings.Join(where, " AND "), args
}

func (db *PostgresDB) FileStats(ctx context.Context, f analytics.FileStatsFilter) ([]models.FileStat, int64, error) {
	var total int64
	countCond, countArgs := fileStatsCond(f, 1)
	countQuery := `SELECT COUNT(*) FROM files f WHERE ` + countCond
	if err := db.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	cond, condArgs := fileStatsCond(f, 2)
	args := append([]interface{}{f.Since}, condArgs...)

	query := fmt.Sprintf(`SELECT f.id, f.filename, f.original_name, f.entity_type,
	                             COUNT(e.id), COALESCE(SUM(e.download_size), 0),
	                             COUNT(DISTINCT e.user_id), MAX(e.created_at)
	                      FROM files f
	                      LEFT JOIN download_events e ON e.file_id = f.id AND e.created_at >= $1
	                      WHERE %s
	                      GROUP BY f.id, f.filename, f.original_name, f.entity_type
	                      ORDER BY COUNT(e.id) DESC, f.id
	                      LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var stats []models.FileStat
	for rows.Next() {
		var s models.FileStat
		if err := rows.Scan(&s.FileID, &s.Filename, &s.OriginalName, &s.EntityType,
			&s.DownloadCount, &s.TotalBytes, &s.UniqueDownloaders, &s.LastDownload); err != nil {
			return nil, 0, err
		}
		stats = append(stats, s)
	}
	return stats, total, rows.Err()
}

func (db *PostgresDB) EntityDownloads(ctx context.Context, refs []analytics.EntityRef, since time.Time) ([]analytics.RollupEvent, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.Type + ":" + ref.ID
	}

	query := `SELECT user_id, file_id, download_size, created_at
	          FROM download_events
	          WHERE created_at >= $1
	            AND entity_type || ':' || entity_id::text = ANY($2)`
	rows, err := db.pool.Query(ctx, query, since, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []analytics.RollupEvent
	for rows.Next() {
		var ev analytics.RollupEvent
		if err := rows.Scan(&ev.UserID, &ev.FileID, &ev.Size, &ev.At); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (db *PostgresDB) CountFiles(ctx context.Context, refs []analytics.EntityRef) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.Type + ":" + ref.ID
	}

	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM files WHERE is_active AND entity_type || ':' || entity_id::text = ANY($1)`,
		keys).Scan(&n)
	return n, err
}
