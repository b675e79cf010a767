package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alexprut/radiocms/internal/models"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &PostgresDB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func (db *PostgresDB) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username VARCHAR(255) UNIQUE NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(64) NOT NULL DEFAULT 'member',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status VARCHAR(64) NOT NULL DEFAULT 'active',
		created_by UUID NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS episodes (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title VARCHAR(255) NOT NULL,
		episode_number INT NOT NULL DEFAULT 0,
		duration_seconds INT NOT NULL DEFAULT 0,
		status VARCHAR(64) NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS scripts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title VARCHAR(255) NOT NULL,
		version INT NOT NULL DEFAULT 1,
		content TEXT NOT NULL DEFAULT '',
		status VARCHAR(64) NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS files (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		filename VARCHAR(512) NOT NULL,
		original_name VARCHAR(512) NOT NULL,
		content_type VARCHAR(255) NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		checksum VARCHAR(64) NOT NULL DEFAULT '',
		entity_type VARCHAR(32) NOT NULL,
		entity_id UUID NOT NULL,
		uploaded_by UUID NOT NULL,
		path VARCHAR(1024) NOT NULL,
		download_count BIGINT NOT NULL DEFAULT 0,
		last_accessed_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS download_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		file_id UUID NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		user_id VARCHAR(64) NOT NULL DEFAULT 'anonymous',
		user_email VARCHAR(255) NOT NULL DEFAULT '',
		user_name VARCHAR(255) NOT NULL DEFAULT '',
		user_role VARCHAR(64) NOT NULL DEFAULT '',
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		download_size BIGINT NOT NULL DEFAULT 0,
		download_duration_ms BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT 'completed',
		entity_type VARCHAR(32) NOT NULL,
		entity_id UUID NOT NULL,
		referrer_page VARCHAR(512) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_project ON episodes(project_id);
	CREATE INDEX IF NOT EXISTS idx_scripts_project ON scripts(project_id);
	CREATE INDEX IF NOT EXISTS idx_files_entity ON files(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_events_created ON download_events(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_file ON download_events(file_id);
	CREATE INDEX IF NOT EXISTS idx_events_user ON download_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_events_entity ON download_events(entity_type, entity_id);
	`

	_, err := db.pool.Exec(ctx, schema)
	return err
}

func (db *PostgresDB) Close() {
	db.pool.Close()
}

func (db *PostgresDB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Connected is the availability probe the analytics engine checks before
// running a report.
func (db *PostgresDB) Connected(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// ============== User operations ==============

// GetOrCreateUser resolves the request identity headers to a user row.
func (db *PostgresDB) GetOrCreateUser(ctx context.Context, username, email, name, role string) (*models.User, error) {
	query := `SELECT id, username, email, name, role, created_at FROM users WHERE username = $1`
	var u models.User
	err := db.pool.QueryRow(ctx, query, username).Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err == nil {
		return &u, nil
	}

	insertQuery := `INSERT INTO users (username, email, name, role) VALUES ($1, $2, $3, $4)
	                RETURNING id, username, email, name, role, created_at`
	err = db.pool.QueryRow(ctx, insertQuery, username, email, name, role).Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	return &u, err
}

// ============== Project operations ==============

func (db *PostgresDB) CreateProject(ctx context.Context, p *models.Project) error {
	query := `INSERT INTO projects (title, description, status, created_by)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id, created_at, updated_at`
	return db.pool.QueryRow(ctx, query, p.Title, p.Description, p.Status, p.CreatedBy).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (db *PostgresDB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT id, title, description, status, created_by, created_at, updated_at
	          FROM projects WHERE id = $1`
	var p models.Project
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *PostgresDB) Projects(ctx context.Context) ([]models.Project, error) {
	query := `SELECT id, title, description, status, created_by, created_at, updated_at
	          FROM projects ORDER BY created_at DESC`
	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ============== Episode operations ==============

func (db *PostgresDB) CreateEpisode(ctx context.Context, e *models.Episode) error {
	query := `INSERT INTO episodes (project_id, title, episode_number, duration_seconds, status)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, created_at, updated_at`
	return db.pool.QueryRow(ctx, query, e.ProjectID, e.Title, e.EpisodeNumber, e.DurationSecs, e.Status).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Episodes lists episodes, scoped to a project when projectID is non-empty.
func (db *PostgresDB) Episodes(ctx context.Context, projectID string) ([]models.Episode, error) {
	query := `SELECT id, project_id, title, episode_number, duration_seconds, status, created_at, updated_at
	          FROM episodes`
	var args []interface{}
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` ORDER BY episode_number, created_at`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []models.Episode
	for rows.Next() {
		var e models.Episode
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Title, &e.EpisodeNumber, &e.DurationSecs, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

// ============== Script operations ==============

func (db *PostgresDB) CreateScript(ctx context.Context, s *models.Script) error {
	query := `INSERT INTO scripts (project_id, title, version, content, status)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, created_at, updated_at`
	return db.pool.QueryRow(ctx, query, s.ProjectID, s.Title, s.Version, s.Content, s.Status).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// Scripts lists scripts, scoped to a project when projectID is non-empty.
func (db *PostgresDB) Scripts(ctx context.Context, projectID string) ([]models.Script, error) {
	query := `SELECT id, project_id, title, version, content, status, created_at, updated_at
	          FROM scripts`
	var args []interface{}
	if projectID != "" {
		query += ` WHERE project_id = $1`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []models.Script
	for rows.Next() {
		var s models.Script
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Title, &s.Version, &s.Content, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, rows.Err()
}

// ============== File operations ==============

const fileColumns = `id, filename, original_name, content_type, size_bytes, checksum,
	entity_type, entity_id, uploaded_by, path, download_count, last_accessed_at,
	is_active, created_at, updated_at`

func scanFile(row interface{ Scan(...interface{}) error }) (*models.File, error) {
	var f models.File
	err := row.Scan(&f.ID, &f.Filename, &f.OriginalName, &f.ContentType, &f.Size, &f.Checksum,
		&f.EntityType, &f.EntityID, &f.UploadedBy, &f.Path, &f.DownloadCount, &f.LastAccessedAt,
		&f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (db *PostgresDB) CreateFile(ctx context.Context, f *models.File) error {
	query := `INSERT INTO files (filename, original_name, content_type, size_bytes, checksum,
	                             entity_type, entity_id, uploaded_by, path)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id, created_at, updated_at`
	return db.pool.QueryRow(ctx, query, f.Filename, f.OriginalName, f.ContentType, f.Size,
		f.Checksum, f.EntityType, f.EntityID, f.UploadedBy, f.Path).
		Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (db *PostgresDB) GetFile(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND is_active`
	return scanFile(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) ListFiles(ctx context.Context, limit, offset int) ([]models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE is_active
	          ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := db.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// DeactivateFile soft-deletes; the event audit trail stays intact.
func (db *PostgresDB) DeactivateFile(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx, `UPDATE files SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ============== Download event log ==============

// InsertDownloadEvent appends one row to the audit trail and refreshes the
// file's advisory counters. The counters may lag; the analytics engine
// recomputes from events when exactness matters.
func (db *PostgresDB) InsertDownloadEvent(ctx context.Context, ev *models.DownloadEvent) error {
	query := `INSERT INTO download_events (file_id, user_id, user_email, user_name, user_role,
	                                       ip_address, download_size, download_duration_ms, status,
	                                       entity_type, entity_id, referrer_page)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          RETURNING id, created_at`
	if err := db.pool.QueryRow(ctx, query, ev.FileID, ev.UserID, ev.UserEmail, ev.UserName,
		ev.UserRole, ev.IPAddress, ev.Size, ev.DurationMs, ev.Status,
		ev.EntityType, ev.EntityID, ev.ReferrerPage).Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return err
	}

	_, err := db.pool.Exec(ctx,
		`UPDATE files SET download_count = download_count + 1, last_accessed_at = NOW() WHERE id = $1`,
		ev.FileID)
	return err
}
