package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alexprut/radiocms/internal/analytics"
	"github.com/alexprut/radiocms/internal/models"
)

// Integration tests. They need a real PostgreSQL and run the migrations on
// it; set TEST_DATABASE_URL to enable them.

func testDB(t *testing.T) *PostgresDB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := NewPostgresDB(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// seedProject creates a user-owned project so foreign keys line up.
func seedProject(t *testing.T, db *PostgresDB) (*models.User, *models.Project) {
	t.Helper()
	ctx := context.Background()

	username := uniqueName("tester")
	user, err := db.GetOrCreateUser(ctx, username, username+"@radio.test", "Tester", "member")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	p := &models.Project{Title: uniqueName("show"), Status: "active", CreatedBy: user.ID}
	if err := db.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return user, p
}

func seedFile(t *testing.T, db *PostgresDB, user *models.User, entityType, entityID string) *models.File {
	t.Helper()
	f := &models.File{
		Filename:     uniqueName("stored"),
		OriginalName: uniqueName("take") + ".mp3",
		ContentType:  "audio/mpeg",
		Size:         1024,
		EntityType:   entityType,
		EntityID:     entityID,
		UploadedBy:   user.ID,
		Path:         "/tmp/" + uniqueName("blob"),
	}
	if err := db.CreateFile(context.Background(), f); err != nil {
		t.Fatalf("create file: %v", err)
	}
	return f
}

func TestGetOrCreateUserIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	username := uniqueName("alice")
	first, err := db.GetOrCreateUser(ctx, username, username+"@radio.test", "Alice", "producer")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := db.GetOrCreateUser(ctx, username, "other@radio.test", "Other", "member")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if second.Role != "producer" {
		t.Errorf("second call must return the existing row, got role %q", second.Role)
	}
}

func TestProjectHierarchy(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, p := seedProject(t, db)

	e := &models.Episode{ProjectID: p.ID, Title: "Pilot", EpisodeNumber: 1, Status: "draft"}
	if err := db.CreateEpisode(ctx, e); err != nil {
		t.Fatalf("create episode: %v", err)
	}
	s := &models.Script{ProjectID: p.ID, Title: "Pilot Script", Version: 1, Status: "draft"}
	if err := db.CreateScript(ctx, s); err != nil {
		t.Fatalf("create script: %v", err)
	}

	got, err := db.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Title != p.Title {
		t.Errorf("title = %q, want %q", got.Title, p.Title)
	}

	episodes, err := db.Episodes(ctx, p.ID)
	if err != nil || len(episodes) != 1 || episodes[0].ID != e.ID {
		t.Errorf("Episodes(%s) = %v, %v; want the one created", p.ID, episodes, err)
	}
	scripts, err := db.Scripts(ctx, p.ID)
	if err != nil || len(scripts) != 1 || scripts[0].ID != s.ID {
		t.Errorf("Scripts(%s) = %v, %v; want the one created", p.ID, scripts, err)
	}
}

func TestFileLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user, p := seedProject(t, db)
	f := seedFile(t, db, user, models.EntityProject, p.ID)

	got, err := db.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got.Size != 1024 || !got.IsActive {
		t.Errorf("file = %+v", got)
	}

	if err := db.DeactivateFile(ctx, f.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := db.GetFile(ctx, f.ID); err == nil {
		t.Error("deactivated file must not be fetchable")
	}
}

func TestDownloadEventAggregates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user, p := seedProject(t, db)

	e := &models.Episode{ProjectID: p.ID, Title: "Pilot", EpisodeNumber: 1, Status: "draft"}
	if err := db.CreateEpisode(ctx, e); err != nil {
		t.Fatalf("create episode: %v", err)
	}
	epFile := seedFile(t, db, user, models.EntityEpisode, e.ID)
	projFile := seedFile(t, db, user, models.EntityProject, p.ID)

	insert := func(fileID, entityType, entityID, userID string, size int64) {
		t.Helper()
		ev := &models.DownloadEvent{
			FileID:     fileID,
			UserID:     userID,
			Status:     models.StatusCompleted,
			EntityType: entityType,
			EntityID:   entityID,
			Size:       size,
		}
		if err := db.InsertDownloadEvent(ctx, ev); err != nil {
			t.Fatalf("insert event: %v", err)
		}
		if ev.ID == "" || ev.CreatedAt.IsZero() {
			t.Fatalf("insert did not return id/timestamp: %+v", ev)
		}
	}

	insert(epFile.ID, models.EntityEpisode, e.ID, user.ID, 100)
	insert(epFile.ID, models.EntityEpisode, e.ID, models.AnonymousUserID, 200)
	insert(projFile.ID, models.EntityProject, p.ID, user.ID, 300)

	// The advisory counter on the file row moves with the events.
	if got, err := db.GetFile(ctx, epFile.ID); err != nil || got.DownloadCount != 2 {
		t.Errorf("file download_count = %v, %v; want 2", got, err)
	}

	since := time.Now().Add(-time.Minute)

	// File-scoped queries are exact even on a shared database.
	logs, total, err := db.DownloadLogs(ctx, analytics.LogFilter{Since: since, FileID: epFile.ID, Limit: 10})
	if err != nil {
		t.Fatalf("download logs: %v", err)
	}
	if total != 2 || len(logs) != 2 {
		t.Fatalf("logs for file = %d rows / total %d, want 2", len(logs), total)
	}
	if logs[0].CreatedAt.Before(logs[1].CreatedAt) {
		t.Error("logs not newest first")
	}
	if logs[0].Filename != epFile.Filename {
		t.Errorf("log filename = %q, want join against files", logs[0].Filename)
	}

	refs := []analytics.EntityRef{
		{Type: models.EntityProject, ID: p.ID},
		{Type: models.EntityEpisode, ID: e.ID},
	}
	events, err := db.EntityDownloads(ctx, refs, since)
	if err != nil {
		t.Fatalf("entity downloads: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("entity union = %d events, want 3", len(events))
	}
	if n, err := db.CountFiles(ctx, refs); err != nil || n != 2 {
		t.Errorf("CountFiles = %d, %v; want 2", n, err)
	}

	// Search narrows file stats to this test's rows.
	stats, total, err := db.FileStats(ctx, analytics.FileStatsFilter{
		Since: since, Search: epFile.OriginalName, Limit: 10,
	})
	if err != nil {
		t.Fatalf("file stats: %v", err)
	}
	if total != 1 || len(stats) != 1 {
		t.Fatalf("stats = %d rows / total %d, want 1", len(stats), total)
	}
	if stats[0].DownloadCount != 2 || stats[0].UniqueDownloaders != 2 || stats[0].TotalBytes != 300 {
		t.Errorf("stats row = %+v, want 2 downloads / 2 users / 300 bytes", stats[0])
	}

	// Global aggregates run against shared data, so only lower bounds hold.
	if n, err := db.CountDownloads(ctx, since); err != nil || n < 3 {
		t.Errorf("CountDownloads = %d, %v; want >= 3", n, err)
	}
	if hours, err := db.DownloadsByHour(ctx, since); err != nil || len(hours) == 0 {
		t.Errorf("DownloadsByHour = %v, %v; want at least one bucket", hours, err)
	}
}
