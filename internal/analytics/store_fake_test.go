package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/alexprut/radiocms/internal/models"
)

// fakeStore aggregates over an in-memory event slice the way the SQL layer
// does over download_events, so engine shaping can be tested without a
// database.

type fakeEvent struct {
	userID     string
	userEmail  string
	fileID     string
	filename   string
	entityType string
	entityID   string
	status     string
	size       int64
	at         time.Time
}

type fakeFile struct {
	id           string
	filename     string
	originalName string
	entityType   string
	entityID     string
}

type fakeStore struct {
	connErr  error
	events   []fakeEvent
	files    []fakeFile
	projects []models.Project
	episodes []models.Episode
	scripts  []models.Script

	// method name -> error, for per-metric failure injection
	fail map[string]error
}

func (s *fakeStore) Connected(ctx context.Context) error { return s.connErr }

func (s *fakeStore) inWindow(since time.Time) []fakeEvent {
	var out []fakeEvent
	for _, ev := range s.events {
		if !ev.at.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeStore) CountDownloads(ctx context.Context, since time.Time) (int64, error) {
	if err := s.fail["CountDownloads"]; err != nil {
		return 0, err
	}
	return int64(len(s.inWindow(since))), nil
}

func (s *fakeStore) UniqueDownloaders(ctx context.Context, since time.Time) (int64, error) {
	if err := s.fail["UniqueDownloaders"]; err != nil {
		return 0, err
	}
	seen := map[string]struct{}{}
	for _, ev := range s.inWindow(since) {
		seen[ev.userID] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (s *fakeStore) TotalBytes(ctx context.Context, since time.Time) (int64, error) {
	if err := s.fail["TotalBytes"]; err != nil {
		return 0, err
	}
	var sum int64
	for _, ev := range s.inWindow(since) {
		sum += ev.size
	}
	return sum, nil
}

func (s *fakeStore) DownloadsByDay(ctx context.Context, since time.Time) ([]models.DayCount, error) {
	if err := s.fail["DownloadsByDay"]; err != nil {
		return nil, err
	}
	byDay := map[string]*models.DayCount{}
	users := map[string]map[string]struct{}{}
	for _, ev := range s.inWindow(since) {
		day := ev.at.Format("2006-01-02")
		if byDay[day] == nil {
			byDay[day] = &models.DayCount{Date: day}
			users[day] = map[string]struct{}{}
		}
		byDay[day].Count++
		byDay[day].TotalBytes += ev.size
		users[day][ev.userID] = struct{}{}
	}
	var days []models.DayCount
	for day, d := range byDay {
		d.UniqueUsers = int64(len(users[day]))
		days = append(days, *d)
	}
	return days, nil
}

func (s *fakeStore) DownloadsByHour(ctx context.Context, since time.Time) ([]models.HourCount, error) {
	if err := s.fail["DownloadsByHour"]; err != nil {
		return nil, err
	}
	byHour := map[int]int64{}
	for _, ev := range s.inWindow(since) {
		byHour[ev.at.Hour()]++
	}
	var hours []models.HourCount
	for hour, count := range byHour {
		hours = append(hours, models.HourCount{Hour: hour, Count: count})
	}
	return hours, nil
}

func (s *fakeStore) DownloadsByType(ctx context.Context, since time.Time) ([]models.TypeCount, error) {
	if err := s.fail["DownloadsByType"]; err != nil {
		return nil, err
	}
	byType := map[string]*models.TypeCount{}
	for _, ev := range s.inWindow(since) {
		if byType[ev.entityType] == nil {
			byType[ev.entityType] = &models.TypeCount{EntityType: ev.entityType}
		}
		byType[ev.entityType].Count++
		byType[ev.entityType].TotalBytes += ev.size
	}
	var types []models.TypeCount
	for _, t := range byType {
		types = append(types, *t)
	}
	return types, nil
}

func (s *fakeStore) PopularFiles(ctx context.Context, since time.Time, limit int) ([]models.PopularFile, error) {
	if err := s.fail["PopularFiles"]; err != nil {
		return nil, err
	}
	byFile := map[string]*models.PopularFile{}
	for _, ev := range s.inWindow(since) {
		if byFile[ev.fileID] == nil {
			byFile[ev.fileID] = &models.PopularFile{FileID: ev.fileID, Filename: ev.filename, EntityType: ev.entityType}
		}
		byFile[ev.fileID].DownloadCount++
		byFile[ev.fileID].TotalBytes += ev.size
	}
	var files []models.PopularFile
	for _, f := range byFile {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].DownloadCount != files[j].DownloadCount {
			return files[i].DownloadCount > files[j].DownloadCount
		}
		return files[i].FileID < files[j].FileID
	})
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (s *fakeStore) UserDownloads(ctx context.Context, since time.Time) ([]models.UserDownloads, error) {
	if err := s.fail["UserDownloads"]; err != nil {
		return nil, err
	}
	byUser := map[string]*models.UserDownloads{}
	for _, ev := range s.inWindow(since) {
		if byUser[ev.userID] == nil {
			byUser[ev.userID] = &models.UserDownloads{UserID: ev.userID, UserEmail: ev.userEmail}
		}
		u := byUser[ev.userID]
		u.DownloadCount++
		u.TotalBytes += ev.size
		if u.LastDownload == nil || ev.at.After(*u.LastDownload) {
			at := ev.at
			u.LastDownload = &at
		}
	}
	var users []models.UserDownloads
	for _, u := range byUser {
		users = append(users, *u)
	}
	return users, nil
}

func (s *fakeStore) DownloadLogs(ctx context.Context, f LogFilter) ([]models.DownloadEvent, int64, error) {
	if err := s.fail["DownloadLogs"]; err != nil {
		return nil, 0, err
	}
	var matched []fakeEvent
	for _, ev := range s.inWindow(f.Since) {
		if f.FileID != "" && ev.fileID != f.FileID {
			continue
		}
		if f.UserID != "" && ev.userID != f.UserID {
			continue
		}
		if f.Status != "" && ev.status != f.Status {
			continue
		}
		if f.EntityType != "" && ev.entityType != f.EntityType {
			continue
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].at.After(matched[j].at) })

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	var out []models.DownloadEvent
	for _, ev := range matched {
		out = append(out, models.DownloadEvent{
			FileID:     ev.fileID,
			Filename:   ev.filename,
			UserID:     ev.userID,
			UserEmail:  ev.userEmail,
			Size:       ev.size,
			Status:     ev.status,
			EntityType: ev.entityType,
			EntityID:   ev.entityID,
			CreatedAt:  ev.at,
		})
	}
	return out, total, nil
}

func (s *fakeStore) FileStats(ctx context.Context, f FileStatsFilter) ([]models.FileStat, int64, error) {
	if err := s.fail["FileStats"]; err != nil {
		return nil, 0, err
	}
	var stats []models.FileStat
	for _, file := range s.files {
		if f.EntityType != "" && file.entityType != f.EntityType {
			continue
		}
		st := models.FileStat{FileID: file.id, Filename: file.filename, OriginalName: file.originalName, EntityType: file.entityType}
		users := map[string]struct{}{}
		for _, ev := range s.inWindow(f.Since) {
			if ev.fileID != file.id {
				continue
			}
			st.DownloadCount++
			st.TotalBytes += ev.size
			users[ev.userID] = struct{}{}
			if st.LastDownload == nil || ev.at.After(*st.LastDownload) {
				at := ev.at
				st.LastDownload = &at
			}
		}
		st.UniqueDownloaders = int64(len(users))
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].DownloadCount != stats[j].DownloadCount {
			return stats[i].DownloadCount > stats[j].DownloadCount
		}
		return stats[i].FileID < stats[j].FileID
	})

	total := int64(len(stats))
	if f.Offset >= len(stats) {
		return nil, total, nil
	}
	stats = stats[f.Offset:]
	if len(stats) > f.Limit {
		stats = stats[:f.Limit]
	}
	return stats, total, nil
}

func (s *fakeStore) Projects(ctx context.Context) ([]models.Project, error) {
	if err := s.fail["Projects"]; err != nil {
		return nil, err
	}
	return s.projects, nil
}

func (s *fakeStore) Episodes(ctx context.Context, projectID string) ([]models.Episode, error) {
	if err := s.fail["Episodes"]; err != nil {
		return nil, err
	}
	if projectID == "" {
		return s.episodes, nil
	}
	var out []models.Episode
	for _, e := range s.episodes {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Scripts(ctx context.Context, projectID string) ([]models.Script, error) {
	if err := s.fail["Scripts"]; err != nil {
		return nil, err
	}
	if projectID == "" {
		return s.scripts, nil
	}
	var out []models.Script
	for _, sc := range s.scripts {
		if sc.ProjectID == projectID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *fakeStore) EntityDownloads(ctx context.Context, refs []EntityRef, since time.Time) ([]RollupEvent, error) {
	if err := s.fail["EntityDownloads"]; err != nil {
		return nil, err
	}
	want := map[EntityRef]struct{}{}
	for _, ref := range refs {
		want[ref] = struct{}{}
	}
	var out []RollupEvent
	for _, ev := range s.inWindow(since) {
		if _, ok := want[EntityRef{Type: ev.entityType, ID: ev.entityID}]; ok {
			out = append(out, RollupEvent{UserID: ev.userID, FileID: ev.fileID, Size: ev.size, At: ev.at})
		}
	}
	return out, nil
}

func (s *fakeStore) CountFiles(ctx context.Context, refs []EntityRef) (int64, error) {
	if err := s.fail["CountFiles"]; err != nil {
		return 0, err
	}
	want := map[EntityRef]struct{}{}
	for _, ref := range refs {
		want[ref] = struct{}{}
	}
	var n int64
	for _, f := range s.files {
		if _, ok := want[EntityRef{Type: f.entityType, ID: f.entityID}]; ok {
			n++
		}
	}
	return n, nil
}
