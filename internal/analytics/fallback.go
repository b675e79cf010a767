package analytics

import "github.com/alexprut/radiocms/internal/models"

// Zero-value report shapes. Every report returns the exact same field set
// whether or not the store is reachable, so the dashboard never special-cases
// "no data" against "store down". Collections are empty slices, never nil,
// so they encode as [] rather than null.

func zeroHourSeries() []models.HourCount {
	series := make([]models.HourCount, 24)
	for i := range series {
		series[i].Hour = i
	}
	return series
}

func zeroOverview(tf Timeframe) models.Overview {
	return models.Overview{
		Timeframe:       tf.String(),
		PopularFiles:    []models.PopularFile{},
		DownloadsByDay:  []models.DayCount{},
		DownloadsByType: []models.TypeCount{},
		DownloadsByHour: zeroHourSeries(),
	}
}

func zeroUsers() []models.UserDownloads {
	return []models.UserDownloads{}
}

func zeroLogs(page, limit int) models.LogsPage {
	return models.LogsPage{
		Logs:       []models.DownloadEvent{},
		Pagination: models.Pagination{Page: page, Limit: limit},
	}
}

func zeroFileStats(page, limit int) models.FileStatsPage {
	return models.FileStatsPage{
		Files:      []models.FileStat{},
		Pagination: models.Pagination{Page: page, Limit: limit},
	}
}

func zeroRollups() []models.Rollup {
	return []models.Rollup{}
}
