package analytics

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/alexprut/radiocms/internal/models"
)

// Hierarchical rollups. A project's total covers downloads of files owned
// directly by the project plus files owned by its episodes and scripts. The
// branches are merged into one event union before unique downloaders are
// counted: summing per-branch unique counts would double-count a user who
// downloaded both an episode file and a script file.

// ProjectRollups summarizes download activity per project, traversing the
// episode and script ownership levels.
func (e *Engine) ProjectRollups(ctx context.Context, rawTimeframe string) []models.Rollup {
	tf := ParseTimeframe(rawTimeframe, Timeframe30d)
	key := "analytics:rollup:projects:" + tf.String()
	if v, ok := e.cacheGet(key); ok {
		if rows, ok := v.([]models.Rollup); ok {
			return rows
		}
	}

	rollups := zeroRollups()
	if e.available(ctx) {
		projects, err := e.store.Projects(ctx)
		if err != nil {
			log.Printf("analytics: project rollups (%s): list projects: %v", tf, err)
		} else {
			since := tf.Start(e.now())
			for _, p := range projects {
				refs := []EntityRef{{Type: models.EntityProject, ID: p.ID}}

				episodes, err := e.store.Episodes(ctx, p.ID)
				if err != nil {
					log.Printf("analytics: project rollups (%s): episodes of %s: %v", tf, p.ID, err)
				}
				for _, ep := range episodes {
					refs = append(refs, EntityRef{Type: models.EntityEpisode, ID: ep.ID})
				}

				scripts, err := e.store.Scripts(ctx, p.ID)
				if err != nil {
					log.Printf("analytics: project rollups (%s): scripts of %s: %v", tf, p.ID, err)
				}
				for _, sc := range scripts {
					refs = append(refs, EntityRef{Type: models.EntityScript, ID: sc.ID})
				}

				rollups = append(rollups, e.rollupForRefs(ctx, tf, p.ID, p.Title, refs, since))
			}
			sortRollups(rollups)
		}
	}

	e.cacheSet(key, rollups)
	return rollups
}

// EpisodeRollups summarizes per-episode activity, optionally scoped to one
// project.
func (e *Engine) EpisodeRollups(ctx context.Context, rawTimeframe, projectID string) []models.Rollup {
	tf := ParseTimeframe(rawTimeframe, Timeframe30d)
	key := "analytics:rollup:episodes:" + tf.String() + ":" + projectID
	if v, ok := e.cacheGet(key); ok {
		if rows, ok := v.([]models.Rollup); ok {
			return rows
		}
	}

	rollups := zeroRollups()
	if e.available(ctx) {
		episodes, err := e.store.Episodes(ctx, projectID)
		if err != nil {
			log.Printf("analytics: episode rollups (%s): %v", tf, err)
		} else {
			since := tf.Start(e.now())
			for _, ep := range episodes {
				refs := []EntityRef{{Type: models.EntityEpisode, ID: ep.ID}}
				rollups = append(rollups, e.rollupForRefs(ctx, tf, ep.ID, ep.Title, refs, since))
			}
			sortRollups(rollups)
		}
	}

	e.cacheSet(key, rollups)
	return rollups
}

// ScriptRollups summarizes per-script activity, optionally scoped to one
// project.
func (e *Engine) ScriptRollups(ctx context.Context, rawTimeframe, projectID string) []models.Rollup {
	tf := ParseTimeframe(rawTimeframe, Timeframe30d)
	key := "analytics:rollup:scripts:" + tf.String() + ":" + projectID
	if v, ok := e.cacheGet(key); ok {
		if rows, ok := v.([]models.Rollup); ok {
			return rows
		}
	}

	rollups := zeroRollups()
	if e.available(ctx) {
		scripts, err := e.store.Scripts(ctx, projectID)
		if err != nil {
			log.Printf("analytics: script rollups (%s): %v", tf, err)
		} else {
			since := tf.Start(e.now())
			for _, sc := range scripts {
				refs := []EntityRef{{Type: models.EntityScript, ID: sc.ID}}
				rollups = append(rollups, e.rollupForRefs(ctx, tf, sc.ID, sc.Title, refs, since))
			}
			sortRollups(rollups)
		}
	}

	e.cacheSet(key, rollups)
	return rollups
}

// rollupForRefs fetches the merged event union for the refs and folds it
// into one row. Sub-query errors degrade that row to zeros; the loop over
// sibling entities keeps going.
func (e *Engine) rollupForRefs(ctx context.Context, tf Timeframe, id, title string, refs []EntityRef, since time.Time) models.Rollup {
	events, err := e.store.EntityDownloads(ctx, refs, since)
	if err != nil {
		log.Printf("analytics: rollup events (%s) for %s: %v", tf, id, err)
		events = nil
	}
	r := rollupFromEvents(id, title, events)
	if n, err := e.store.CountFiles(ctx, refs); err != nil {
		log.Printf("analytics: rollup file count (%s) for %s: %v", tf, id, err)
	} else {
		r.FileCount = n
	}
	return r
}

func sortRollups(rollups []models.Rollup) {
	sort.SliceStable(rollups, func(i, j int) bool {
		if rollups[i].DownloadCount != rollups[j].DownloadCount {
			return rollups[i].DownloadCount > rollups[j].DownloadCount
		}
		return rollups[i].Title < rollups[j].Title
	})
}

// rollupFromEvents folds the merged event union into one rollup row. User
// ids go through a set so a downloader counts once no matter how many
// branches they appear in.
func rollupFromEvents(id, title string, events []RollupEvent) models.Rollup {
	r := models.Rollup{ID: id, Title: title}
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		r.DownloadCount++
		r.TotalBytes += ev.Size
		seen[ev.UserID] = struct{}{}
		if r.LastDownload == nil || ev.At.After(*r.LastDownload) {
			at := ev.At
			r.LastDownload = &at
		}
	}
	r.UniqueDownloaders = int64(len(seen))
	return r
}
