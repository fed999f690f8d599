package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// RestoreSource is the part of the API restoration reads from.
type RestoreSource interface {
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	ListItems(ctx context.Context, tab models.Tab) ([]*models.Item, error)
}

// RestoreResult is what a restarted session can reattach to.
type RestoreResult struct {
	LoadingItems []models.Item
	ActiveJobs   map[uuid.UUID]JobInfo
	Types        map[uuid.UUID]models.JobType
}

// Restorer recovers the jobs a previous session left running, using the
// _metadata each submission carries to find the placeholder it fills.
type Restorer struct {
	source RestoreSource
	notify func(types []models.JobType)
}

// NewRestorer returns a Restorer. notify, if non-nil, is told the job types
// recovered by each Rearm that tracked at least one job.
func NewRestorer(source RestoreSource, notify func(types []models.JobType)) *Restorer {
	return &Restorer{source: source, notify: notify}
}

// Restore finds PROCESSING jobs whose placeholder still exists and is still
// loading. Jobs without metadata or whose placeholder is gone are skipped;
// they keep running server-side but nothing on this side can show them.
func (r *Restorer) Restore(ctx context.Context) (*RestoreResult, error) {
	jobs, err := r.source.ListJobs(ctx, models.JobStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}

	res := &RestoreResult{
		LoadingItems: []models.Item{},
		ActiveJobs:   make(map[uuid.UUID]JobInfo),
		Types:        make(map[uuid.UUID]models.JobType),
	}
	if len(jobs) == 0 {
		return res, nil
	}

	collections := make(map[models.Tab]map[string]*models.Item)
	for _, job := range jobs {
		meta, ok := job.Metadata()
		if !ok {
			slog.Debug("processing job has no client metadata", "job_id", job.ID)
			continue
		}
		if !meta.TargetTab.Valid() {
			slog.Debug("processing job targets unknown tab", "job_id", job.ID, "tab", meta.TargetTab)
			continue
		}

		items, err := r.collection(ctx, collections, meta.TargetTab)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("could not list placeholder items", "tab", meta.TargetTab, "error", err)
			continue
		}

		item, ok := items[meta.ItemID]
		if !ok || !item.Loading {
			continue
		}
		res.LoadingItems = append(res.LoadingItems, *item)
		res.ActiveJobs[job.ID] = JobInfo{ItemID: meta.ItemID, TargetTab: meta.TargetTab, LoadingItem: *item}
		res.Types[job.ID] = job.Type
	}
	return res, nil
}

// collection lists a tab at most once per Restore. A failed listing is
// remembered as empty so later jobs on that tab are skipped too.
func (r *Restorer) collection(ctx context.Context, cache map[models.Tab]map[string]*models.Item, tab models.Tab) (map[string]*models.Item, error) {
	if items, ok := cache[tab]; ok {
		return items, nil
	}
	list, err := r.source.ListItems(ctx, tab)
	if err != nil {
		cache[tab] = map[string]*models.Item{}
		return nil, err
	}
	items := make(map[string]*models.Item, len(list))
	for _, it := range list {
		items[it.ID] = it
	}
	cache[tab] = items
	return items, nil
}

// Rearm hands the restored jobs to tracked. Jobs already tracked are left
// alone, so calling Rearm again with the same result is a no-op. It returns
// how many jobs were newly tracked.
func (r *Restorer) Rearm(tracked *Tracked, res *RestoreResult) int {
	var types []models.JobType
	for id, info := range res.ActiveJobs {
		if tracked.Track(id, info) {
			types = append(types, res.Types[id])
		}
	}
	if len(types) > 0 {
		slog.Info("restored in-flight jobs", "count", len(types))
		if r.notify != nil {
			r.notify(types)
		}
	}
	return len(types)
}
