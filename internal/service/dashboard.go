package service

import (
	"context"
	"time"

	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
)

type DashboardService struct {
	store store.Store
}

func NewDashboardService(s store.Store) *DashboardService {
	return &DashboardService{store: s}
}

// StatusCounts holds the live queue depth per status.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
}

type Dashboard struct {
	Counts      StatusCounts            `json:"counts"`
	SuccessRate float64                 `json:"success_rate"`
	Aggregates  []store.MetricAggregate `json:"aggregates"`
	RecentJobs  model.JobList           `json:"recent_jobs"`
}

// Overview assembles the operator dashboard: live status counts, the success
// rate over terminal outcomes in the window, per-kind daily aggregates and
// the most recently updated jobs.
func (s *DashboardService) Overview(ctx context.Context, orgID string, window time.Duration) (*Dashboard, error) {
	dash := &Dashboard{}

	statuses := []struct {
		status model.JobStatus
		dest   *int64
	}{
		{model.JobStatusPending, &dash.Counts.Pending},
		{model.JobStatusProcessing, &dash.Counts.Processing},
		{model.JobStatusCompleted, &dash.Counts.Completed},
		{model.JobStatusFailed, &dash.Counts.Failed},
		{model.JobStatusCancelled, &dash.Counts.Cancelled},
	}
	for _, st := range statuses {
		filter := store.NewJobQueryFilter().ByStatus(st.status)
		if orgID != "" {
			filter = filter.ByOrgID(orgID)
		}
		count, err := s.store.Job().Count(ctx, filter)
		if err != nil {
			return nil, err
		}
		*st.dest = count
	}

	terminal := dash.Counts.Completed + dash.Counts.Failed + dash.Counts.Cancelled
	if terminal > 0 {
		dash.SuccessRate = float64(dash.Counts.Completed) / float64(terminal)
	}

	since := time.Now().UTC().Add(-window).Truncate(24 * time.Hour)
	aggregates, err := s.store.Metric().Aggregate(ctx,
		store.NewMetricQueryFilter().ByDateRange(since, time.Now().UTC()))
	if err != nil {
		return nil, err
	}
	dash.Aggregates = aggregates

	recentFilter := store.NewJobQueryFilter()
	if orgID != "" {
		recentFilter = recentFilter.ByOrgID(orgID)
	}
	recent, err := s.store.Job().List(ctx, recentFilter,
		store.NewJobQueryOptions().WithSortOrder(store.SortByUpdatedTime).WithLimit(20))
	if err != nil {
		return nil, err
	}
	dash.RecentJobs = recent

	return dash, nil
}
