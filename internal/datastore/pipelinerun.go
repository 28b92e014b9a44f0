package datastore

import (
	"time"

	"github.com/storyboard/enrich-go/internal/errors"
)

// CreatePipelineRun opens a sweep record.
func (ds *DataStore) CreatePipelineRun(run *PipelineRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	if err := ds.DB.Create(run).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "create_pipeline_run").
			Build()
	}
	return nil
}

// ClosePipelineRun writes the final counts and finish time for a sweep.
func (ds *DataStore) ClosePipelineRun(run *PipelineRun) error {
	now := time.Now()
	run.FinishedAt = &now
	err := ds.DB.Model(&PipelineRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"finished_at":  run.FinishedAt,
			"status":       run.Status,
			"processed":    run.Processed,
			"succeeded":    run.Succeeded,
			"failed":       run.Failed,
			"rate_limited": run.RateLimited,
			"metadata":     run.Metadata,
		}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close_pipeline_run").
			Build()
	}
	return nil
}
