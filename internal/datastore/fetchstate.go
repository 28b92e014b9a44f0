// fetchstate.go: durable fetch progress per (attraction, kind) with atomic
// claim/commit transitions. These operations are the sole concurrency gate
// for fetch runs; no in-memory job registry exists anywhere.
package datastore

import (
	"time"

	"github.com/storyboard/enrich-go/internal/errors"
	"gorm.io/gorm/clause"
)

// GetOrCreateFetchState returns the single fetch state row for the pair,
// creating a pending one with the given target when none exists.
func (ds *DataStore) GetOrCreateFetchState(attractionID uint, kind FetchKind, target, maxRetries int) (*FetchState, error) {
	state := FetchState{
		AttractionID: attractionID,
		Kind:         kind,
		ItemsTarget:  target,
		MaxRetries:   maxRetries,
		Status:       FetchPending,
		NextRunAt:    time.Now(),
	}
	err := ds.DB.
		Where(&FetchState{AttractionID: attractionID, Kind: kind}).
		Attrs(state).
		FirstOrCreate(&state).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_or_create_fetch_state").
			Context("attraction_id", attractionID).
			Context("kind", string(kind)).
			Build()
	}
	return &state, nil
}

// ClaimFetchState atomically transitions a due PENDING or RATE_LIMITED row
// to RUNNING and returns it. Returns (nil, nil) when the row is already
// running, not yet due, or terminal, and the caller simply skips the pair.
// The conditional UPDATE is the mutual exclusion: of two concurrent claims
// exactly one matches the row.
func (ds *DataStore) ClaimFetchState(attractionID uint, kind FetchKind, now time.Time) (*FetchState, error) {
	res := ds.DB.Model(&FetchState{}).
		Where("attraction_id = ? AND kind = ? AND status IN ? AND next_run_at <= ?",
			attractionID, kind, []FetchStatus{FetchPending, FetchRateLimited}, now).
		Updates(map[string]any{
			"status":     FetchRunning,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryFetchState).
			Context("operation", "claim").
			Context("attraction_id", attractionID).
			Context("kind", string(kind)).
			Build()
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var state FetchState
	if err := ds.DB.
		Where("attraction_id = ? AND kind = ? AND status = ?", attractionID, kind, FetchRunning).
		First(&state).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFetchState).
			Context("operation", "claim_load").
			Build()
	}
	return &state, nil
}

// CommitFetchState persists the post-run state of a claimed row.
func (ds *DataStore) CommitFetchState(state *FetchState) error {
	err := ds.DB.Model(&FetchState{}).
		Where("id = ?", state.ID).
		Updates(map[string]any{
			"provider":        state.Provider,
			"items_target":    state.ItemsTarget,
			"items_collected": state.ItemsCollected,
			"cursor":          state.Cursor,
			"status":          state.Status,
			"retry_count":     state.RetryCount,
			"next_run_at":     state.NextRunAt,
			"last_error":      state.LastError,
		}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFetchState).
			Context("operation", "commit").
			Context("fetch_state_id", state.ID).
			Build()
	}
	return nil
}

// ReleaseFetchState moves the pair's RATE_LIMITED row to the given status,
// returning how many rows changed. Used by the quota drain to make a parked
// row immediately claimable; a row in any other status (terminal, running,
// already pending) is left alone and zero is returned.
func (ds *DataStore) ReleaseFetchState(attractionID uint, kind FetchKind, status FetchStatus, nextRunAt time.Time) (int64, error) {
	res := ds.DB.Model(&FetchState{}).
		Where("attraction_id = ? AND kind = ? AND status = ?", attractionID, kind, FetchRateLimited).
		Updates(map[string]any{
			"status":      status,
			"next_run_at": nextRunAt,
		})
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryFetchState).
			Context("operation", "release").
			Build()
	}
	return res.RowsAffected, nil
}

// ResetStaleFetchRuns returns RUNNING rows older than the threshold to
// PENDING. This is the liveness backstop for runs orphaned by a crash or
// process kill; it runs at the start of every sweep.
func (ds *DataStore) ResetStaleFetchRuns(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := ds.DB.Model(&FetchState{}).
		Where("status = ? AND updated_at < ?", FetchRunning, cutoff).
		Updates(map[string]any{
			"status":      FetchPending,
			"next_run_at": time.Now(),
			"last_error":  "reset after stale running state",
		})
	if res.Error != nil {
		return 0, errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryFetchState).
			Context("operation", "reset_stale").
			Build()
	}
	return res.RowsAffected, nil
}

// ListDueFetchStates returns due rows oldest-first so long-waiting pairs are
// never starved by newer work.
func (ds *DataStore) ListDueFetchStates(now time.Time, limit int) ([]FetchState, error) {
	var states []FetchState
	err := ds.DB.
		Where("(status = ? OR status = ?) AND next_run_at <= ?", FetchPending, FetchRateLimited, now).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "next_run_at"}}).
		Limit(limit).
		Find(&states).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFetchState).
			Context("operation", "list_due").
			Build()
	}
	return states, nil
}
