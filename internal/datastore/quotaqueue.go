// quotaqueue.go: durable queue of fetches deferred by provider quota
// exhaustion, drained once per provider quota window.
package datastore

import (
	"time"

	"github.com/storyboard/enrich-go/internal/errors"
	"gorm.io/gorm"
)

// EnqueueQuotaRetry queues a quota-deferred fetch. Idempotent: an existing
// pending or processing entry for the same (attraction, kind, provider) is
// left untouched so a repeated quota error never duplicates queue work. A
// terminally failed entry for the tuple is revived with a fresh retry count
// instead, since the unique index permits only one row per tuple.
func (ds *DataStore) EnqueueQuotaRetry(attractionID uint, kind FetchKind, provider string, nextRetryAt time.Time) error {
	var existing QuotaRetryEntry
	err := ds.DB.
		Where("attraction_id = ? AND kind = ? AND provider = ?", attractionID, kind, provider).
		First(&existing).Error
	if err == nil {
		if existing.Status != QuotaRetryFailed {
			return nil
		}
		revErr := ds.DB.Model(&QuotaRetryEntry{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"status":        QuotaRetryPending,
				"next_retry_at": nextRetryAt,
				"retry_count":   0,
			}).Error
		if revErr != nil {
			return errors.New(revErr).
				Component("datastore").
				Category(errors.CategoryQuotaQueue).
				Context("operation", "enqueue_revive").
				Context("provider", provider).
				Build()
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryQuotaQueue).
			Context("operation", "enqueue_lookup").
			Build()
	}

	entry := QuotaRetryEntry{
		AttractionID: attractionID,
		Kind:         kind,
		Provider:     provider,
		Status:       QuotaRetryPending,
		NextRetryAt:  nextRetryAt,
	}
	if err := ds.DB.Create(&entry).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryQuotaQueue).
			Context("operation", "enqueue").
			Context("provider", provider).
			Build()
	}
	return nil
}

// ClaimDueQuotaRetries atomically moves due pending entries for a provider to
// processing and returns them, oldest first (FIFO per provider).
func (ds *DataStore) ClaimDueQuotaRetries(provider string, now time.Time, limit int) ([]QuotaRetryEntry, error) {
	var due []QuotaRetryEntry
	err := ds.DB.
		Where("provider = ? AND status = ? AND next_retry_at <= ?", provider, QuotaRetryPending, now).
		Order("created_at").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryQuotaQueue).
			Context("operation", "claim_due_list").
			Build()
	}

	claimed := make([]QuotaRetryEntry, 0, len(due))
	for i := range due {
		// Conditional update: a concurrent drain claiming the same entry
		// affects zero rows here and the entry is skipped.
		res := ds.DB.Model(&QuotaRetryEntry{}).
			Where("id = ? AND status = ?", due[i].ID, QuotaRetryPending).
			Updates(map[string]any{
				"status":        QuotaRetryProcessing,
				"last_retry_at": now,
			})
		if res.Error != nil {
			return claimed, errors.New(res.Error).
				Component("datastore").
				Category(errors.CategoryQuotaQueue).
				Context("operation", "claim_due_update").
				Build()
		}
		if res.RowsAffected == 1 {
			due[i].Status = QuotaRetryProcessing
			due[i].LastRetryAt = &now
			claimed = append(claimed, due[i])
		}
	}
	return claimed, nil
}

// CompleteQuotaRetry marks an entry completed and removes it from the queue.
func (ds *DataStore) CompleteQuotaRetry(id uint) error {
	if err := ds.DB.Delete(&QuotaRetryEntry{}, id).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryQuotaQueue).
			Context("operation", "complete").
			Build()
	}
	return nil
}

// RescheduleQuotaRetry returns a processing entry to pending with a new due
// time and an incremented retry count.
func (ds *DataStore) RescheduleQuotaRetry(id uint, nextRetryAt time.Time) error {
	err := ds.DB.Model(&QuotaRetryEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        QuotaRetryPending,
			"next_retry_at": nextRetryAt,
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryQuotaQueue).
			Context("operation", "reschedule").
			Build()
	}
	return nil
}

// FailQuotaRetry marks an entry terminally failed after exhausting its cap.
func (ds *DataStore) FailQuotaRetry(id uint) error {
	err := ds.DB.Model(&QuotaRetryEntry{}).
		Where("id = ?", id).
		Update("status", QuotaRetryFailed).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryQuotaQueue).
			Context("operation", "fail").
			Build()
	}
	return nil
}
