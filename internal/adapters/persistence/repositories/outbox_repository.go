package repositories

import (
	"context"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// OutboxRepository handles the ledger outbox
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *OutboxRepository) WithTx(tx *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: tx}
}

// Append inserts an entry
func (r *OutboxRepository) Append(ctx context.Context, entry *models.OutboxEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListDue returns pending entries that are the lowest seq of their aggregate
// and whose backoff has elapsed. An aggregate whose head entry is processing,
// failed or rejected contributes nothing.
func (r *OutboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	var entries []models.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxPending, now).
		Where("seq = (SELECT MIN(o2.seq) FROM ledger_outbox o2 WHERE o2.aggregate_id = ledger_outbox.aggregate_id)").
		Order("next_attempt_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Claim moves a pending entry to processing. It reports false when another
// worker or instance got there first.
func (r *OutboxRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{
			"status":     models.OutboxProcessing,
			"claimed_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// Delete removes an acknowledged entry
func (r *OutboxRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OutboxEntry{}).Error
}

// MarkRetry puts an entry back to pending with a future attempt time
func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.OutboxPending,
			"attempts":        attempts,
			"next_attempt_at": next,
			"claimed_at":      nil,
			"last_error":      lastErr,
		}).Error
}

// MarkFailed parks an entry that ran out of attempts
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, attempts int, now time.Time, lastErr string) error {
	return r.park(ctx, id, models.OutboxFailed, attempts, now, lastErr)
}

// MarkRejected parks an entry the ledger refused
func (r *OutboxRepository) MarkRejected(ctx context.Context, id string, attempts int, now time.Time, lastErr string) error {
	return r.park(ctx, id, models.OutboxRejected, attempts, now, lastErr)
}

func (r *OutboxRepository) park(ctx context.Context, id, status string, attempts int, now time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"claimed_at": nil,
			"parked_at":  now,
			"last_error": lastErr,
		}).Error
}

// ResetStale returns processing entries claimed before cutoff to pending
func (r *OutboxRepository) ResetStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status = ? AND claimed_at < ?", models.OutboxProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":          models.OutboxPending,
			"claimed_at":      nil,
			"next_attempt_at": now,
		})
	return res.RowsAffected, res.Error
}

// ParkedAggregate names an aggregate holding parked entries
type ParkedAggregate struct {
	Aggregate   string
	AggregateID string
}

// ListParkedBefore lists aggregates with entries in status that were parked
// before cutoff
func (r *OutboxRepository) ListParkedBefore(ctx context.Context, status string, cutoff time.Time, limit int) ([]ParkedAggregate, error) {
	var rows []ParkedAggregate
	err := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Distinct("aggregate", "aggregate_id").
		Where("status = ? AND parked_at < ?", status, cutoff).
		Order("aggregate_id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// Requeue resets parked entries of one aggregate so they are retried from scratch
func (r *OutboxRepository) Requeue(ctx context.Context, aggregateID string, statuses []string, now time.Time) (int64, error) {
	return r.requeue(r.db.WithContext(ctx).Where("aggregate_id = ? AND status IN ?", aggregateID, statuses), now)
}

// RequeueParkedBefore resets entries of one aggregate in status that were
// parked before cutoff
func (r *OutboxRepository) RequeueParkedBefore(ctx context.Context, aggregateID, status string, cutoff, now time.Time) (int64, error) {
	return r.requeue(r.db.WithContext(ctx).
		Where("aggregate_id = ? AND status = ? AND parked_at < ?", aggregateID, status, cutoff), now)
}

func (r *OutboxRepository) requeue(scope *gorm.DB, now time.Time) (int64, error) {
	res := scope.Model(&models.OutboxEntry{}).
		Updates(map[string]interface{}{
			"status":          models.OutboxPending,
			"attempts":        0,
			"next_attempt_at": now,
			"claimed_at":      nil,
			"parked_at":       nil,
			"last_error":      nil,
		})
	return res.RowsAffected, res.Error
}

// CountByAggregate counts remaining entries of an aggregate
func (r *OutboxRepository) CountByAggregate(ctx context.Context, aggregateID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).Where("aggregate_id = ?", aggregateID).Count(&count).Error
	return count, err
}

// ListByAggregate lists entries of an aggregate in seq order
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateID string) ([]models.OutboxEntry, error) {
	var entries []models.OutboxEntry
	err := r.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).Order("seq ASC").Find(&entries).Error
	return entries, err
}

// CountByStatus returns outbox depth per status
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{
		models.OutboxPending:    0,
		models.OutboxProcessing: 0,
		models.OutboxFailed:     0,
		models.OutboxRejected:   0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
