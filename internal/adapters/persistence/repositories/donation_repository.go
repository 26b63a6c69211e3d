package repositories

import (
	"context"
	"errors"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/core/domain"

	"gorm.io/gorm"
)

// DonationFilter narrows donation listings. Empty fields are ignored and the
// rest are combined with AND.
type DonationFilter struct {
	Status       string
	ProgramID    string
	ReferralCode string
	DonorName    string
}

// DonationRepository handles donation data access
type DonationRepository struct {
	db *gorm.DB
}

// NewDonationRepository creates a new donation repository
func NewDonationRepository(db *gorm.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *DonationRepository) WithTx(tx *gorm.DB) *DonationRepository {
	return &DonationRepository{db: tx}
}

// Create inserts a new donation
func (r *DonationRepository) Create(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Omit("Distribution").Create(donation).Error
}

// GetByID gets a donation with its distribution
func (r *DonationRepository) GetByID(ctx context.Context, id string) (*models.Donation, error) {
	var donation models.Donation
	err := r.db.WithContext(ctx).
		Preload("Distribution").
		Where("id = ?", id).
		First(&donation).Error
	if err != nil {
		return nil, notFound(err, "donation", id)
	}
	return &donation, nil
}

// GetForUpdate reads a donation row under a write lock. Must run inside a transaction.
func (r *DonationRepository) GetForUpdate(ctx context.Context, id string) (*models.Donation, error) {
	var donation models.Donation
	err := forUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&donation).Error
	if err != nil {
		return nil, notFound(err, "donation", id)
	}
	return &donation, nil
}

// Exists reports whether a donation id is already taken
func (r *DonationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Donation{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// UpdateFields applies a partial update to one donation. Callers read the
// row first; MySQL reports unchanged rows as unaffected so the count is not
// a reliable existence check.
func (r *DonationRepository) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Donation{}).Where("id = ?", id).Updates(updates).Error
}

// List lists donations matching filter, newest first
func (r *DonationRepository) List(ctx context.Context, filter DonationFilter, offset, limit int) ([]models.Donation, int64, error) {
	var donations []models.Donation
	var total int64

	query := applyDonationFilter(r.db.WithContext(ctx).Model(&models.Donation{}), filter)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := applyDonationFilter(r.db.WithContext(ctx), filter).
		Preload("Distribution").
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&donations).Error
	return donations, total, err
}

func applyDonationFilter(q *gorm.DB, f DonationFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProgramID != "" {
		q = q.Where("program_id = ?", f.ProgramID)
	}
	if f.ReferralCode != "" {
		q = q.Where("referral_code = ?", f.ReferralCode)
	}
	if f.DonorName != "" {
		q = q.Where("donor_name = ?", f.DonorName)
	}
	return q
}

// ListUnsynced returns donations in the given sync statuses last touched before cutoff
func (r *DonationRepository) ListUnsynced(ctx context.Context, syncStatuses []string, before time.Time, limit int) ([]models.Donation, error) {
	var donations []models.Donation
	err := r.db.WithContext(ctx).
		Where("sync_status IN ? AND updated_at < ?", syncStatuses, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&donations).Error
	return donations, err
}

// ============================================================
// Aggregates
// ============================================================

// CountByStatus counts donations in a lifecycle status
func (r *DonationRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Donation{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// CountBySyncStatus counts donations in a sync status
func (r *DonationRepository) CountBySyncStatus(ctx context.Context, syncStatus string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Donation{}).Where("sync_status = ?", syncStatus).Count(&count).Error
	return count, err
}

// SumAmountByStatuses sums donation amounts over the given statuses
func (r *DonationRepository) SumAmountByStatuses(ctx context.Context, statuses []string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.Donation{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status IN ?", statuses).
		Scan(&sum).Error
	return sum, err
}

// SumValidatedBetween sums amounts validated in [from, to)
func (r *DonationRepository) SumValidatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.Donation{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("validated_at >= ? AND validated_at < ?", from, to).
		Scan(&sum).Error
	return sum, err
}

// AggregateRow is one group of the daily aggregate
type AggregateRow struct {
	Status    string
	ZakatType string
	ProgramID *string
	Count     int64
	Total     int64
}

// AggregateCreatedBetween groups donations created in [from, to)
func (r *DonationRepository) AggregateCreatedBetween(ctx context.Context, from, to time.Time) ([]AggregateRow, error) {
	var rows []AggregateRow
	err := r.db.WithContext(ctx).Model(&models.Donation{}).
		Select("status, zakat_type, program_id, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("status, zakat_type, program_id").
		Scan(&rows).Error
	return rows, err
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.NotFoundError{Entity: entity, ID: id}
	}
	return err
}
