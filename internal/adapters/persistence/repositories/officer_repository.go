package repositories

import (
	"context"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OfficerRepository handles officer data access
type OfficerRepository struct {
	db *gorm.DB
}

// NewOfficerRepository creates a new officer repository
func NewOfficerRepository(db *gorm.DB) *OfficerRepository {
	return &OfficerRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *OfficerRepository) WithTx(tx *gorm.DB) *OfficerRepository {
	return &OfficerRepository{db: tx}
}

// GetByReferralCode gets an officer by referral code
func (r *OfficerRepository) GetByReferralCode(ctx context.Context, code string) (*models.Officer, error) {
	var officer models.Officer
	err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&officer).Error
	if err != nil {
		return nil, notFound(err, "officer", code)
	}
	return &officer, nil
}

// CreateIfMissing inserts an officer unless one with the same ID exists
func (r *OfficerRepository) CreateIfMissing(ctx context.Context, officer *models.Officer) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(officer)
	return res.RowsAffected > 0, res.Error
}

// ListUnregistered lists officers the ledger has not acknowledged yet
func (r *OfficerRepository) ListUnregistered(ctx context.Context, limit int) ([]models.Officer, error) {
	var officers []models.Officer
	err := r.db.WithContext(ctx).
		Where("ledger_synced_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&officers).Error
	return officers, err
}

// ResetRegistrations forgets every ledger acknowledgement, for a ledger
// that starts empty
func (r *OfficerRepository) ResetRegistrations(ctx context.Context) error {
	return r.db.WithContext(ctx).Model(&models.Officer{}).
		Where("ledger_synced_at IS NOT NULL").
		Updates(map[string]interface{}{
			"ledger_tx_id":     nil,
			"ledger_synced_at": nil,
		}).Error
}

// MarkRegistered records the ledger acknowledgement of an officer
func (r *OfficerRepository) MarkRegistered(ctx context.Context, id string, txID *string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Officer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ledger_tx_id":     txID,
			"ledger_synced_at": at,
		}).Error
}
