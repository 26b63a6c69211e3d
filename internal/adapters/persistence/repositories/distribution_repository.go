package repositories

import (
	"context"

	"zakat-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// DistributionRepository handles distribution data access
type DistributionRepository struct {
	db *gorm.DB
}

// NewDistributionRepository creates a new distribution repository
func NewDistributionRepository(db *gorm.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *DistributionRepository) WithTx(tx *gorm.DB) *DistributionRepository {
	return &DistributionRepository{db: tx}
}

// Create inserts a distribution
func (r *DistributionRepository) Create(ctx context.Context, distribution *models.Distribution) error {
	return r.db.WithContext(ctx).Create(distribution).Error
}

// GetByDonationID gets the distribution of a donation
func (r *DistributionRepository) GetByDonationID(ctx context.Context, donationID string) (*models.Distribution, error) {
	var distribution models.Distribution
	err := r.db.WithContext(ctx).Where("donation_id = ?", donationID).First(&distribution).Error
	if err != nil {
		return nil, notFound(err, "distribution for donation", donationID)
	}
	return &distribution, nil
}

// SumByDonation sums distributed amounts for one donation
func (r *DistributionRepository) SumByDonation(ctx context.Context, donationID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.Distribution{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("donation_id = ?", donationID).
		Scan(&sum).Error
	return sum, err
}

// SumAll sums every distribution
func (r *DistributionRepository) SumAll(ctx context.Context) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.Distribution{}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// SetLedgerTxID records the ledger transaction of a donation's distribution
func (r *DistributionRepository) SetLedgerTxID(ctx context.Context, donationID, txID string) error {
	return r.db.WithContext(ctx).Model(&models.Distribution{}).
		Where("donation_id = ?", donationID).
		Update("ledger_tx_id", txID).Error
}
