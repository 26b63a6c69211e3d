package repositories

import (
	"context"

	"zakat-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRepository hands out persisted per-organization monthly counters
type SequenceRepository struct {
	db *gorm.DB
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *SequenceRepository) WithTx(tx *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: tx}
}

// Next increments and returns the counter for (orgCode, period). Run it in
// the same transaction that inserts the donation so a rollback gives the
// number back.
func (r *SequenceRepository) Next(ctx context.Context, orgCode, period string) (int, error) {
	db := r.db.WithContext(ctx)

	for i := 0; i < 2; i++ {
		res := db.Model(&models.IDSequence{}).
			Where("org_code = ? AND period = ?", orgCode, period).
			UpdateColumn("last_value", gorm.Expr("last_value + 1"))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			var seq models.IDSequence
			if err := db.Where("org_code = ? AND period = ?", orgCode, period).First(&seq).Error; err != nil {
				return 0, err
			}
			return seq.LastValue, nil
		}

		// First ID of the period; a concurrent insert is fine, the retry increments it
		err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.IDSequence{OrgCode: orgCode, Period: period, LastValue: 0}).Error
		if err != nil {
			return 0, err
		}
	}
	return 0, gorm.ErrRecordNotFound
}

// Current returns the last issued value, zero when none
func (r *SequenceRepository) Current(ctx context.Context, orgCode, period string) (int, error) {
	var seq models.IDSequence
	err := r.db.WithContext(ctx).Where("org_code = ? AND period = ?", orgCode, period).Limit(1).Find(&seq).Error
	return seq.LastValue, err
}
