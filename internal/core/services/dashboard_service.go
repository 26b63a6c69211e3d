package services

import (
	"context"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/core/domain"

	"gorm.io/gorm"
)

// DashboardService handles dashboard operations. It reads only the database
// and the coordinator's cached ledger state.
type DashboardService struct {
	db            *gorm.DB
	donations     *repositories.DonationRepository
	distributions *repositories.DistributionRepository
	sync          *SyncCoordinator
	loc           *time.Location
	now           func() time.Time
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(db *gorm.DB, sync *SyncCoordinator, loc *time.Location) *DashboardService {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardService{
		db:            db,
		donations:     repositories.NewDonationRepository(db),
		distributions: repositories.NewDistributionRepository(db),
		sync:          sync,
		loc:           loc,
		now:           time.Now,
	}
}

// ============================================================
// Admin Dashboard
// ============================================================

// DashboardData represents admin dashboard data
type DashboardData struct {
	// Donation Statistics
	PendingCount        int64 `json:"pending_count"`
	TodaysCollectionSum int64 `json:"todays_collection_sum"`
	TotalCollected      int64 `json:"total_collected"`
	TotalDistributed    int64 `json:"total_distributed"`

	// Ledger
	LedgerHealth  bool             `json:"ledger_health"`
	LedgerHeight  uint64           `json:"ledger_height"`
	Ledger        LedgerHealth     `json:"ledger"`
	SyncStatus    map[string]int64 `json:"sync_status"`
	OutboxEntries map[string]int64 `json:"outbox_entries"`

	// Recent Activity
	RecentDonations []DonationSummary `json:"recent_donations"`

	// Top Officers
	TopOfficers []OfficerStats `json:"top_officers"`
}

// DonationSummary represents donation summary
type DonationSummary struct {
	ID         string    `json:"id"`
	DonorName  string    `json:"donor_name"`
	Amount     int64     `json:"amount"`
	ZakatType  string    `json:"zakat_type"`
	Status     string    `json:"status"`
	SyncStatus string    `json:"sync_status"`
	CreatedAt  time.Time `json:"created_at"`
}

// OfficerStats represents per-referral-code statistics
type OfficerStats struct {
	ReferralCode string `json:"referral_code"`
	TotalCases   int64  `json:"total_cases"`
	TotalAmount  int64  `json:"total_amount"`
	Collected    int64  `json:"collected"`
	Distributed  int64  `json:"distributed"`
}

// GetDashboard returns admin dashboard data
func (s *DashboardService) GetDashboard(ctx context.Context) (*DashboardData, error) {
	data := &DashboardData{SyncStatus: map[string]int64{}}
	var err error

	if data.PendingCount, err = s.donations.CountByStatus(ctx, string(domain.StatusPending)); err != nil {
		return nil, err
	}

	local := s.now().In(s.loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	if data.TodaysCollectionSum, err = s.donations.SumValidatedBetween(ctx, startOfDay.UTC(), startOfDay.AddDate(0, 0, 1).UTC()); err != nil {
		return nil, err
	}

	data.TotalCollected, err = s.donations.SumAmountByStatuses(ctx,
		[]string{string(domain.StatusCollected), string(domain.StatusDistributed)})
	if err != nil {
		return nil, err
	}
	if data.TotalDistributed, err = s.distributions.SumAll(ctx); err != nil {
		return nil, err
	}

	for _, status := range []domain.SyncStatus{domain.SyncSynced, domain.SyncPending, domain.SyncError} {
		n, err := s.donations.CountBySyncStatus(ctx, string(status))
		if err != nil {
			return nil, err
		}
		data.SyncStatus[string(status)] = n
	}

	health := s.sync.LedgerHealth()
	data.Ledger = health
	data.LedgerHealth = health.Healthy
	data.LedgerHeight = health.Height
	if data.OutboxEntries, err = s.sync.OutboxDepth(ctx); err != nil {
		return nil, err
	}

	// Recent donations
	var recent []models.Donation
	err = s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(10).
		Find(&recent).Error
	if err != nil {
		return nil, err
	}
	data.RecentDonations = make([]DonationSummary, len(recent))
	for i, d := range recent {
		data.RecentDonations[i] = DonationSummary{
			ID:         d.ID,
			DonorName:  d.DonorName,
			Amount:     d.Amount,
			ZakatType:  d.ZakatType,
			Status:     d.Status,
			SyncStatus: d.SyncStatus,
			CreatedAt:  d.CreatedAt,
		}
	}

	// Top officers by referral code
	var topOfficers []OfficerStats
	err = s.db.WithContext(ctx).Table("donations").
		Select(`
			referral_code,
			COUNT(*) as total_cases,
			COALESCE(SUM(amount), 0) as total_amount,
			SUM(CASE WHEN status = 'collected' THEN 1 ELSE 0 END) as collected,
			SUM(CASE WHEN status = 'distributed' THEN 1 ELSE 0 END) as distributed
		`).
		Where("referral_code IS NOT NULL AND referral_code <> ''").
		Group("referral_code").
		Order("total_cases DESC").
		Limit(5).
		Scan(&topOfficers).Error
	if err != nil {
		return nil, err
	}
	if topOfficers == nil {
		topOfficers = []OfficerStats{}
	}
	data.TopOfficers = topOfficers

	return data, nil
}
