package services

import (
	"context"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/pagination"

	"gorm.io/gorm"
)

// unassignedProgram groups donations without a program in reports
const unassignedProgram = "unassigned"

// Bucket is a count and amount total
type Bucket struct {
	Count int64 `json:"count"`
	Total int64 `json:"total"`
}

// DailyReport aggregates donations created on one calendar day
type DailyReport struct {
	Date      string            `json:"date"`
	Timezone  string            `json:"timezone"`
	Count     int64             `json:"count"`
	Total     int64             `json:"total"`
	ByStatus  map[string]Bucket `json:"by_status"`
	ByType    map[string]Bucket `json:"by_type"`
	ByProgram map[string]Bucket `json:"by_program"`
}

// QueryService serves read paths from the database only. Results reflect
// committed local state; callers needing ledger confirmation check sync_status.
type QueryService struct {
	donations *repositories.DonationRepository
	programs  *repositories.ProgramRepository
	audit     *AuditService
	loc       *time.Location
	now       func() time.Time
}

// NewQueryService creates a new query service
func NewQueryService(db *gorm.DB, audit *AuditService, loc *time.Location) *QueryService {
	if loc == nil {
		loc = time.UTC
	}
	return &QueryService{
		donations: repositories.NewDonationRepository(db),
		programs:  repositories.NewProgramRepository(db),
		audit:     audit,
		loc:       loc,
		now:       time.Now,
	}
}

// Today is the current calendar date in the configured timezone
func (s *QueryService) Today() string {
	return s.now().In(s.loc).Format("2006-01-02")
}

// ListDonations returns one page of donations matching filter, newest first
func (s *QueryService) ListDonations(ctx context.Context, filter repositories.DonationFilter, params *pagination.Params) (*pagination.Response, error) {
	if filter.Status != "" && !domain.DonationStatus(filter.Status).Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "must be pending, collected or distributed"}
	}
	params = pagination.Normalize(params.Limit, params.Offset)

	items, total, err := s.donations.List(ctx, filter, params.Offset, params.Limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Donation{}
	}
	return pagination.NewResponse(items, params, total), nil
}

// ListPrograms returns the active programs
func (s *QueryService) ListPrograms(ctx context.Context) ([]models.Program, error) {
	programs, err := s.programs.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if programs == nil {
		programs = []models.Program{}
	}
	return programs, nil
}

// DailyReport aggregates donations created on date (YYYY-MM-DD) in the
// configured timezone
func (s *QueryService) DailyReport(ctx context.Context, date string) (*DailyReport, error) {
	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return nil, &domain.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	from := day.UTC()
	to := day.AddDate(0, 0, 1).UTC()

	rows, err := s.donations.AggregateCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &DailyReport{
		Date:      date,
		Timezone:  s.loc.String(),
		ByStatus:  map[string]Bucket{},
		ByType:    map[string]Bucket{},
		ByProgram: map[string]Bucket{},
	}
	for _, row := range rows {
		report.Count += row.Count
		report.Total += row.Total
		addBucket(report.ByStatus, row.Status, row)
		addBucket(report.ByType, row.ZakatType, row)

		program := unassignedProgram
		if row.ProgramID != nil && *row.ProgramID != "" {
			program = *row.ProgramID
		}
		addBucket(report.ByProgram, program, row)
	}
	return report, nil
}

func addBucket(m map[string]Bucket, key string, row repositories.AggregateRow) {
	b := m[key]
	b.Count += row.Count
	b.Total += row.Total
	m[key] = b
}

// AuditTrail returns a donation's audit entries, oldest first
func (s *QueryService) AuditTrail(ctx context.Context, donationID string) ([]models.AuditLog, error) {
	if _, err := s.donations.GetByID(ctx, donationID); err != nil {
		return nil, err
	}
	return s.audit.Trail(ctx, AuditEntityDonation, donationID)
}
