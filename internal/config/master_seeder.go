package config

import (
	"context"
	"time"

	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SeedMasterData seeds the donation program catalogue and the referring
// officers. Rows that already exist are left alone.
func SeedMasterData(db *gorm.DB, log zerolog.Logger) error {
	ctx := context.Background()

	programs, err := seedPrograms(ctx, repositories.NewProgramRepository(db), log)
	if err != nil {
		return err
	}
	officers, err := seedOfficers(ctx, repositories.NewOfficerRepository(db), log)
	if err != nil {
		return err
	}

	log.Info().Int("programs", programs).Int("officers", officers).Msg("master data seeded")
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

func seedPrograms(ctx context.Context, repo *repositories.ProgramRepository, log zerolog.Logger) (int, error) {
	now := time.Now().UTC()
	programs := []models.Program{
		{
			ID:           "PROG-YDSF-2024-0001",
			Name:         "Zakat Fitrah Ramadhan",
			Description:  "Penyaluran zakat fitrah kepada mustahik menjelang Idul Fitri",
			Organization: "YDSF Malang",
			TargetAmount: int64Ptr(500_000_000),
			IsActive:     true,
		},
		{
			ID:           "PROG-YDSF-2024-0002",
			Name:         "Beasiswa Yatim Dhuafa",
			Description:  "Bantuan pendidikan untuk anak yatim dan dhuafa",
			Organization: "YDSF Malang",
			TargetAmount: int64Ptr(250_000_000),
			IsActive:     true,
		},
		{
			ID:           "PROG-YDSF-2024-0003",
			Name:         "Zakat Maal Produktif",
			Description:  "Modal usaha mikro bagi mustahik produktif",
			Organization: "YDSF Jatim",
			TargetAmount: int64Ptr(750_000_000),
			IsActive:     true,
		},
		{
			ID:           "PROG-YDSF-2024-0004",
			Name:         "Tanggap Bencana Jawa Timur",
			Description:  "Bantuan darurat untuk korban bencana",
			Organization: "YDSF Jatim",
			TargetAmount: int64Ptr(1_000_000_000),
			IsActive:     true,
		},
	}

	created := 0
	for i := range programs {
		p := &programs[i]
		p.CreatedAt = now
		p.UpdatedAt = now
		ok, err := repo.CreateIfMissing(ctx, p)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			log.Info().Str("program_id", p.ID).Str("name", p.Name).Msg("created program")
		}
	}
	return created, nil
}

func seedOfficers(ctx context.Context, repo *repositories.OfficerRepository, log zerolog.Logger) (int, error) {
	now := time.Now().UTC()
	officers := []models.Officer{
		{ID: "OFF-YDSF-2024-0001", Name: "Ahmad Petugas", ReferralCode: "REF001", IsActive: true},
		{ID: "OFF-YDSF-2024-0002", Name: "Siti Petugas", ReferralCode: "REF002", IsActive: true},
	}

	created := 0
	for i := range officers {
		o := &officers[i]
		o.CreatedAt = now
		o.UpdatedAt = now
		ok, err := repo.CreateIfMissing(ctx, o)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			log.Info().Str("officer_id", o.ID).Str("referral_code", o.ReferralCode).Msg("created officer")
		}
	}
	return created, nil
}
