package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/dbtest"
	"zakat-ledger/internal/adapters/persistence/models"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/core/domain"
	"zakat-ledger/internal/pkg/pagination"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDonationLifecycle(t *testing.T) {
	chain := ledger.NewMemoryLedger()
	f := newFixture(t, chain)
	ctx := context.Background()

	created := f.create(t, 100000)
	assert.Equal(t, "ZKT-YDSF-MLG-202503-0001", created.ID)
	assert.Equal(t, string(domain.StatusPending), created.Status)
	assert.Equal(t, string(domain.SyncPending), created.SyncStatus)
	assert.Equal(t, domain.OrgMalang, created.Organization)

	collected, err := f.donations.ValidatePayment(ctx, created.ID, "TRF-001", officer)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCollected), collected.Status)
	assert.Equal(t, "TRF-001", *collected.PaymentReference)
	assert.Equal(t, officer.ID, *collected.ValidatedBy)
	require.NotNil(t, collected.ValidatedAt)

	distributed, dist, err := f.donations.Distribute(ctx, created.ID, DistributeInput{Recipient: "Panti Asuhan", Amount: 100000}, officer)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusDistributed), distributed.Status)
	assert.Equal(t, int64(100000), dist.Amount)
	require.NotNil(t, distributed.Distribution)
	assert.Equal(t, dist.ID, distributed.Distribution.ID)

	page, err := f.queries.ListDonations(ctx,
		repositories.DonationFilter{Status: string(domain.StatusDistributed)},
		&pagination.Params{Limit: 10})
	require.NoError(t, err)
	items := page.Items.([]models.Donation)
	require.Len(t, items, 1)
	assert.Equal(t, created.ID, items[0].ID)

	// three transitions staged in order
	entries := f.entries(t, created.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.FnAddZakat, entries[0].Operation)
	assert.Equal(t, ledger.FnValidatePayment, entries[1].Operation)
	assert.Equal(t, ledger.FnDistributeZakat, entries[2].Operation)
	assert.Equal(t, created.ID+"#3", entries[2].IdempotencyToken)

	f.drain(t)

	final := f.reload(t, created.ID)
	assert.Equal(t, string(domain.SyncSynced), final.SyncStatus)
	assert.NotNil(t, final.LedgerTxID)
	assert.NotNil(t, final.SyncedAt)
	require.NotNil(t, final.Distribution)
	assert.NotNil(t, final.Distribution.LedgerTxID)
	assert.Empty(t, f.entries(t, created.ID))

	record, ok := chain.Record(created.ID)
	require.True(t, ok)
	assert.Equal(t, "distributed", record.Status)
	assert.Equal(t, "TRF-001", record.ReceiptNumber)

	trail, err := f.queries.AuditTrail(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, AuditActionCreated, trail[0].Action)
	assert.Equal(t, AuditActionPaymentValidated, trail[1].Action)
	assert.Equal(t, AuditActionDistributed, trail[2].Action)
	assert.Equal(t, officer.ID, trail[2].PerformedBy)

	program, err := repositories.NewProgramRepository(f.db).GetByID(ctx, programMalang)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), program.CollectedAmount)
	assert.Equal(t, int64(100000), program.DistributedAmount)
}

func TestDistributePendingDonationFails(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()
	d := f.create(t, 50000)

	_, _, err := f.donations.Distribute(ctx, d.ID, DistributeInput{Amount: 50000}, officer)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	var transition *domain.InvalidTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, domain.StatusPending, transition.From)

	after := f.reload(t, d.ID)
	assert.Equal(t, string(domain.StatusPending), after.Status)
	assert.Nil(t, after.Distribution)
	assert.Len(t, f.entries(t, d.ID), 1)
}

func TestValidatePaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()
	d := f.create(t, 75000)

	first, err := f.donations.ValidatePayment(ctx, d.ID, "TRF-9", officer)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.donations.ValidatePayment(ctx, d.ID, "TRF-9", officer)
	require.NoError(t, err)
	assert.Equal(t, first.ValidatedAt.Unix(), second.ValidatedAt.Unix())
	assert.Equal(t, first.TransitionSeq, second.TransitionSeq)

	// no second audit row and no second ledger submission
	trail, err := f.audit.Trail(ctx, AuditEntityDonation, d.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 2)
	assert.Len(t, f.entries(t, d.ID), 2)

	_, err = f.donations.ValidatePayment(ctx, d.ID, "TRF-10", officer)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestValidatePaymentDefaultsReference(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	d := f.create(t, 1000)

	got, err := f.donations.ValidatePayment(context.Background(), d.ID, "  ", officer)
	require.NoError(t, err)
	assert.Equal(t, "RCPT-"+d.ID, *got.PaymentReference)
}

func TestTransitionErrors(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()

	_, err := f.donations.ValidatePayment(ctx, "ZKT-YDSF-MLG-202503-0999", "R", officer)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	d := f.create(t, 1000)
	_, err = f.donations.ValidatePayment(ctx, d.ID, "R", domain.Actor{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.donations.ValidatePayment(ctx, d.ID, "R", officer)
	require.NoError(t, err)

	_, _, err = f.donations.Distribute(ctx, d.ID, DistributeInput{Amount: 1001}, officer)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, _, err = f.donations.Distribute(ctx, d.ID, DistributeInput{Amount: -1}, officer)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// zero amount distributes the remaining balance
	_, dist, err := f.donations.Distribute(ctx, d.ID, DistributeInput{}, officer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), dist.Amount)
	assert.Equal(t, defaultRecipient, dist.Recipient)

	_, _, err = f.donations.Distribute(ctx, d.ID, DistributeInput{}, officer)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// a distributed donation never moves back
	_, err = f.donations.ValidatePayment(ctx, d.ID, "OTHER", officer)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.donations.ValidatePayment(ctx, d.ID, "R", officer)
	assert.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	retired := dbtest.SeedOfficer(t, f.db, "OFF-YDSF-2024-0077", "REF777")
	require.NoError(t, f.db.Model(retired).Update("is_active", false).Error)

	tests := []struct {
		name  string
		mod   func(*CreateDonationInput)
		field string
	}{
		{"zero amount", func(in *CreateDonationInput) { in.Amount = 0 }, "amount"},
		{"negative amount", func(in *CreateDonationInput) { in.Amount = -5 }, "amount"},
		{"bad type", func(in *CreateDonationInput) { in.ZakatType = "sadaqah" }, "type"},
		{"missing name", func(in *CreateDonationInput) { in.DonorName = " " }, "name"},
		{"missing phone", func(in *CreateDonationInput) { in.DonorPhone = "" }, "phone"},
		{"bad payment method", func(in *CreateDonationInput) { in.PaymentMethod = "cheque" }, "payment_method"},
		{"malformed program", func(in *CreateDonationInput) { in.ProgramID = "PROG-X" }, "program_id"},
		{"unknown program", func(in *CreateDonationInput) { in.ProgramID = "PROG-YDSF-2024-0077" }, "program_id"},
		{"unknown referral", func(in *CreateDonationInput) { in.ReferralCode = "REF404" }, "referral_code"},
		{"inactive officer", func(in *CreateDonationInput) { in.ReferralCode = "REF777" }, "referral_code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := CreateDonationInput{DonorName: "Ahmad", DonorPhone: "0812", Amount: 1000, ZakatType: "maal"}
			tt.mod(&in)

			_, err := f.donations.Create(context.Background(), in)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// nothing consumed a sequence number
	d := f.create(t, 1000)
	assert.Equal(t, "ZKT-YDSF-MLG-202503-0001", d.ID)
}

func TestCreateUsesProgramOrganization(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())

	jtm := f.create(t, 1000, func(in *CreateDonationInput) { in.ProgramID = programJatim })
	assert.Equal(t, "ZKT-YDSF-JTM-202503-0001", jtm.ID)
	assert.Equal(t, domain.OrgJatim, jtm.Organization)

	general := f.create(t, 1000, func(in *CreateDonationInput) { in.ProgramID = "" })
	assert.Equal(t, "ZKT-YDSF-MLG-202503-0001", general.ID)
	assert.Nil(t, general.ProgramID)
}

func TestIDPeriodFollowsLocalTime(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	// 20:00 UTC on 31 March is already April in WIB
	f.clock.Set(time.Date(2025, 3, 31, 20, 0, 0, 0, time.UTC))

	d := f.create(t, 1000)
	assert.Equal(t, "ZKT-YDSF-MLG-202504-0001", d.ID)
}

func TestIDSequenceSurvivesRestart(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	f.create(t, 1000)
	f.create(t, 1000)

	// a fresh service over the same database picks up where the last one stopped
	ids := NewIDGenerator(repositories.NewSequenceRepository(f.db), wib)
	restarted := NewDonationService(f.db, ids, NewMemoryKeyLocker(), f.audit, f.sync, nil, testOrgConfig(), f.sync.log)
	restarted.now = f.clock.Now

	d, err := restarted.Create(context.Background(), CreateDonationInput{
		DonorName: "Budi", DonorPhone: "0812", Amount: 5000, ZakatType: "fitrah",
	})
	require.NoError(t, err)
	assert.Equal(t, "ZKT-YDSF-MLG-202503-0003", d.ID)
}

func TestIDSequenceExhausted(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	require.NoError(t, f.db.Create(&models.IDSequence{OrgCode: "MLG", Period: "202503", LastValue: domain.MaxDonationSequence}).Error)

	_, err := f.donations.Create(context.Background(), CreateDonationInput{
		DonorName: "Ahmad", DonorPhone: "0812", Amount: 1000, ZakatType: "maal",
	})
	assert.ErrorIs(t, err, domain.ErrSequenceExhausted)

	// the failed attempt gave its number back
	current, err := repositories.NewSequenceRepository(f.db).Current(context.Background(), "MLG", "202503")
	require.NoError(t, err)
	assert.Equal(t, domain.MaxDonationSequence, current)
}

func TestConcurrentDistributeAppliesOnce(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryLedger())
	ctx := context.Background()
	d := f.create(t, 10000)
	_, err := f.donations.ValidatePayment(ctx, d.ID, "R", officer)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = f.donations.Distribute(ctx, d.ID, DistributeInput{Amount: 10000}, officer)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)

	sum, err := repositories.NewDistributionRepository(f.db).SumByDonation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), sum)
	assert.Equal(t, 0, f.locks.Len())
}
