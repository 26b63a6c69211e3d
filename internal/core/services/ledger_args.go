package services

import (
	"strconv"
	"time"

	"zakat-ledger/internal/adapters/ledger"
	"zakat-ledger/internal/adapters/persistence/models"
)

// submission is one chaincode call waiting to be staged in the outbox
type submission struct {
	fn   string
	args []string
}

// catalogueActor is recorded as the creator of mirrored programs
const catalogueActor = "system"

func createProgramSubmission(p *models.Program) submission {
	target := int64(0)
	if p.TargetAmount != nil {
		target = *p.TargetAmount
	}
	start := p.CreatedAt.UTC()
	return submission{
		fn: ledger.FnCreateProgram,
		args: []string{
			p.ID,
			p.Name,
			p.Description,
			strconv.FormatInt(target, 10),
			start.Format(time.RFC3339),
			start.AddDate(1, 0, 0).Format(time.RFC3339),
			catalogueActor,
		},
	}
}

func registerOfficerSubmission(o *models.Officer) submission {
	return submission{
		fn:   ledger.FnRegisterOfficer,
		args: []string{o.ID, o.Name, o.ReferralCode},
	}
}

func addZakatSubmission(d *models.Donation) submission {
	return submission{
		fn: ledger.FnAddZakat,
		args: []string{
			d.ID,
			deref(d.ProgramID),
			d.DonorName,
			strconv.FormatInt(d.Amount, 10),
			d.ZakatType,
			d.PaymentMethod,
			d.Organization,
			deref(d.ReferralCode),
		},
	}
}

func validatePaymentSubmission(d *models.Donation) submission {
	return submission{
		fn:   ledger.FnValidatePayment,
		args: []string{d.ID, deref(d.PaymentReference), deref(d.ValidatedBy)},
	}
}

func distributeSubmission(d *models.Donation, dist *models.Distribution) submission {
	return submission{
		fn: ledger.FnDistributeZakat,
		args: []string{
			d.ID,
			dist.ID,
			dist.Recipient,
			strconv.FormatInt(dist.Amount, 10),
			dist.CreatedAt.UTC().Format(time.RFC3339),
			dist.DistributedBy,
		},
	}
}

// Each transition has a fixed seq, so a rebuilt entry carries the same
// idempotency token as the one it replaces
const (
	seqCreated     = 1
	seqValidated   = 2
	seqDistributed = 3
)

type sequencedSubmission struct {
	submission
	seq int
}

// submissionsFor rebuilds the full call history a donation implies, in order
func submissionsFor(d *models.Donation, dist *models.Distribution) []sequencedSubmission {
	subs := []sequencedSubmission{{addZakatSubmission(d), seqCreated}}
	if d.ValidatedAt != nil {
		subs = append(subs, sequencedSubmission{validatePaymentSubmission(d), seqValidated})
	}
	if dist != nil {
		subs = append(subs, sequencedSubmission{distributeSubmission(d, dist), seqDistributed})
	}
	return subs
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	return &s
}
