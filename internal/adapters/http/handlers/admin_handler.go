package handlers

import (
	"strings"

	"zakat-ledger/internal/adapters/http/middleware"
	"zakat-ledger/internal/adapters/persistence/repositories"
	"zakat-ledger/internal/core/services"
	"zakat-ledger/internal/pkg/pagination"
	"zakat-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler handles officer and administrator donation operations
type AdminHandler struct {
	donationService     *services.DonationService
	queryService        *services.QueryService
	syncCoordinator     *services.SyncCoordinator
	verificationService *services.VerificationService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	donationService *services.DonationService,
	queryService *services.QueryService,
	syncCoordinator *services.SyncCoordinator,
	verificationService *services.VerificationService,
) *AdminHandler {
	return &AdminHandler{
		donationService:     donationService,
		queryService:        queryService,
		syncCoordinator:     syncCoordinator,
		verificationService: verificationService,
	}
}

// ValidatePaymentRequest confirms receipt of funds
type ValidatePaymentRequest struct {
	PaymentReference string `json:"payment_reference,omitempty" example:"TRF-20250314-0091"`
}

// DistributeRequest disburses collected funds
type DistributeRequest struct {
	Recipient string `json:"recipient,omitempty" example:"Panti Asuhan Al-Ikhlas"`
	Amount    int64  `json:"amount,omitempty" example:"150000"`
}

// ListDonations returns a filtered page of donations
// @Summary List donations
// @Description List donations newest first. Filters combine with AND.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending | collected | distributed"
// @Param program_id query string false "Program ID (alias: programId)"
// @Param referral_code query string false "Officer referral code (alias: officer)"
// @Param donor_name query string false "Donor name (alias: donor)"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /admin/donations [get]
func (h *AdminHandler) ListDonations(c *fiber.Ctx) error {
	filter := repositories.DonationFilter{
		Status:       strings.TrimSpace(c.Query("status")),
		ProgramID:    queryParam(c, "program_id", "programId"),
		ReferralCode: queryParam(c, "referral_code", "officer", "referralCode"),
		DonorName:    queryParam(c, "donor_name", "donor"),
	}

	page, err := h.queryService.ListDonations(c.UserContext(), filter, pagination.GetParams(c))
	if err != nil {
		return respondError(c, err, "Failed to list donations")
	}

	return response.Success(c, "Donations retrieved successfully", page)
}

// ValidatePayment moves a pending donation to collected
// @Summary Validate payment
// @Description Confirm payment for a pending donation. Repeating with the same reference is a no-op.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Donation ID"
// @Param request body ValidatePaymentRequest false "Payment reference"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /admin/donations/{id}/validate [post]
func (h *AdminHandler) ValidatePayment(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	var req ValidatePaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}

	donation, err := h.donationService.ValidatePayment(c.UserContext(), c.Params("id"), strings.TrimSpace(req.PaymentReference), actor)
	if err != nil {
		return respondError(c, err, "Failed to validate payment")
	}

	return response.Success(c, "Payment validated", donation)
}

// Distribute moves a collected donation to distributed
// @Summary Distribute donation
// @Description Disburse collected funds. Amount defaults to the remaining balance.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Donation ID"
// @Param request body DistributeRequest false "Distribution"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /admin/donations/{id}/distribute [post]
func (h *AdminHandler) Distribute(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	var req DistributeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}

	donation, distribution, err := h.donationService.Distribute(c.UserContext(), c.Params("id"), services.DistributeInput{
		Recipient: strings.TrimSpace(req.Recipient),
		Amount:    req.Amount,
	}, actor)
	if err != nil {
		return respondError(c, err, "Failed to distribute donation")
	}

	return response.Success(c, "Donation distributed", fiber.Map{
		"donation":     donation,
		"distribution": distribution,
	})
}

// AuditTrail returns the audit entries of a donation
// @Summary Donation audit trail
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /admin/donations/{id}/audit [get]
func (h *AdminHandler) AuditTrail(c *fiber.Ctx) error {
	trail, err := h.queryService.AuditTrail(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to get audit trail")
	}

	return response.Success(c, "Audit trail retrieved successfully", trail)
}

// Verify compares the stored donation with the ledger record
// @Summary Verify donation on ledger
// @Description Query the ledger for the donation and report field mismatches (Admin only)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /admin/donations/{id}/verify [get]
func (h *AdminHandler) Verify(c *fiber.Ctx) error {
	result, err := h.verificationService.Verify(c.UserContext(), c.Params("id"))
	if err != nil {
		if isLedgerUnavailable(err) {
			return response.ServiceUnavailable(c, "Ledger unavailable", fiber.Map{"reason": err.Error()})
		}
		return respondError(c, err, "Failed to verify donation")
	}

	return response.Success(c, "Verification completed", result)
}

// RetrySync re-queues failed or rejected ledger submissions
// @Summary Retry ledger sync
// @Description Re-queue parked ledger submissions of a donation (Admin only)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /admin/sync/{id}/retry [post]
func (h *AdminHandler) RetrySync(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}

	queued, err := h.syncCoordinator.RetryDonation(c.UserContext(), c.Params("id"), actor)
	if err != nil {
		return respondError(c, err, "Failed to retry sync")
	}

	return response.Success(c, "Sync retry queued", fiber.Map{
		"donation_id": c.Params("id"),
		"queued":      queued,
	})
}

// DailyReport aggregates donations for one local calendar day
// @Summary Daily report
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param date query string false "YYYY-MM-DD, defaults to today"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /admin/reports/daily [get]
func (h *AdminHandler) DailyReport(c *fiber.Ctx) error {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		date = h.queryService.Today()
	}

	report, err := h.queryService.DailyReport(c.UserContext(), date)
	if err != nil {
		return respondError(c, err, "Failed to build daily report")
	}

	return response.Success(c, "Daily report retrieved successfully", report)
}

// queryParam returns the first non-empty value among keys. Filters use the
// donation's JSON field names; other spellings are accepted as aliases.
func queryParam(c *fiber.Ctx, keys ...string) string {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		values = append(values, c.Query(key))
	}
	return firstNonEmpty(values...)
}
