package handlers

import (
	"strings"

	"zakat-ledger/internal/core/services"
	"zakat-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// DonationHandler handles the public donation endpoints
type DonationHandler struct {
	donationService *services.DonationService
	queryService    *services.QueryService
}

// NewDonationHandler creates a new donation handler
func NewDonationHandler(donationService *services.DonationService, queryService *services.QueryService) *DonationHandler {
	return &DonationHandler{
		donationService: donationService,
		queryService:    queryService,
	}
}

// CreateDonationRequest is the public donation submission
type CreateDonationRequest struct {
	Name          string `json:"name" example:"Ahmad Fauzi"`
	Phone         string `json:"phone" example:"081234567890"`
	Email         string `json:"email,omitempty" example:"ahmad@example.com"`
	Amount        int64  `json:"amount" example:"250000"`
	Type          string `json:"type" example:"maal"`
	PaymentMethod string `json:"payment_method,omitempty" example:"transfer"`
	ProgramID     string `json:"program_id,omitempty" example:"PROG-YDSF-2024-0001"`
	ReferralCode  string `json:"referral_code,omitempty" example:"REF001"`

	// camelCase spellings of the optional references
	ProgramIDAlias    string `json:"programId,omitempty" swaggerignore:"true"`
	ReferralCodeAlias string `json:"referralCode,omitempty" swaggerignore:"true"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Create submits a new donation
// @Summary Submit donation
// @Description Record a zakat donation. The donation starts pending and is queued for the ledger.
// @Tags Donations
// @Accept json
// @Produce json
// @Param request body CreateDonationRequest true "Donation"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /donations [post]
func (h *DonationHandler) Create(c *fiber.Ctx) error {
	var req CreateDonationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	donation, err := h.donationService.Create(c.UserContext(), services.CreateDonationInput{
		DonorName:     strings.TrimSpace(req.Name),
		DonorPhone:    strings.TrimSpace(req.Phone),
		DonorEmail:    strings.TrimSpace(req.Email),
		Amount:        req.Amount,
		ZakatType:     req.Type,
		PaymentMethod: req.PaymentMethod,
		ProgramID:     firstNonEmpty(req.ProgramID, req.ProgramIDAlias),
		ReferralCode:  firstNonEmpty(req.ReferralCode, req.ReferralCodeAlias),
	})
	if err != nil {
		return respondError(c, err, "Failed to create donation")
	}

	return response.Created(c, "Donation recorded", donation)
}

// GetByID returns one donation with its sync status
// @Summary Get donation
// @Description Get a donation by ID, including lifecycle and ledger sync status
// @Tags Donations
// @Produce json
// @Param id path string true "Donation ID" example(ZKT-YDSF-MLG-202503-0001)
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /donations/{id} [get]
func (h *DonationHandler) GetByID(c *fiber.Ctx) error {
	donation, err := h.donationService.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Failed to get donation")
	}

	return response.Success(c, "Donation retrieved successfully", donation)
}

// ListPrograms returns the active program catalogue
// @Summary List programs
// @Description List active zakat programs
// @Tags Programs
// @Produce json
// @Success 200 {object} response.Response
// @Router /programs [get]
func (h *DonationHandler) ListPrograms(c *fiber.Ctx) error {
	programs, err := h.queryService.ListPrograms(c.UserContext())
	if err != nil {
		return response.InternalServerError(c, "Failed to list programs")
	}

	return response.Success(c, "Programs retrieved successfully", programs)
}
