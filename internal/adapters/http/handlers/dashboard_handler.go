package handlers

import (
	"zakat-ledger/internal/core/services"
	"zakat-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// DashboardHandler handles dashboard endpoints
type DashboardHandler struct {
	dashboardService *services.DashboardService
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(dashboardService *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
	}
}

// GetDashboard returns dashboard metrics
// @Summary Dashboard
// @Description Donation totals, sync backlog and cached ledger health. Never calls the ledger.
// @Tags Dashboard
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /admin/dashboard [get]
func (h *DashboardHandler) GetDashboard(c *fiber.Ctx) error {
	data, err := h.dashboardService.GetDashboard(c.UserContext())
	if err != nil {
		return response.InternalServerError(c, "Failed to get dashboard")
	}

	return response.Success(c, "Dashboard retrieved successfully", data)
}
