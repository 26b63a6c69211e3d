package handlers

import (
	"zakat-ledger/internal/core/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db              *gorm.DB
	syncCoordinator *services.SyncCoordinator
	appMode         string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, syncCoordinator *services.SyncCoordinator, appMode string) *HealthHandler {
	return &HealthHandler{
		db:              db,
		syncCoordinator: syncCoordinator,
		appMode:         appMode,
	}
}

// Root handles root endpoint
// @Summary Root endpoint
// @Description Returns API status
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "running",
		"message": "Zakat Ledger API v1.0 is running",
		"mode":    h.appMode,
		"docs":    "/swagger/index.html",
	})
}

// HealthCheck handles health check
// @Summary Health check
// @Description Check database health and the last observed ledger state. The database decides the status code; a ledger outage only degrades.
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	dbStatus := "healthy"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
		dbStatus = "unhealthy"
	}

	ledger := h.syncCoordinator.LedgerHealth()
	ledgerStatus := "healthy"
	if !ledger.Healthy {
		ledgerStatus = "unhealthy"
	}

	status := "ok"
	code := fiber.StatusOK
	switch {
	case dbStatus != "healthy":
		status = "down"
		code = fiber.StatusServiceUnavailable
	case !ledger.Healthy:
		status = "degraded"
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"api":      "healthy",
			"database": dbStatus,
			"ledger":   ledgerStatus,
		},
		"ledger": ledger,
	})
}

// APIInfo handles API v1 info
// @Summary API v1 Info
// @Description Returns API v1 information
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1 [get]
func (h *HealthHandler) APIInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Zakat Ledger API v1.0",
		"version": "1.0.0",
	})
}
