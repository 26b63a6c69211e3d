package routes

import (
	"zakat-ledger/internal/adapters/http/handlers"
	"zakat-ledger/internal/adapters/http/middleware"
	"zakat-ledger/internal/config"
	"zakat-ledger/internal/core/services"
	"zakat-ledger/internal/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"gorm.io/gorm"
)

// Services groups the long-lived services shared between the HTTP layer and
// the background workers started in main
type Services struct {
	Donations    *services.DonationService
	Queries      *services.QueryService
	Sync         *services.SyncCoordinator
	Dashboard    *services.DashboardService
	Verification *services.VerificationService
}

// Setup configures all routes for the application
func Setup(app *fiber.App, db *gorm.DB, cfg *config.Config, svc *Services) {
	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, svc.Sync, cfg.AppMode)
	donationHandler := handlers.NewDonationHandler(svc.Donations, svc.Queries)
	adminHandler := handlers.NewAdminHandler(svc.Donations, svc.Queries, svc.Sync, svc.Verification)
	dashboardHandler := handlers.NewDashboardHandler(svc.Dashboard)

	// Health check & root routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.HealthCheck)

	// Prometheus scrape endpoint
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API v1 group
	apiV1 := app.Group("/api/v1")
	setupAPIV1Routes(apiV1, healthHandler, donationHandler, adminHandler, dashboardHandler, cfg)
}

// setupAPIV1Routes configures API v1 routes
func setupAPIV1Routes(
	router fiber.Router,
	healthHandler *handlers.HealthHandler,
	donationHandler *handlers.DonationHandler,
	adminHandler *handlers.AdminHandler,
	dashboardHandler *handlers.DashboardHandler,
	cfg *config.Config,
) {
	// API Info
	router.Get("/", healthHandler.APIInfo)

	// Public donation routes
	donationRoutes := router.Group("/donations")
	setupDonationRoutes(donationRoutes, donationHandler)

	// Public program catalogue
	router.Get("/programs", middleware.ProgramCatalogueCache(), donationHandler.ListPrograms)

	// Admin routes (Officer/Admin)
	adminRoutes := router.Group("/admin")
	adminRoutes.Use(middleware.NoCacheHeaders())
	adminRoutes.Use(middleware.AuthMiddleware(cfg))
	adminRoutes.Use(middleware.OfficerOrAdmin())
	setupAdminRoutes(adminRoutes, adminHandler, dashboardHandler)
}

// setupDonationRoutes configures public donation routes
func setupDonationRoutes(router fiber.Router, handler *handlers.DonationHandler) {
	router.Post("/", middleware.PublicSubmitLimiter(), handler.Create)
	router.Get("/:id", handler.GetByID)
}

// setupAdminRoutes configures officer and administrator routes
func setupAdminRoutes(router fiber.Router, handler *handlers.AdminHandler, dashboardHandler *handlers.DashboardHandler) {
	// Donations
	router.Get("/donations", handler.ListDonations)
	router.Post("/donations/:id/validate", handler.ValidatePayment)
	router.Post("/donations/:id/distribute", handler.Distribute)
	router.Get("/donations/:id/audit", handler.AuditTrail)

	// Reports
	router.Get("/dashboard", dashboardHandler.GetDashboard)
	router.Get("/reports/daily", handler.DailyReport)

	// Admin only: ledger operations
	router.Get("/donations/:id/verify", middleware.AdminOnly(), middleware.StrictRateLimiter(), handler.Verify)
	router.Post("/sync/:id/retry", middleware.AdminOnly(), handler.RetrySync)
}
