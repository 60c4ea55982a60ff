package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/api/handlers"
	"github.com/heimdall-labs/heimdall/internal/api/middleware"
	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/breaker"
	"github.com/heimdall-labs/heimdall/internal/config"
	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/models"
	"github.com/heimdall-labs/heimdall/internal/services"
)

// Migrate applies the schema for every persisted model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.AuditEntry{},
		&models.BreakerState{},
		&models.ParamOverride{},
		&models.AlertProvider{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Register wires up the API surface. Everything except health and metrics
// sits behind JWT auth; the mutating control endpoints additionally require
// the admin role (the multisig itself is checked by the coordinator).
func Register(
	router *gin.Engine,
	db *gorm.DB,
	cfg config.Config,
	coord *control.Coordinator,
	registry *breaker.Registry,
	store *audit.Store,
	alerts *services.AlertService,
	promRegistry *prometheus.Registry,
) {
	router.GET("/api/v1/health", handlers.HealthHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1", middleware.RequireAuth(cfg.JWTSecret))

	controlHandler := handlers.NewControlHandler(coord, registry)
	auditHandler := handlers.NewAuditHandler(store)
	providerHandler := handlers.NewAlertProviderHandler(alerts)

	// Read-only surface, any authenticated role.
	api.GET("/controls/status", controlHandler.Status)
	api.GET("/controls/status/:module", controlHandler.Status)
	api.GET("/controls/params", controlHandler.ParamOverrides)
	api.POST("/controls/verify", controlHandler.Verify)
	api.GET("/audit", auditHandler.List)
	api.GET("/audit/verify", auditHandler.VerifyChain)
	api.GET("/audit/tampering", auditHandler.DetectTampering)
	api.GET("/audit/:id", auditHandler.Get)

	// Mutating surface, admin role on top of the multisig gate.
	admin := api.Group("/", middleware.RequireRole("admin"))
	admin.POST("/controls/pause", controlHandler.Pause)
	admin.POST("/controls/resume", controlHandler.Resume)
	admin.POST("/controls/emergency/halt", controlHandler.EmergencyHalt)
	admin.POST("/controls/emergency/resume-all", controlHandler.EmergencyResumeAll)
	admin.POST("/controls/params/override", controlHandler.OverrideParams)

	admin.GET("/alerts/providers", providerHandler.List)
	admin.POST("/alerts/providers", providerHandler.Create)
	admin.PUT("/alerts/providers/:id", providerHandler.Update)
	admin.DELETE("/alerts/providers/:id", providerHandler.Delete)
	admin.POST("/alerts/providers/:id/test", providerHandler.Test)
}
