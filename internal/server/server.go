package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/heimdall-labs/heimdall/internal/api/middleware"
	"github.com/heimdall-labs/heimdall/internal/api/routes"
	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/breaker"
	"github.com/heimdall-labs/heimdall/internal/config"
	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/services"
)

// Deps are the wired collaborators the HTTP layer exposes.
type Deps struct {
	DB           *gorm.DB
	Coordinator  *control.Coordinator
	Registry     *breaker.Registry
	Store        *audit.Store
	Alerts       *services.AlertService
	PromRegistry *prometheus.Registry
}

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine *gin.Engine
	cfg    config.Config
}

// New wires up the HTTP router and registers versioned routes.
func New(cfg config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(cfg.IsDevelopment()),
		middleware.SecurityHeaders(cfg.IsDevelopment()),
	)

	routes.Register(router, deps.DB, cfg, deps.Coordinator, deps.Registry, deps.Store, deps.Alerts, deps.PromRegistry)

	return &Server{Engine: router, cfg: cfg}
}

// Run starts the HTTP server with proper shutdown semantics.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
