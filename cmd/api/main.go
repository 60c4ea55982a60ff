package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/heimdall-labs/heimdall/internal/api/routes"
	"github.com/heimdall-labs/heimdall/internal/audit"
	"github.com/heimdall-labs/heimdall/internal/breaker"
	"github.com/heimdall-labs/heimdall/internal/config"
	"github.com/heimdall-labs/heimdall/internal/control"
	"github.com/heimdall-labs/heimdall/internal/database"
	"github.com/heimdall-labs/heimdall/internal/logger"
	"github.com/heimdall-labs/heimdall/internal/metrics"
	"github.com/heimdall-labs/heimdall/internal/multisig"
	"github.com/heimdall-labs/heimdall/internal/server"
	"github.com/heimdall-labs/heimdall/internal/services"
	"github.com/heimdall-labs/heimdall/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Logging with rotation, to both stdout and file.
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		log.Fatalf("ensure log directory: %v", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "heimdall.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.IsDevelopment(), io.MultiWriter(os.Stdout, rotator))

	logger.Log().WithField("version", version.Full()).Infof("starting %s", version.Name)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("open database")
	}
	if err := routes.Migrate(db); err != nil {
		logger.Log().WithError(err).Fatal("migrate database")
	}

	// Multisig roster. A missing roster is fatal outside development;
	// in development a bootstrap 2-of-3 fixture keeps the server usable.
	var sigConfig *multisig.MultiSigConfig
	if cfg.SignersFile != "" {
		sigConfig, err = multisig.LoadConfig(cfg.SignersFile)
		if err != nil {
			logger.Log().WithError(err).Fatal("load signer roster")
		}
	} else {
		if !cfg.IsDevelopment() {
			logger.Log().Fatal("HEIMDALL_SIGNERS_FILE is required outside development")
		}
		logger.Log().Warn("No signer roster configured; using development bootstrap roster")
		sigConfig = multisig.DefaultConfig()
	}
	verifier, err := multisig.NewVerifier(sigConfig)
	if err != nil {
		logger.Log().WithError(err).Fatal("invalid signer roster")
	}

	store := audit.NewStore(db)

	registry, err := breaker.NewRegistry(db, nil)
	if err != nil {
		logger.Log().WithError(err).Fatal("restore breaker state")
	}
	defer registry.Close()

	coord := control.NewCoordinator(verifier, store, registry, db, cfg.MFAHash, cfg.AppendRetries)
	registry.SetAutoResumeHook(coord.HandleAutoResume)

	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)

	// Alert fan-out consumes control events off the critical path.
	alerts := services.NewAlertService(db)
	go alerts.Consume(coord.Events())

	// Periodic tamper detection over the trailing window.
	sweeper := cron.New()
	window := time.Duration(cfg.IntegritySweepWindowHours) * time.Hour
	if _, err := sweeper.AddFunc(cfg.IntegritySweepSchedule, func() {
		if _, _, err := coord.RunIntegritySweep(window); err != nil {
			logger.Log().WithError(err).Error("integrity sweep failed")
		}
	}); err != nil {
		logger.Log().WithError(err).Fatal("invalid integrity sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.Deps{
		DB:           db,
		Coordinator:  coord,
		Registry:     registry,
		Store:        store,
		Alerts:       alerts,
		PromRegistry: promRegistry,
	})
	logger.Log().WithField("port", cfg.HTTPPort).Info("listening")
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Fatal("server error")
	}
}
