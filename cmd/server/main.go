// Package main is the entry point for the portfolio decision engine. The
// engine screens the equity universe with a supervised ranking model,
// trains an allocation policy against a simulated portfolio environment,
// and turns policy targets into sequenced rebalance orders for the
// execution venue.
//
// Startup sequence:
//  1. Load configuration and strategy profiles
//  2. Open the model registry and the feature store mirror
//  3. Build one engine (ranking, policy, rebalancing) per strategy profile
//  4. Start the HTTP API, the fill stream and the job scheduler
//  5. Wait for shutdown signal and drain gracefully
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/clients/execution"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/database"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/features"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/policy"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/ranking"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/rebalancing"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/registry"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/training"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/reliability"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/scheduler"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/server"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

// Drift monitor defaults. The baseline approximates the training window of
// the production model; the recent window is one trading month.
const (
	driftBaselineDays  = 180
	driftRecentDays    = 30
	driftBuckets       = 10
	driftThreshold     = 0.2
	retrainWindowDays  = 365
	snapshotRetention  = 30 // Days of artifact snapshots kept in object storage
	scheduleRetrain    = "0 18 * * *"   // Daily after close
	scheduleRebalance  = "30 14 * * 1-5" // Weekday trading window
	scheduleMaintain   = "0 3 * * *"    // Nightly housekeeping
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting decision engine")

	profiles, err := config.LoadProfiles(cfg.ProfileDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy profiles")
	}
	if len(profiles) == 0 {
		log.Fatal().Str("dir", cfg.ProfileDir).Msg("No strategy profiles configured")
	}
	log.Info().Int("profiles", len(profiles)).Msg("Strategy profiles loaded")

	// Registry database: durable store for model versions and promotions.
	registryDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "registry.db"),
		Profile: database.ProfileRegistry,
		Name:    "registry",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open registry database")
	}
	defer registryDB.Close()

	reg, err := registry.New(registryDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model registry")
	}

	// Feature store mirror: written by the ingestion collaborator, read here.
	historyDB, err := features.OpenHistoryDB(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open feature store mirror")
	}
	defer historyDB.Close()
	if _, err := historyDB.Exec(features.Schema()); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply feature store schema")
	}
	featureRepo := features.NewRepository(historyDB, log)

	// Execution venue adapter plus the optional realtime fill stream.
	venue := execution.NewClient(cfg.VenueURL, log)
	var fillStream *execution.FillStream
	if cfg.VenueStreamURL != "" {
		fillStream = execution.NewFillStream(cfg.VenueStreamURL, func(batchID string, result domain.OrderResult) {
			log.Info().
				Str("batch_id", batchID).
				Str("ticker", result.Order.Ticker).
				Str("status", string(result.Status)).
				Int64("fill_shares", result.FillShares).
				Msg("Fill received")
		}, log)
		if err := fillStream.Start(); err != nil {
			log.Warn().Err(err).Msg("Fill stream unavailable, continuing without realtime fills")
		}
	}

	coordinator := training.NewCoordinator(log)
	monitor := features.NewDriftMonitor(featureRepo, features.MonitorConfig{
		BaselineDays: driftBaselineDays,
		RecentDays:   driftRecentDays,
		Buckets:      driftBuckets,
		Threshold:    driftThreshold,
	}, log)

	// One engine per strategy profile. Each gets its own deferral queue so
	// the scheduled window drains per strategy key.
	engines := make(map[domain.StrategyKey]*server.Engine, len(profiles))
	retrainers := make(map[domain.StrategyKey]scheduler.Retrainer, len(profiles))
	strategyKeys := make([]domain.StrategyKey, 0, len(profiles))
	windowJobs := make([]*scheduler.RebalanceWindowJob, 0, len(profiles))

	for key, profile := range profiles {
		rankingSvc := ranking.NewService(featureRepo, reg, profile, log)
		policySvc := policy.NewService(reg, profile, log)
		windowBuilder := policy.NewWindowBuilder(featureRepo, rankingSvc, profile.Screening.ShortlistSize, log)
		pipeline := policy.NewPipeline(windowBuilder, policySvc)
		rebalanceSvc := rebalancing.NewService(venue, profile, log)

		queue := scheduler.NewPendingQueue()
		engines[key] = &server.Engine{
			Ranking:    rankingSvc,
			Policy:     pipeline,
			Rebalancer: rebalanceSvc,
			Deferrals:  queue,
		}
		retrainers[key] = rankingSvc
		strategyKeys = append(strategyKeys, key)
		windowJobs = append(windowJobs, scheduler.NewRebalanceWindowJob(queue, rebalanceSvc, log))
	}

	// Optional artifact snapshots to object storage. The registry stays
	// authoritative; snapshots are a recovery path.
	var snapshots *reliability.ArtifactSnapshotService
	if cfg.S3Bucket != "" {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket: cfg.S3Bucket,
			Region: cfg.S3Region,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("Object storage unavailable, artifact snapshots disabled")
		} else {
			snapshots = reliability.NewArtifactSnapshotService(s3Client, reg, log)
		}
	}

	// Background jobs: drift-driven retrains, the scheduled rebalance
	// window and nightly maintenance.
	sched := scheduler.New(log)
	retrainJob := scheduler.NewRetrainCheckJob(monitor, retrainers, coordinator, retrainWindowDays, log)
	if err := sched.AddJob(scheduleRetrain, retrainJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register retrain check job")
	}
	for _, job := range windowJobs {
		if err := sched.AddJob(scheduleRebalance, job); err != nil {
			log.Fatal().Err(err).Msg("Failed to register rebalance window job")
		}
	}
	maintenanceJob := scheduler.NewMaintenanceJob(
		map[string]*database.DB{"registry": registryDB},
		snapshots,
		strategyKeys,
		snapshotRetention,
		log,
	)
	if err := sched.AddJob(scheduleMaintain, maintenanceJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:      log,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Handlers: server.NewHandlers(engines, coordinator, reg, log),
		System:   server.NewSystemHandlers(cfg.DataDir, log),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	sched.Stop()

	if fillStream != nil {
		if err := fillStream.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping fill stream")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Decision engine stopped")
}
