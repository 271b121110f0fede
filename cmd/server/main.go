// Package main is the entry point for the ERIS evaluation server. It wires
// the three databases, the repositories and services, the recurring jobs
// and the HTTP API, then blocks until a shutdown signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/eris/internal/config"
	"github.com/aristath/eris/internal/database"
	"github.com/aristath/eris/internal/modules/evaluation"
	"github.com/aristath/eris/internal/modules/indicators"
	"github.com/aristath/eris/internal/modules/panel"
	"github.com/aristath/eris/internal/modules/portfolio"
	"github.com/aristath/eris/internal/modules/regime"
	"github.com/aristath/eris/internal/modules/stress"
	"github.com/aristath/eris/internal/reliability"
	"github.com/aristath/eris/internal/scheduler"
	"github.com/aristath/eris/internal/server"
	"github.com/aristath/eris/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger exists yet at this point
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting ERIS")

	// Databases: the panel input, the durable result tables and the
	// ephemeral cache (job history).
	panelDB := openDatabase(log, filepath.Join(cfg.DataDir, "panel.db"), "panel", database.ProfileResults)
	defer panelDB.Close()
	resultsDB := openDatabase(log, filepath.Join(cfg.DataDir, "results.db"), "results", database.ProfileResults)
	defer resultsDB.Close()
	cacheDB := openDatabase(log, filepath.Join(cfg.DataDir, "cache.db"), "cache", database.ProfileCache)
	defer cacheDB.Close()

	databases := []*database.DB{panelDB, resultsDB, cacheDB}

	// Repositories
	panelRepo := panel.NewRepository(panelDB.Conn(), log)
	evalRepo := evaluation.NewRepository(resultsDB.Conn(), log)
	indicatorRepo := indicators.NewRepository(panelDB.Conn(), log)
	regimeRepo := regime.NewRepository(resultsDB.Conn(), log)
	stressRepo := stress.NewRepository(resultsDB.Conn(), log)
	portfolioRepo := portfolio.NewRepository(resultsDB.Conn(), log)
	jobHistory := scheduler.NewJobHistoryRepository(cacheDB.Conn(), log)

	// Services
	portfolioEval := portfolio.NewEvaluator(cfg.Frequency, log)
	evalService := evaluation.NewService(evaluation.ServiceConfig{
		FirstEvaluation: cfg.FirstEvaluation,
		RetrainEvery:    cfg.RetrainEvery,
		Frequency:       cfg.Frequency,
		Models:          cfg.Models,
		Seed:            cfg.Seed,
		MacroColumns:    cfg.MacroColumns,
	}, panelRepo, evalRepo, portfolioEval, portfolioRepo, log)

	labeler := regime.NewLabeler(cfg.RegimeStates, cfg.RegimeIterations, cfg.MinRegimeHistory,
		cfg.ReferenceColumn, cfg.Seed, log)
	composite := stress.NewComposite(cfg.StressWeights, log)
	refreshService := regime.NewRefreshService(labeler, composite, indicatorRepo, regimeRepo, stressRepo, log)

	maintenance := reliability.NewMaintenanceService(databases, log)

	// Recurring jobs
	sched := scheduler.New(jobHistory, log)
	registerJob(sched, log, "0 2 * * *", "regime-refresh", func(ctx context.Context) error {
		_, _, err := refreshService.Refresh()
		return err
	})
	registerJob(sched, log, "0 * * * *", "wal-checkpoint", func(ctx context.Context) error {
		return maintenance.CheckpointAll()
	})
	registerJob(sched, log, "0 4 * * 0", "vacuum", func(ctx context.Context) error {
		return maintenance.VacuumAll()
	})
	registerJob(sched, log, "0 5 * * 0", "integrity-check", func(ctx context.Context) error {
		return maintenance.IntegrityCheck()
	})

	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage client")
		}
		backupService := reliability.NewBackupService(s3Client, databases, cfg.DataDir, log)
		registerJob(sched, log, cfg.Backup.Schedule, "backup", func(ctx context.Context) error {
			if err := backupService.CreateAndUpload(ctx); err != nil {
				return err
			}
			return backupService.RotateOldBackups(ctx, 30)
		})
	}

	sched.Start()
	defer sched.Stop()

	// HTTP API
	hub := server.NewProgressHub(log)
	api := server.NewAPIHandlers(cfg.Frequency, cfg.MinRegimeSamples,
		evalService, evalRepo, panelRepo, indicatorRepo, regimeRepo, stressRepo,
		portfolioRepo, portfolioEval, refreshService, jobHistory, hub, log)
	system := server.NewSystemHandlers(cfg.DataDir, databases, log)

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		API:     api,
		System:  system,
		Hub:     hub,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("ERIS stopped")
}

// openDatabase opens and migrates one database, aborting startup on failure.
func openDatabase(log zerolog.Logger, path, name string, profile database.DatabaseProfile) *database.DB {
	db, err := database.New(database.Config{Path: path, Name: name, Profile: profile})
	if err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to apply schema")
	}
	return db
}

// registerJob schedules one recurring job; a bad cron expression is a
// configuration error and aborts startup.
func registerJob(sched *scheduler.Scheduler, log zerolog.Logger, spec, name string, fn func(ctx context.Context) error) {
	err := sched.Register(spec, scheduler.JobFunc{JobName: name, Fn: fn})
	if err != nil {
		log.Fatal().Err(err).Str("job", name).Msg("Failed to register job")
	}
}
