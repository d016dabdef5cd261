package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"spinvault/auth"
	"spinvault/cache"
	"spinvault/chain"
	"spinvault/config"
	"spinvault/database"
	"spinvault/events"
	"spinvault/fairness"
	"spinvault/repository"
	"spinvault/server"
	"spinvault/service"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Run initializes and starts the application
func Run(ctx context.Context) error {
	cfg := config.Get()

	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	eventBus := events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus)

	redisCache, err := cache.New(cfg.RedisURL, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisCache.Close()
	redisCache.WireEvents(eventBus)

	chainClient := chain.NewRPCClient(cfg.ChainRPCURL, cfg.VaultAddress)

	tierTable := fairness.DefaultTierTable
	if err := tierTable.Validate(); err != nil {
		return fmt.Errorf("invalid tier table: %w", err)
	}

	accountService := service.NewAccountService(uowFactory)
	spinService := service.NewSpinService(uowFactory, tierTable)
	claimService := service.NewClaimService(uowFactory)
	epochService := service.NewEpochService(uowFactory)
	transferService := service.NewTransferService(uowFactory, chainClient)
	reconcilerService := service.NewReconcilerService(uowFactory, chainClient)

	// Boot tick ensures an active epoch exists before the API takes spins.
	if _, err := epochService.Tick(ctx); err != nil {
		return fmt.Errorf("failed to start epoch: %w", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CronSchedule, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := epochService.Tick(tickCtx); err != nil {
			log.WithError(err).Error("Epoch tick failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule epoch tick: %w", err)
	}
	if _, err := scheduler.AddFunc("@every 1m", func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := reconcilerService.Tick(tickCtx); err != nil {
			log.WithError(err).Error("Reconciler tick failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciler tick: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(server.Deps{
		Accounts:   accountService,
		Spins:      spinService,
		Claims:     claimService,
		Epochs:     epochService,
		Transfers:  transferService,
		Reconciler: reconcilerService,
		Verifier:   auth.NewVerifier(cfg.AuthWindow),
		Cache:      redisCache,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	return nil
}
